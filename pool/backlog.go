package pool

import (
	"container/list"

	"github.com/kilnproject/kiln/common/stats"
)

// backlog holds tickets that no worker has taken yet, as two lists keyed by
// urgency. Front is newest; dequeue consumes from the rear, urgent first.
//
// enqueue pushes at the front so a fresh submission goes ahead of older work
// of the same priority; pushBack appends at the rear so work re-parked from
// a vanishing worker keeps its position behind newer submissions.
type backlog struct {
	high *list.List // of *Ticket
	low  *list.List
	stat stats.StatsReceiver
}

func newBacklog(stat stats.StatsReceiver) *backlog {
	return &backlog{high: list.New(), low: list.New(), stat: stat}
}

func (b *backlog) listFor(t *Ticket) (*list.List, stats.Gauge) {
	if t.urgent {
		return b.high, b.stat.Gauge(stats.PoolBacklogHighGauge)
	}
	return b.low, b.stat.Gauge(stats.PoolBacklogLowGauge)
}

func (b *backlog) enqueue(t *Ticket) {
	q, gauge := b.listFor(t)
	el := q.PushFront(t)
	gauge.Update(int64(q.Len()))
	b.installHook(t, q, el, gauge)
}

func (b *backlog) pushBack(t *Ticket) {
	q, gauge := b.listFor(t)
	el := q.PushBack(t)
	gauge.Update(int64(q.Len()))
	b.installHook(t, q, el, gauge)
}

func (b *backlog) installHook(t *Ticket, q *list.List, el *list.Element, gauge stats.Gauge) {
	t.detach = func() {
		q.Remove(el)
		gauge.Update(int64(q.Len()))
		b.stat.Counter(stats.PoolCancelledCounter).Inc(1)
	}
}

// dequeue returns the oldest urgent ticket, else the oldest non-urgent
// ticket, else nil. The returned ticket's detach hook is cleared.
func (b *backlog) dequeue() *Ticket {
	for _, q := range []*list.List{b.high, b.low} {
		if el := q.Back(); el != nil {
			t := el.Value.(*Ticket)
			q.Remove(el)
			_, gauge := b.listFor(t)
			gauge.Update(int64(q.Len()))
			t.detach = nil
			return t
		}
	}
	return nil
}

func (b *backlog) len() int {
	return b.high.Len() + b.low.Len()
}

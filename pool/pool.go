// Package pool implements the scheduling core of the kiln build cluster:
// a two-priority backlog of submitted tickets, per-worker assignment queues,
// a placement policy that steers work toward cache-warm workers, and the
// worker lifecycle that reshapes the queues without losing or duplicating
// tickets.
//
// All pool state is serialized under one mutex. Pop releases the lock only
// while parked on a wait channel (the active gate, a worker's inactive-ready
// signal, or its running cond), so every invariant is re-established before
// any other operation can observe the state.
package pool

import (
	"container/list"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/kilnproject/kiln/common/stats"
)

// main is a sum type: either there are tickets waiting for workers (backlog)
// or workers waiting for tickets (ready list), never both.
type mainState interface {
	isMainState()
}

type mainBacklog struct {
	b *backlog
}

// mainReady holds workers parked in Pop, front newest. Assignment takes the
// rear worker, the one waiting longest.
type mainReady struct {
	q *list.List // of *readyEntry
}

func (*mainBacklog) isMainState() {}
func (*mainReady) isMainState()   {}

// readyEntry wraps a parked worker so the parked Pop and a stale-entry
// discard in add can't both unlink the same element.
type readyEntry struct {
	w       *Worker
	removed bool
}

type Pool struct {
	name string
	gate *Gate
	dao  CacheDAO
	stat stats.StatsReceiver

	mu           sync.Mutex
	main         mainState
	workers      map[string]*Worker
	connected    int64
	paused       int64
	ready        int64
	reregister   map[string][]chan struct{}
}

// New creates an empty pool. The stat receiver is scoped to the pool name.
func New(name string, dao CacheDAO, stat stats.StatsReceiver) *Pool {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Pool{
		name:       name,
		gate:       NewGate(true),
		dao:        dao,
		stat:       stat.Scope("pool", name),
		main:       &mainReady{q: list.New()},
		workers:    map[string]*Worker{},
		reregister: map[string][]chan struct{}{},
	}
}

func (p *Pool) Name() string { return p.name }

// Gate returns the pool-wide pause switch.
func (p *Pool) Gate() *Gate { return p.gate }

// Submit constructs a ticket for the item and places it. Never blocks on
// worker availability.
func (p *Pool) Submit(urgent bool, item Item) *Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := newTicket(p, urgent, item)
	p.add(t)
	return t
}

// add implements the placement policy. With a backlog, the ticket is parked.
// With ready workers, a cache-preferred worker gets it first; otherwise the
// longest-waiting ready worker does, at the non-cached cost.
func (p *Pool) add(t *Ticket) {
	for {
		switch m := p.main.(type) {
		case *mainBacklog:
			m.b.enqueue(t)
			return
		case *mainReady:
			if m.q.Len() == 0 {
				p.main = &mainBacklog{b: newBacklog(p.stat)}
				continue
			}
			if p.assignPreferred(t) {
				return
			}
			el := m.q.Back()
			re := el.Value.(*readyEntry)
			rs, running := re.w.state.(*runningState)
			if !running {
				// Stale entry; the worker left running without its pop
				// having woken yet. Drop it and retry.
				re.removed = true
				m.q.Remove(el)
				continue
			}
			rs.queue.enqueue(t.item.CostEstimate().NonCached, t, p.stat)
			p.markCached(t.item.CacheHint(), re.w.name)
			wake(rs.cond)
			return
		}
	}
}

// assignPreferred steers the ticket onto a running cache-warm worker, if one
// exists whose current workload does not exceed the ticket's non-cached
// cost. Among eligible workers the most loaded wins: that packs work onto
// already-warm workers up to the cap and keeps cold workers free for new
// hints. Ties break by the DAO's ascending name order.
func (p *Pool) assignPreferred(t *Ticket) bool {
	hint := t.item.CacheHint()
	if hint == "" {
		return false
	}
	candidates, err := p.dao.QueryCache(hint)
	if err != nil {
		log.WithFields(log.Fields{"pool": p.name, "hint": hint}).Error("Cache query failed: ", err)
		return false
	}
	maxWorkload := int64(t.item.CostEstimate().NonCached)
	var best *runningState
	bestLoad := int64(-1)
	for _, name := range candidates {
		w, ok := p.workers[name]
		if !ok {
			continue
		}
		rs, ok := w.state.(*runningState)
		if !ok {
			continue
		}
		if rs.queue.workload > maxWorkload {
			continue
		}
		if rs.queue.workload > bestLoad {
			best = rs
			bestLoad = rs.queue.workload
		}
	}
	if best == nil {
		return false
	}
	// The worker is already known to hold this hint; no markCached here.
	best.queue.enqueue(t.item.CostEstimate().Cached, t, p.stat)
	wake(best.cond)
	return true
}

// Pop blocks until an item is assigned to the worker, returning the accepted
// ticket. Returns ErrFinished once the worker has been released. Each worker
// is expected to have at most one Pop outstanding.
//
// A popping worker that pulls a hinted ticket from the backlog may steer it
// to a cache-preferred worker instead and keep looking; that is how cold
// workers avoid stealing cache-warm work.
func (p *Pool) Pop(w *Worker) (*Ticket, error) {
	p.mu.Lock()
	for {
		if ch := p.gate.waitChan(); ch != nil {
			p.mu.Unlock()
			<-ch
			p.mu.Lock()
			continue
		}
		switch st := w.state.(type) {
		case *finishedState:
			p.mu.Unlock()
			return nil, ErrFinished
		case *inactiveState:
			ready := st.ready
			p.mu.Unlock()
			<-ready
			p.mu.Lock()
			continue
		case *runningState:
			if e := st.queue.dequeue(); e != nil {
				t := e.ticket
				p.accept(t, w)
				p.mu.Unlock()
				return t, nil
			}
			switch m := p.main.(type) {
			case *mainReady:
				re := &readyEntry{w: w}
				readyList := m.q
				el := readyList.PushFront(re)
				cond := st.cond
				p.ready++
				p.stat.Gauge(stats.PoolReadyWorkersGauge).Update(p.ready)
				p.mu.Unlock()
				<-cond
				p.mu.Lock()
				if !re.removed {
					re.removed = true
					readyList.Remove(el)
				}
				p.ready--
				p.stat.Gauge(stats.PoolReadyWorkersGauge).Update(p.ready)
				continue
			case *mainBacklog:
				t := m.b.dequeue()
				if t == nil {
					p.main = &mainReady{q: list.New()}
					continue
				}
				if p.assignPreferred(t) {
					// Redirected to a cache-warm worker; keep looking.
					continue
				}
				p.accept(t, w)
				p.mu.Unlock()
				return t, nil
			}
		}
	}
}

func (p *Pool) accept(t *Ticket, w *Worker) {
	t.accepted = true
	p.markCached(t.item.CacheHint(), w.name)
	p.stat.Counter(stats.PoolAcceptedCounter).Inc(1)
	log.WithFields(log.Fields{
		"pool":   p.name,
		"worker": w.name,
		"ticket": t.id,
		"item":   t.item.String(),
	}).Debug("Accepted item")
}

func (p *Pool) markCached(hint, worker string) {
	if hint == "" {
		return
	}
	if err := p.dao.MarkCached(hint, worker); err != nil {
		log.WithFields(log.Fields{
			"pool":   p.name,
			"hint":   hint,
			"worker": worker,
		}).Error("Failed to record cache locality: ", err)
	}
}

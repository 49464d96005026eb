package pool

import (
	"container/list"

	"github.com/kilnproject/kiln/common/stats"
)

// Worker is a registered member of a pool. Its state is a sum type: exactly
// one of inactive, running, or finished. The shutdown flag is orthogonal;
// once set the worker can never return to running.
//
// All fields are guarded by the owning pool's lock. A worker never outlives
// its pool.
type Worker struct {
	name     string
	pool     *Pool
	state    workerState
	shutdown bool
}

func (w *Worker) Name() string { return w.name }

type workerState interface {
	isWorkerState()
}

// inactiveState holds a one-shot signal resolved when the worker is
// reactivated or finished, so a parked Pop can re-examine the state.
type inactiveState struct {
	ready chan struct{}
}

// runningState holds the worker's local assignment queue and the cond used
// to wake its pop loop on new work or a state change. The cond is a
// coalescing-wake channel: multiple signals reduce to one wakeup.
type runningState struct {
	queue *workerQueue
	cond  chan struct{}
}

type finishedState struct{}

func (*inactiveState) isWorkerState() {}
func (*runningState) isWorkerState()  {}
func (*finishedState) isWorkerState() {}

func newInactiveState() *inactiveState {
	return &inactiveState{ready: make(chan struct{})}
}

func newRunningState() *runningState {
	return &runningState{queue: newWorkerQueue(), cond: make(chan struct{}, 1)}
}

// wake signals a cond without blocking; a pending signal absorbs new ones.
func wake(cond chan struct{}) {
	select {
	case cond <- struct{}{}:
	default:
	}
}

// workerQueue is a worker's local list of assigned (cost, ticket) entries,
// newest at the front, consumed from the rear. workload is always the sum of
// the costs of the entries currently queued.
type workerQueue struct {
	entries  *list.List // of *queueEntry
	workload int64
}

type queueEntry struct {
	cost   uint32
	ticket *Ticket
}

func newWorkerQueue() *workerQueue {
	return &workerQueue{entries: list.New()}
}

// enqueue appends at the front and installs the detach hook that undoes the
// insertion and its workload accounting.
func (q *workerQueue) enqueue(cost uint32, t *Ticket, stat stats.StatsReceiver) {
	e := &queueEntry{cost: cost, ticket: t}
	el := q.entries.PushFront(e)
	q.workload += int64(cost)
	t.detach = func() {
		q.entries.Remove(el)
		q.workload -= int64(cost)
		stat.Counter(stats.PoolCancelledCounter).Inc(1)
	}
}

// dequeue pops from the rear, clearing the returned ticket's detach hook.
func (q *workerQueue) dequeue() *queueEntry {
	el := q.entries.Back()
	if el == nil {
		return nil
	}
	e := el.Value.(*queueEntry)
	q.entries.Remove(el)
	q.workload -= int64(e.cost)
	e.ticket.detach = nil
	return e
}

package pool

import (
	"context"

	"github.com/google/uuid"
)

// JobHandle is the external job capability attached by the worker side once
// it starts executing an accepted item.
type JobHandle interface{}

// Ticket is the handle returned to a submitter. A live, unaccepted ticket
// sits in exactly one queue (the backlog or one worker's local queue) and
// holds a detach hook that removes it from that queue. Acceptance and
// cancellation both clear the hook; the hook is only ever set or cleared
// together with the queue mutation it describes, under the pool lock.
type Ticket struct {
	id     string
	pool   *Pool
	item   Item
	urgent bool

	// Guarded by pool.mu.
	detach    func()
	accepted  bool
	cancelled bool

	jobCh chan JobHandle
}

func newTicket(p *Pool, urgent bool, item Item) *Ticket {
	return &Ticket{
		id:     uuid.New().String(),
		pool:   p,
		item:   item,
		urgent: urgent,
		jobCh:  make(chan JobHandle, 1),
	}
}

func (t *Ticket) ID() string   { return t.id }
func (t *Ticket) Item() Item   { return t.item }
func (t *Ticket) Urgent() bool { return t.urgent }

// Cancel removes the ticket from whichever queue currently holds it.
// Succeeds exactly once; a second call, or a call after the ticket was
// accepted by a worker, returns ErrNotQueued.
func (t *Ticket) Cancel() error {
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()
	if t.detach == nil {
		return ErrNotQueued
	}
	hook := t.detach
	t.detach = nil
	t.cancelled = true
	hook()
	return nil
}

// Accepted reports whether a worker has taken this ticket.
func (t *Ticket) Accepted() bool {
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()
	return t.accepted
}

// ResolveJob publishes the job capability for Await. Only the first resolve
// is observed.
func (t *Ticket) ResolveJob(h JobHandle) {
	select {
	case t.jobCh <- h:
	default:
	}
}

// Await blocks until the item has been accepted by a worker and its job
// capability resolved. A cancelled ticket never resolves; bound the wait
// with the context.
func (t *Ticket) Await(ctx context.Context) (JobHandle, error) {
	select {
	case h := <-t.jobCh:
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package pool

import "github.com/pkg/errors"

var (
	// ErrNameTaken is returned by Register when the worker name is already
	// present in the pool.
	ErrNameTaken = errors.New("worker name already registered")

	// ErrNotQueued is returned by Ticket.Cancel when the ticket has already
	// been accepted, already cancelled, or never queued.
	ErrNotQueued = errors.New("ticket is not queued")

	// ErrFinished is returned by Pop once the worker has been released, and
	// by lifecycle operations applied to a released worker.
	ErrFinished = errors.New("worker has been released")

	// ErrUnknownWorker is returned by admin operations naming a worker that
	// is not in the pool.
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrUpdateTimeout is returned when a worker does not re-register within
	// the update wait window.
	ErrUpdateTimeout = errors.New("timed out waiting for worker to re-register")
)

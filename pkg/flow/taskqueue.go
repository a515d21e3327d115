package flow

import "context"

// Task is a single unit of outbound work scheduled onto a named queue.
// Schedule stamps a stable ID on return.
type Task struct {
	Queue string
	Value []byte
	ID    string
}

// TaskQueue is the external contract described in §4.B: a durable FIFO
// per named queue with TTL-based retransmit, lease/delete, and coalescing
// notify. The core only ever depends on this interface; memqueue.Queue is
// the in-process reference implementation used by tests and by default
// when no external scheduler is configured.
type TaskQueue interface {
	// Schedule enqueues tasks, stamping each with a stable id before
	// returning. If sync is true the caller must be able to observe the
	// ids before proceeding (used by FlushMessages, which copies them
	// into RequestState.TSID).
	Schedule(ctx context.Context, tasks []Task, sync bool, token SecurityToken) ([]Task, error)

	// Delete best-effort dequeues the named tasks from queue.
	Delete(ctx context.Context, queue string, ids []string, token SecurityToken) error

	// Notify signals that sessionID has work pending on queue.
	// Notifications for the same session coalesce.
	Notify(ctx context.Context, queue string, sessionID string, token SecurityToken) error

	// Lease returns one or more session ids with pending notifications on
	// queue. The caller is responsible for locking each session before
	// processing it.
	Lease(ctx context.Context, queue string) ([]string, error)
}

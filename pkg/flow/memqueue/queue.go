// Package memqueue implements flow.TaskQueue as an in-process reference
// implementation: a channel-free, mutex-guarded FIFO per named queue with
// TTL-based task redelivery and coalescing session notifications. It is
// adapted from the teacher's background-uploader shape (pkg/flusher) —
// bounded work tracked under a mutex with a periodic sweep goroutine —
// generalized from fire-and-forget block uploads to a durable task/notify
// contract.
package memqueue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/fleetflow/internal/logger"
	"github.com/marmos91/fleetflow/pkg/flow"
)

type taskEntry struct {
	task        flow.Task
	scheduledAt time.Time
	deleted     bool
}

// Config controls redelivery timing.
type Config struct {
	// TTL is how long a scheduled task may go un-deleted before it is
	// considered for redelivery. Default: 30s.
	TTL time.Duration

	// SweepInterval is how often the redelivery sweep runs. Default: 5s.
	SweepInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{TTL: 30 * time.Second, SweepInterval: 5 * time.Second}
}

// Queue is an in-memory flow.TaskQueue.
type Queue struct {
	cfg Config

	mu            sync.Mutex
	tasks         map[string]map[string]*taskEntry // queue name -> task id -> entry
	notifications map[string]map[string]struct{}   // queue name -> pending session ids

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Queue and starts its redelivery sweep goroutine.
func New(cfg Config) *Queue {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	q := &Queue{
		cfg:           cfg,
		tasks:         make(map[string]map[string]*taskEntry),
		notifications: make(map[string]map[string]struct{}),
		stopCh:        make(chan struct{}),
	}
	q.wg.Add(1)
	go q.sweep()
	return q
}

// Stop halts the redelivery sweep goroutine.
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

// Schedule implements flow.TaskQueue.
func (q *Queue) Schedule(ctx context.Context, tasks []flow.Task, sync bool, token flow.SecurityToken) ([]flow.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]flow.Task, len(tasks))
	for i, t := range tasks {
		t.ID = uuid.NewString()
		if q.tasks[t.Queue] == nil {
			q.tasks[t.Queue] = make(map[string]*taskEntry)
		}
		q.tasks[t.Queue][t.ID] = &taskEntry{task: t, scheduledAt: time.Now()}
		out[i] = t
	}
	return out, nil
}

// Delete implements flow.TaskQueue.
func (q *Queue) Delete(ctx context.Context, queue string, ids []string, token flow.SecurityToken) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.tasks[queue]
	if entries == nil {
		return nil
	}
	for _, id := range ids {
		delete(entries, id)
	}
	return nil
}

// Notify implements flow.TaskQueue. Repeated notifications for the same
// session coalesce into a single pending entry.
func (q *Queue) Notify(ctx context.Context, queue string, sessionID string, token flow.SecurityToken) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.notifications[queue] == nil {
		q.notifications[queue] = make(map[string]struct{})
	}
	q.notifications[queue][sessionID] = struct{}{}
	return nil
}

// Lease implements flow.TaskQueue: returns every session with a pending
// notification on queue, clearing them.
func (q *Queue) Lease(ctx context.Context, queue string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.notifications[queue]
	if len(pending) == 0 {
		return nil, nil
	}
	sessions := make([]string, 0, len(pending))
	for s := range pending {
		sessions = append(sessions, s)
	}
	delete(q.notifications, queue)
	return sessions, nil
}

// sweep periodically re-notifies sessions whose own-queue tasks have aged
// past the TTL without being deleted, approximating the source's implicit
// task-TTL redelivery for the self-addressed CallState/SendReply path.
func (q *Queue) sweep() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.redeliverExpired()
		}
	}
}

func (q *Queue) redeliverExpired() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for queueName, entries := range q.tasks {
		// Only the self-addressed form (queue name looks like a session
		// id, i.e. contains "queue:hex") carries enough information to
		// redeliver as a Notify; client-directed tasks are redelivered by
		// the external client-delivery transport, outside this package's
		// contract.
		if !strings.Contains(queueName, ":") {
			continue
		}
		for _, entry := range entries {
			if entry.deleted {
				continue
			}
			if now.Sub(entry.scheduledAt) < q.cfg.TTL {
				continue
			}
			if q.notifications[queueName] == nil {
				q.notifications[queueName] = make(map[string]struct{})
			}
			q.notifications[queueName][queueName] = struct{}{}
			entry.scheduledAt = now
			logger.Debug("memqueue redelivered expired task", "queue", queueName, "task_id", entry.task.ID)
		}
	}
}

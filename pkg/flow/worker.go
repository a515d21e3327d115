package flow

import (
	"context"
	"time"

	"github.com/marmos91/fleetflow/internal/logger"
)

// Worker services a single named queue: it leases session notifications,
// locks the session, loads its flow, processes completed requests, saves
// it, and unlocks (§4.F). Concurrency across sessions is unbounded;
// concurrency within a session is serialized by the factory's per-session
// lock.
type Worker struct {
	Queue         string
	Factory       *Factory
	TaskQueue     TaskQueue
	Token         SecurityToken
	PollInterval  time.Duration
}

// NewWorker builds a Worker servicing queue.
func NewWorker(queue string, factory *Factory, taskQueue TaskQueue, token SecurityToken, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &Worker{Queue: queue, Factory: factory, TaskQueue: taskQueue, Token: token, PollInterval: pollInterval}
}

// Run leases and processes notifications until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.leaseAndProcess(ctx); err != nil {
				logger.ErrorCtx(ctx, "worker lease failed", "queue", w.Queue, "error", err)
			}
		}
	}
}

func (w *Worker) leaseAndProcess(ctx context.Context) error {
	sessions, err := w.TaskQueue.Lease(ctx, w.Queue)
	if err != nil {
		return err
	}
	for _, sessionID := range sessions {
		w.processOne(ctx, sessionID)
	}
	return nil
}

func (w *Worker) processOne(ctx context.Context, sessionID string) {
	unlock := w.Factory.Lock(sessionID)
	defer unlock()

	start := time.Now()
	fc, err := w.Factory.LoadFlow(ctx, sessionID, w.Token)
	if err != nil {
		logger.ErrorCtx(ctx, "worker load flow failed", "session_id", sessionID, "error", err)
		return
	}

	if err := fc.ProcessCompletedRequests(ctx); err != nil {
		logger.ErrorCtx(ctx, "worker process completed requests failed", "session_id", sessionID, "error", err)
		return
	}

	if err := w.Factory.SaveFlow(ctx, fc); err != nil {
		logger.ErrorCtx(ctx, "worker save flow failed", "session_id", sessionID, "error", err)
		return
	}

	logger.DebugCtx(ctx, "worker processed session", "session_id", sessionID, "queue", w.Queue, "duration_ms", time.Since(start).Milliseconds())
}

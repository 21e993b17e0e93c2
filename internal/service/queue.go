package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned by Enqueue after Drain was called.
var ErrQueueClosed = errors.New("job queue is closed")

// Worker processes one queued run.
type Worker func(ctx context.Context, runID string) error

// JobQueue is a strictly sequential FIFO over run IDs. A single pump
// goroutine runs the worker for one job at a time, in enqueue order. Worker
// errors and panics are logged and never stop the pump.
type JobQueue struct {
	ctx    context.Context
	worker Worker
	log    *slog.Logger

	mu       sync.Mutex
	items    []string
	running  bool          // pump goroutine alive
	inFlight bool          // worker currently executing
	idle     chan struct{} // closed when the current pump exits
	closed   bool
}

// NewJobQueue creates a queue. ctx is passed to every worker invocation and
// should live as long as the process.
func NewJobQueue(ctx context.Context, worker Worker, log *slog.Logger) *JobQueue {
	return &JobQueue{ctx: ctx, worker: worker, log: log}
}

// Enqueue appends runID and starts the pump if it is not running. It never
// blocks on the worker.
func (q *JobQueue) Enqueue(runID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("enqueue %s: %w", runID, ErrQueueClosed)
	}
	q.items = append(q.items, runID)
	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		go q.pump(q.idle)
	}
	return nil
}

// Size returns the number of waiting jobs plus one if a job is in flight.
func (q *JobQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if q.inFlight {
		n++
	}
	return n
}

// Drain stops accepting jobs and waits until every queued job has run or ctx
// is done. Jobs still queued when ctx expires stay in their queued status
// and are failed by stale-run recovery on the next start.
func (q *JobQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	idle := q.idle
	pending := len(q.items)
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain job queue (%d pending): %w", pending, ctx.Err())
	}
}

func (q *JobQueue) pump(idle chan struct{}) {
	defer close(idle)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.inFlight = false
			q.mu.Unlock()
			return
		}
		runID := q.items[0]
		q.items = q.items[1:]
		q.inFlight = true
		q.mu.Unlock()

		q.execute(runID)

		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()
	}
}

func (q *JobQueue) execute(runID string) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("run worker panicked", "run_id", runID, "panic", r)
		}
	}()

	if err := q.worker(q.ctx, runID); err != nil {
		q.log.Error("run failed", "run_id", runID, "error", err)
	}
}

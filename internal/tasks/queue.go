// Package tasks runs best-effort background work off the request path.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is one unit of background work.
type Task struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error
}

// Queue is a bounded queue drained by a fixed number of workers. Work that does
// not fit is dropped; callers must not depend on it for correctness.
type Queue struct {
	tasks   chan Task
	workers int
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

func NewQueue(size, workers int, timeout time.Duration, opts ...Option) *Queue {
	q := &Queue{
		tasks:   make(chan Task, size),
		workers: max(1, workers),
		timeout: timeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers. They stop when ctx is cancelled or Stop drains the queue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

// Enqueue schedules fn without blocking and reports whether it was accepted.
func (q *Queue) Enqueue(name string, fn func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}

	task := Task{ID: uuid.NewString(), Name: name, Run: fn}
	select {
	case q.tasks <- task:
		q.logger.Debug("task enqueued", "task", task.Name, "id", task.ID)
		return true
	default:
		q.logger.Warn("task queue full, dropping task", "task", task.Name, "id", task.ID)
		return false
	}
}

// Len is the number of tasks waiting for a worker.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Stop rejects new tasks and waits for queued ones to finish. When ctx expires
// first, running tasks are cancelled and the remaining ones are discarded.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return fmt.Errorf("stop task queue: %w", ctx.Err())
	}
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			q.run(ctx, task)
		}
	}
}

func (q *Queue) run(ctx context.Context, task Task) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "task", task.Name, "id", task.ID, "panic", r)
		}
	}()

	started := time.Now()
	if err := task.Run(ctx); err != nil {
		q.logger.Error("task failed", "task", task.Name, "id", task.ID, "error", err)
		return
	}
	q.logger.Debug("task finished", "task", task.Name, "id", task.ID, "elapsed", time.Since(started))
}

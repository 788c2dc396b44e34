package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// memoryQueueDepth bounds each in-process queue; sends beyond it block until
// the consumer catches up, mirroring broker backpressure.
const memoryQueueDepth = 1024

// MemoryQueue is an in-process JobQueue for tests and single-node
// deployments. Jobs survive only as long as the process does; anything that
// needs durability uses the Kafka or Postgres backend.
type MemoryQueue struct {
	logger *slog.Logger

	mu       sync.Mutex
	queues   map[string]chan []byte
	handlers map[string]Handler
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewMemoryQueue creates an in-process queue backend.
func NewMemoryQueue(logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		logger:   logger,
		queues:   make(map[string]chan []byte),
		handlers: make(map[string]Handler),
	}
}

// Start begins consuming every queue that has a registered handler.
func (q *MemoryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return ErrAlreadyStarted
	}

	if q.stopped {
		return ErrStopped
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.started = true

	for name, handler := range q.handlers {
		jobs, ok := q.queues[name]
		if !ok {
			cancel()
			q.started = false

			return fmt.Errorf("%w: %s", ErrUnknownQueue, name)
		}

		q.wg.Add(1)

		go q.consume(runCtx, name, jobs, handler)
	}

	return nil
}

// Stop cancels all consumers and waits for them to drain their current job.
func (q *MemoryQueue) Stop() error {
	q.mu.Lock()

	if q.stopped {
		q.mu.Unlock()

		return nil
	}

	q.stopped = true
	q.started = false

	if q.cancel != nil {
		q.cancel()
	}

	q.mu.Unlock()

	q.wg.Wait()

	return nil
}

// CreateQueue ensures the named queue exists.
func (q *MemoryQueue) CreateQueue(_ context.Context, name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}

	if _, ok := q.queues[name]; !ok {
		q.queues[name] = make(chan []byte, memoryQueueDepth)
	}

	return nil
}

// Send enqueues one JSON-marshalled payload.
func (q *MemoryQueue) Send(ctx context.Context, queue string, payload any) error {
	q.mu.Lock()

	if !q.started {
		q.mu.Unlock()

		return ErrNotStarted
	}

	jobs, ok := q.queues[queue]
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	select {
	case jobs <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Work registers the handler for the named queue. Must be called before
// Start.
func (q *MemoryQueue) Work(queue string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return ErrAlreadyStarted
	}

	if _, ok := q.handlers[queue]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, queue)
	}

	q.handlers[queue] = handler

	return nil
}

// Ready reports whether the backend is accepting sends.
func (q *MemoryQueue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.started && !q.stopped
}

// consume drains one queue a single job at a time.
func (q *MemoryQueue) consume(ctx context.Context, name string, jobs <-chan []byte, handler Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-jobs:
			if err := handler(ctx, payload); err != nil {
				q.logger.Error("Job handler failed",
					slog.String("queue", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

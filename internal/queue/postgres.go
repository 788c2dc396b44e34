package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often each Postgres consumer polls for work
// when its queue is idle.
const DefaultPollInterval = 3 * time.Second

// PostgresQueue is the database-backed JobQueue for deployments without a
// broker: jobs live in the queue_jobs table, consumers claim one job at a
// time with FOR UPDATE SKIP LOCKED so concurrent workers never double-claim,
// and completed jobs are deleted in the same transaction that processed
// them. A handler error still completes the job - retry policy belongs to
// the pipeline's bookkeeping, the transport never redelivers.
type PostgresQueue struct {
	db           *sql.DB
	logger       *slog.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	queues   map[string]bool
	handlers map[string]Handler
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPostgresQueue creates a Postgres queue backend on an existing
// connection pool. A pollInterval of zero takes the default.
func NewPostgresQueue(db *sql.DB, pollInterval time.Duration, logger *slog.Logger) *PostgresQueue {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &PostgresQueue{
		db:           db,
		logger:       logger,
		pollInterval: pollInterval,
		queues:       make(map[string]bool),
		handlers:     make(map[string]Handler),
	}
}

// CreateQueue registers the queue name. The backing table is shared across
// queues and owned by the migrations, so nothing is created here.
func (q *PostgresQueue) CreateQueue(_ context.Context, name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}

	q.queues[name] = true

	return nil
}

// Work registers the handler for the named queue. Must be called before
// Start.
func (q *PostgresQueue) Work(queue string, handler Handler) error {
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

// Start spawns one polling consumer per registered queue.
func (q *PostgresQueue) Start(ctx context.Context) error {
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
		q.wg.Add(1)

		go q.consume(runCtx, name, handler)
	}

	return nil
}

// Stop cancels all consumers and waits for in-flight jobs to finish. The
// connection pool is owned by the caller and stays open.
func (q *PostgresQueue) Stop() error {
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

// Send inserts one JSON-marshalled job row.
func (q *PostgresQueue) Send(ctx context.Context, queue string, payload any) error {
	q.mu.Lock()
	started := q.started
	known := q.queues[queue]
	q.mu.Unlock()

	if !started {
		return ErrNotStarted
	}

	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	_, err = q.db.ExecContext(ctx,
		`INSERT INTO queue_jobs (queue, payload) VALUES ($1, $2)`,
		queue, string(data),
	)
	if err != nil {
		return fmt.Errorf("enqueue to %s: %w", queue, err)
	}

	return nil
}

// Ready reports whether the backend is started and the database reachable.
func (q *PostgresQueue) Ready() bool {
	q.mu.Lock()
	started := q.started && !q.stopped
	q.mu.Unlock()

	if !started {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return q.db.PingContext(ctx) == nil
}

// consume polls for one claimable job at a time until the context ends.
func (q *PostgresQueue) consume(ctx context.Context, name string, handler Handler) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		// Drain the queue before going back to sleep.
		for {
			processed, err := q.claimOne(ctx, name, handler)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				q.logger.Error("Job claim failed",
					slog.String("queue", name),
					slog.String("error", err.Error()),
				)

				break
			}

			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// claimOne claims, processes and deletes a single job in one transaction.
// Returns false when the queue is empty.
func (q *PostgresQueue) claimOne(ctx context.Context, name string, handler Handler) (bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id      int64
		payload []byte
	)

	err = tx.QueryRowContext(ctx, `
		SELECT id, payload
		FROM queue_jobs
		WHERE queue = $1
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		name,
	).Scan(&id, &payload)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}

	if err := handler(ctx, payload); err != nil {
		q.logger.Error("Job handler failed",
			slog.String("queue", name),
			slog.Int64("job_id", id),
			slog.String("error", err.Error()),
		)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_jobs WHERE id = $1`, id); err != nil {
		return false, fmt.Errorf("complete job %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit job %d: %w", id, err)
	}

	return true, nil
}

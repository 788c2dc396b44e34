package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/pagesift/pagesift/internal/config"
)

func TestPostgresQueue_Conformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	runConformance(t, func(t *testing.T) JobQueue {
		t.Helper()

		// Leftover jobs from a previous subtest must not leak in.
		_, err := testDB.Connection.ExecContext(ctx, "TRUNCATE queue_jobs")
		require.NoError(t, err)

		// A short poll keeps the conformance suite fast.
		return NewPostgresQueue(testDB.Connection, 100*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	})
}

func TestPostgresQueue_SkipLockedClaims(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Two backends consuming the same queue: every job must be handled
	// exactly once between them.
	recA := newRecorder(0)
	recB := newRecorder(0)

	const jobCount = 20

	total := make(chan struct{}, jobCount)
	handlerFor := func(rec *recorder) Handler {
		return func(ctx context.Context, payload []byte) error {
			_ = rec.handle(ctx, payload)
			total <- struct{}{}

			return nil
		}
	}

	qa := NewPostgresQueue(testDB.Connection, 50*time.Millisecond, logger)
	qb := NewPostgresQueue(testDB.Connection, 50*time.Millisecond, logger)

	require.NoError(t, qa.CreateQueue(ctx, QueueDataInsert))
	require.NoError(t, qb.CreateQueue(ctx, QueueDataInsert))
	require.NoError(t, qa.Work(QueueDataInsert, handlerFor(recA)))
	require.NoError(t, qb.Work(QueueDataInsert, handlerFor(recB)))
	require.NoError(t, qa.Start(ctx))
	require.NoError(t, qb.Start(ctx))
	t.Cleanup(func() {
		_ = qa.Stop()
		_ = qb.Stop()
	})

	for i := 0; i < jobCount; i++ {
		require.NoError(t, qa.Send(ctx, QueueDataInsert, map[string]int{"n": i}))
	}

	deadline := time.After(30 * time.Second)
	for i := 0; i < jobCount; i++ {
		select {
		case <-total:
		case <-deadline:
			t.Fatalf("only %d of %d jobs handled", i, jobCount)
		}
	}

	recA.mu.Lock()
	recB.mu.Lock()
	handled := len(recA.payloads) + len(recB.payloads)
	recA.mu.Unlock()
	recB.mu.Unlock()

	assert.Equal(t, jobCount, handled, "no job lost or double-claimed")

	// The queue must be fully drained.
	var remaining int
	require.NoError(t, testDB.Connection.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue_jobs").Scan(&remaining))
	assert.Zero(t, remaining)
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects handled payloads for assertions.
type recorder struct {
	mu       sync.Mutex
	payloads [][]byte
	done     chan struct{}
	want     int
}

func newRecorder(want int) *recorder {
	return &recorder{done: make(chan struct{}), want: want}
}

func (r *recorder) handle(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.payloads = append(r.payloads, append([]byte(nil), payload...))
	if len(r.payloads) == r.want {
		close(r.done)
	}

	return nil
}

func (r *recorder) awaitAll(t *testing.T) [][]byte {
	t.Helper()

	select {
	case <-r.done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for jobs")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return append([][]byte(nil), r.payloads...)
}

// runConformance exercises the JobQueue contract shared by all backends.
// The factory returns a fresh, unstarted backend.
func runConformance(t *testing.T, factory func(t *testing.T) JobQueue) {
	t.Helper()

	type job struct {
		N int `json:"n"`
	}

	t.Run("delivers jobs in order", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()

		rec := newRecorder(3)
		require.NoError(t, q.CreateQueue(ctx, QueueDataInsert))
		require.NoError(t, q.Work(QueueDataInsert, rec.handle))
		require.NoError(t, q.Start(ctx))
		t.Cleanup(func() { _ = q.Stop() })

		assert.True(t, q.Ready())

		for i := 0; i < 3; i++ {
			require.NoError(t, q.Send(ctx, QueueDataInsert, job{N: i}))
		}

		payloads := rec.awaitAll(t)
		require.Len(t, payloads, 3)

		for i, payload := range payloads {
			var got job
			require.NoError(t, json.Unmarshal(payload, &got))
			assert.Equal(t, i, got.N)
		}
	})

	t.Run("handler error does not stop consumption", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()

		rec := newRecorder(2)
		poisoned := func(ctx context.Context, payload []byte) error {
			_ = rec.handle(ctx, payload)

			return errors.New("handler exploded")
		}

		require.NoError(t, q.CreateQueue(ctx, QueueCSVParse))
		require.NoError(t, q.Work(QueueCSVParse, poisoned))
		require.NoError(t, q.Start(ctx))
		t.Cleanup(func() { _ = q.Stop() })

		require.NoError(t, q.Send(ctx, QueueCSVParse, job{N: 1}))
		require.NoError(t, q.Send(ctx, QueueCSVParse, job{N: 2}))

		payloads := rec.awaitAll(t)
		assert.Len(t, payloads, 2, "second job processed despite first handler error")
	})

	t.Run("lifecycle misuse", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()

		require.NoError(t, q.CreateQueue(ctx, QueueDataInsert))

		assert.False(t, q.Ready(), "not ready before start")
		assert.ErrorIs(t, q.Send(ctx, QueueDataInsert, job{}), ErrNotStarted)

		require.NoError(t, q.Work(QueueDataInsert, func(context.Context, []byte) error { return nil }))
		assert.ErrorIs(t, q.Work(QueueDataInsert, func(context.Context, []byte) error { return nil }), ErrHandlerExists)

		require.NoError(t, q.Start(ctx))
		assert.ErrorIs(t, q.Start(ctx), ErrAlreadyStarted)

		assert.ErrorIs(t, q.Send(ctx, "NO_SUCH_QUEUE", job{}), ErrUnknownQueue)

		require.NoError(t, q.Stop())
		assert.False(t, q.Ready(), "not ready after stop")
		require.NoError(t, q.Stop(), "stop is idempotent")
	})
}

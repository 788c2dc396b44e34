package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testChunk(n int) []CanonicalEvent {
	return []CanonicalEvent{{SiteID: "site-1", Pathname: fmt.Sprintf("/p%d", n)}}
}

func TestUploader_DeliversAllChunks(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	sender := func(ctx context.Context, req BatchRequest) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, req.BatchIndex)

		return nil
	}

	uploader := NewUploader(sender, UploaderConfig{ImportID: "import-1"}, discardLogger())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		uploader.Enqueue(ctx, testChunk(i), i)
	}
	uploader.SignalEOF()

	result, err := uploader.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Delivered)
	assert.Empty(t, result.FailedBatches)
	assert.Equal(t, "import complete: 5 batch(es) delivered", result.Message)
	assert.True(t, uploader.Finished())

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, seen)
}

func TestUploader_BoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0

	sender := func(ctx context.Context, req BatchRequest) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()

		return nil
	}

	uploader := NewUploader(sender, UploaderConfig{ImportID: "import-1", MaxConcurrent: 2}, discardLogger())

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		uploader.Enqueue(ctx, testChunk(i), i)
	}
	uploader.SignalEOF()

	result, err := uploader.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, 8, result.Delivered)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

func TestUploader_RetriesWithBackoffThenFails(t *testing.T) {
	var mu sync.Mutex
	var attemptTimes []time.Time

	sender := func(ctx context.Context, req BatchRequest) error {
		mu.Lock()
		defer mu.Unlock()
		attemptTimes = append(attemptTimes, time.Now())

		return errors.New("store unavailable")
	}

	uploader := NewUploader(sender, UploaderConfig{
		ImportID:       "import-1",
		RetryAttempts:  3,
		RetryBaseDelay: 10 * time.Millisecond,
	}, discardLogger())

	ctx := context.Background()
	uploader.Enqueue(ctx, testChunk(0), 0)
	uploader.SignalEOF()

	result, err := uploader.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Delivered)
	require.Len(t, result.FailedBatches, 1, "terminal failure recorded exactly once")

	failed := result.FailedBatches[0]
	assert.Equal(t, 0, failed.BatchIndex)
	assert.Equal(t, 3, failed.RetryCount)
	assert.Equal(t, "store unavailable", failed.Error)
	assert.Equal(t, "import complete with partial failure: 1 of 1 batch(es) failed", result.Message)

	mu.Lock()
	defer mu.Unlock()
	// Initial attempt plus one per allowed retry.
	require.Len(t, attemptTimes, 4)

	// Backoff gaps are 10ms, 20ms, 40ms: strictly increasing.
	var gaps []time.Duration
	for i := 1; i < len(attemptTimes); i++ {
		gaps = append(gaps, attemptTimes[i].Sub(attemptTimes[i-1]))
	}

	for i := 1; i < len(gaps); i++ {
		assert.Greater(t, gaps[i], gaps[i-1], "gap %d should exceed gap %d", i, i-1)
	}
}

func TestUploader_FailedChunkDoesNotBlockSiblings(t *testing.T) {
	sender := func(ctx context.Context, req BatchRequest) error {
		if req.BatchIndex == 1 {
			return errors.New("poison chunk")
		}

		return nil
	}

	uploader := NewUploader(sender, UploaderConfig{
		ImportID:       "import-1",
		MaxConcurrent:  1,
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
	}, discardLogger())

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		uploader.Enqueue(ctx, testChunk(i), i)
	}
	uploader.SignalEOF()

	result, err := uploader.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Delivered, "siblings deliver despite the poison chunk")
	require.Len(t, result.FailedBatches, 1)
	assert.Equal(t, 1, result.FailedBatches[0].BatchIndex)
	assert.Equal(t, "import complete with partial failure: 1 of 4 batch(es) failed", result.Message)
}

func TestUploader_WaitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	sender := func(ctx context.Context, req BatchRequest) error {
		<-block

		return nil
	}

	uploader := NewUploader(sender, UploaderConfig{ImportID: "import-1"}, discardLogger())

	uploader.Enqueue(context.Background(), testChunk(0), 0)
	uploader.SignalEOF()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := uploader.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
}

func TestUploader_NotFinishedBeforeEOF(t *testing.T) {
	sender := func(ctx context.Context, req BatchRequest) error { return nil }
	uploader := NewUploader(sender, UploaderConfig{ImportID: "import-1"}, discardLogger())

	assert.False(t, uploader.Finished(), "no EOF yet")

	uploader.SignalEOF()
	assert.True(t, uploader.Finished(), "EOF with an empty queue finishes immediately")
}

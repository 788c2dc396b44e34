package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Direct-delivery defaults. The concurrency limit bounds simultaneously
// in-flight batch uploads; the retry cap bounds how long one chunk can hold
// the pipeline's attention before being abandoned as failed.
const (
	DefaultMaxConcurrentUploads = 3
	DefaultRetryAttempts        = 3
	DefaultRetryBaseDelay       = 500 * time.Millisecond
)

type (
	// BatchRequest is one idempotent-by-index delivery unit posted to the
	// store's batch-insert endpoint.
	BatchRequest struct {
		Events       []CanonicalEvent `json:"events"`
		ImportID     string           `json:"importId"`
		BatchIndex   int              `json:"batchIndex"`
		TotalBatches int              `json:"totalBatches"`
	}

	// BatchSender delivers one batch. A nil return means the batch is
	// durably inserted; any error triggers the uploader's retry policy.
	BatchSender func(ctx context.Context, req BatchRequest) error

	// UploaderConfig configures an Uploader. Zero fields take the package
	// defaults.
	UploaderConfig struct {
		ImportID       string
		MaxConcurrent  int
		RetryAttempts  int
		RetryBaseDelay time.Duration
	}

	// DeliveryResult is the uploader's terminal report.
	DeliveryResult struct {
		Delivered     int
		FailedBatches []FailedBatch
		Message       string
	}

	// Uploader is the direct-delivery batch stage: a FIFO queue of pending
	// chunks drained by a bounded number of concurrent uploads, with
	// exponential-backoff retry per chunk and a terminal failed-batch
	// ledger. One chunk's terminal failure never blocks or fails its
	// siblings.
	Uploader struct {
		sender BatchSender
		config UploaderConfig
		logger *slog.Logger

		mu           sync.Mutex
		cond         *sync.Cond
		pending      []*pendingChunk
		active       int
		waiting      int // chunks parked in a backoff timer
		producerDone bool
		enqueued     int
		delivered    int
		failed       []FailedBatch
	}

	pendingChunk struct {
		events     []CanonicalEvent
		batchIndex int
		retryCount int
	}
)

// NewUploader creates an Uploader delivering through the given sender.
func NewUploader(sender BatchSender, config UploaderConfig, logger *slog.Logger) *Uploader {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrentUploads
	}

	if config.RetryAttempts <= 0 {
		config.RetryAttempts = DefaultRetryAttempts
	}

	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = DefaultRetryBaseDelay
	}

	u := &Uploader{
		sender: sender,
		config: config,
		logger: logger,
	}
	u.cond = sync.NewCond(&u.mu)

	return u
}

// Enqueue adds one chunk to the pending queue and keeps the concurrency
// window full. Safe to call concurrently with deliveries in flight.
func (u *Uploader) Enqueue(ctx context.Context, events []CanonicalEvent, batchIndex int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.pending = append(u.pending, &pendingChunk{events: events, batchIndex: batchIndex})
	u.enqueued++

	u.pump(ctx)
}

// SignalEOF marks that the producer will enqueue no further chunks. The
// import can only finish after this has been called.
func (u *Uploader) SignalEOF() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.producerDone = true
	u.cond.Broadcast()
}

// Finished reports the completion invariant: producer EOF observed, nothing
// queued, nothing in flight, nothing parked in backoff.
func (u *Uploader) Finished() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.finishedLocked()
}

func (u *Uploader) finishedLocked() bool {
	return u.producerDone && u.active == 0 && u.waiting == 0 && len(u.pending) == 0
}

// Wait blocks until the import is finished or ctx is cancelled, then
// returns the terminal delivery report. Chunks that failed terminally do not
// fail the import: delivered data is not rolled back, and the result message
// reports the partial-failure count instead.
func (u *Uploader) Wait(ctx context.Context) (*DeliveryResult, error) {
	stop := context.AfterFunc(ctx, func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.cond.Broadcast()
	})
	defer stop()

	u.mu.Lock()
	defer u.mu.Unlock()

	for !u.finishedLocked() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		u.cond.Wait()
	}

	result := &DeliveryResult{
		Delivered:     u.delivered,
		FailedBatches: append([]FailedBatch(nil), u.failed...),
	}

	if len(u.failed) == 0 {
		result.Message = fmt.Sprintf("import complete: %d batch(es) delivered", u.delivered)
	} else {
		result.Message = fmt.Sprintf(
			"import complete with partial failure: %d of %d batch(es) failed",
			len(u.failed), u.enqueued,
		)
	}

	return result, nil
}

// pump starts deliveries while a concurrency slot is free and the queue is
// non-empty. Callers must hold u.mu.
func (u *Uploader) pump(ctx context.Context) {
	for u.active < u.config.MaxConcurrent && len(u.pending) > 0 {
		chunk := u.pending[0]
		u.pending = u.pending[1:]
		u.active++

		go u.deliver(ctx, chunk)
	}
}

func (u *Uploader) deliver(ctx context.Context, chunk *pendingChunk) {
	err := u.sender(ctx, BatchRequest{
		Events:       chunk.events,
		ImportID:     u.config.ImportID,
		BatchIndex:   chunk.batchIndex,
		TotalBatches: u.totalBatches(),
	})

	u.mu.Lock()
	defer u.mu.Unlock()

	u.active--

	switch {
	case err == nil:
		u.delivered++

	case chunk.retryCount < u.config.RetryAttempts:
		delay := u.config.RetryBaseDelay << chunk.retryCount
		chunk.retryCount++
		u.waiting++

		u.logger.Warn("Batch delivery failed, retry scheduled",
			slog.String("import_id", u.config.ImportID),
			slog.Int("batch_index", chunk.batchIndex),
			slog.Int("retry_count", chunk.retryCount),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		time.AfterFunc(delay, func() {
			u.mu.Lock()
			defer u.mu.Unlock()

			u.waiting--
			u.pending = append(u.pending, chunk)
			u.pump(ctx)
			u.cond.Broadcast()
		})

	default:
		u.failed = append(u.failed, FailedBatch{
			BatchIndex: chunk.batchIndex,
			Events:     chunk.events,
			Error:      err.Error(),
			RetryCount: chunk.retryCount,
		})

		u.logger.Error("Batch delivery failed terminally",
			slog.String("import_id", u.config.ImportID),
			slog.Int("batch_index", chunk.batchIndex),
			slog.Int("retry_count", chunk.retryCount),
			slog.String("error", err.Error()),
		)
	}

	// Keep the window full after every attempt outcome.
	u.pump(ctx)
	u.cond.Broadcast()
}

// totalBatches is the producer's batch count as known so far; it only
// becomes final once the producer signals EOF. Callers must not hold u.mu.
func (u *Uploader) totalBatches() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.enqueued
}

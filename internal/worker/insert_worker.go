package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pagesift/pagesift/internal/importer"
	"github.com/pagesift/pagesift/internal/queue"
)

// InsertWorker consumes DATA_INSERT jobs: chunk jobs are mapped to canonical
// events and inserted, and the sentinel job closes out the import's lifecycle
// record.
type InsertWorker struct {
	imports importer.ImportStore
	events  importer.EventStore
	jobs    queue.JobQueue
	logger  *slog.Logger
}

// NewInsertWorker creates an insert worker.
func NewInsertWorker(imports importer.ImportStore, events importer.EventStore, jobs queue.JobQueue, logger *slog.Logger) *InsertWorker {
	return &InsertWorker{
		imports: imports,
		events:  events,
		jobs:    jobs,
		logger:  logger,
	}
}

// Register attaches the worker's handler to the DATA_INSERT queue.
func (w *InsertWorker) Register() error {
	return w.jobs.Work(queue.QueueDataInsert, w.Handle)
}

// Handle processes one insert job. Storage failures mark the import failed
// and consume the job rather than crashing the worker; only undecodable
// payloads are reported back to the queue.
func (w *InsertWorker) Handle(ctx context.Context, payload []byte) error {
	var job importer.DataInsertJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode insert job: %w", err)
	}

	logger := w.logger.With("import_id", job.ImportID, "site_id", job.SiteID)

	if job.AllChunksSent {
		return w.complete(ctx, job, logger)
	}

	mapper, err := importer.MapperFor(job.Platform)
	if err != nil {
		logger.Error("insert job references unknown platform", "platform", job.Platform)
		w.fail(ctx, job.ImportID, "unknown platform: "+string(job.Platform))
		return nil
	}

	rejected := 0
	events := mapper.Transform(job.Records, job.SiteID, job.ImportID, func(row int, message string) {
		rejected++
		logger.Warn("invalid record in chunk", "row", row, "message", message)
	})

	if len(events) == 0 {
		logger.Debug("chunk produced no events", "records", len(job.Records), "rejected", rejected)
		return nil
	}

	inserted, err := w.events.InsertEvents(ctx, events)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("event insert failed", "events", len(events), "error", err)
		w.fail(ctx, job.ImportID, "event insert failed: "+err.Error())
		return nil
	}

	// Progress accounting is best effort; the counter is advisory.
	if err := w.imports.AddImportedEvents(ctx, job.ImportID, int64(inserted)); err != nil {
		logger.Warn("failed to record import progress", "error", err)
	}

	logger.Debug("chunk inserted", "events", inserted, "rejected", rejected)
	return nil
}

// complete handles the sentinel job: it persists the parse stage's final
// counters and transitions the import to completed. An import that already
// failed stays failed; the sentinel never resurrects it.
func (w *InsertWorker) complete(ctx context.Context, job importer.DataInsertJob, logger *slog.Logger) error {
	if err := w.imports.SetSkipCounters(ctx, job.ImportID, job.SkippedEvents, job.InvalidEvents); err != nil {
		logger.Warn("failed to persist skip counters", "error", err)
	}

	message := w.completionMessage(ctx, job)
	if err := w.imports.MarkCompleted(ctx, job.ImportID, message); err != nil {
		if errors.Is(err, importer.ErrImportStateConflict) {
			logger.Info("import already failed; sentinel ignored")
			return nil
		}
		if errors.Is(err, importer.ErrImportNotFound) {
			logger.Warn("sentinel for deleted import ignored")
			return nil
		}
		return fmt.Errorf("mark import completed: %w", err)
	}

	logger.Info("import complete", "skipped", job.SkippedEvents, "invalid", job.InvalidEvents)
	return nil
}

func (w *InsertWorker) completionMessage(ctx context.Context, job importer.DataInsertJob) string {
	imported := int64(0)
	if record, err := w.imports.GetImport(ctx, job.ImportID); err == nil {
		imported = record.ImportedEvents
	}

	message := fmt.Sprintf("imported %d events (%d skipped, %d invalid)",
		imported, job.SkippedEvents, job.InvalidEvents)
	if job.QuotaMessage != "" {
		message += ": " + job.QuotaMessage
	}
	return message
}

func (w *InsertWorker) fail(ctx context.Context, importID, message string) {
	if err := w.imports.MarkFailed(ctx, importID, message); err != nil {
		w.logger.Error("failed to mark import failed", "import_id", importID, "error", err)
	}
}

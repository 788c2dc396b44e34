// Package worker wires the queue-consuming side of the import pipeline: the
// parse worker streams uploaded files into raw chunks, and the insert worker
// maps chunks into canonical events and writes them to storage.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pagesift/pagesift/internal/importer"
	"github.com/pagesift/pagesift/internal/objectstore"
	"github.com/pagesift/pagesift/internal/queue"
)

// ParseWorker consumes CSV_PARSE jobs: it opens the uploaded file, streams it
// through the parse stage and enqueues one DATA_INSERT job per raw chunk,
// followed by the import's sentinel job.
type ParseWorker struct {
	imports importer.ImportStore
	files   objectstore.FileStore
	jobs    queue.JobQueue
	parser  *importer.Parser
	logger  *slog.Logger
}

// NewParseWorker creates a parse worker with the default parser thresholds.
func NewParseWorker(imports importer.ImportStore, files objectstore.FileStore, jobs queue.JobQueue, logger *slog.Logger) *ParseWorker {
	return &ParseWorker{
		imports: imports,
		files:   files,
		jobs:    jobs,
		parser:  importer.NewParser(),
		logger:  logger,
	}
}

// Register attaches the worker's handler to the CSV_PARSE queue.
func (w *ParseWorker) Register() error {
	return w.jobs.Work(queue.QueueCSVParse, w.Handle)
}

// Handle processes one parse job. Failures that belong to the import (bad
// file, parse errors) mark the import failed and consume the job; only
// payloads that cannot be decoded at all are reported back to the queue.
func (w *ParseWorker) Handle(ctx context.Context, payload []byte) error {
	var job importer.ParseJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode parse job: %w", err)
	}

	logger := w.logger.With("import_id", job.ImportID, "site_id", job.SiteID, "platform", job.Platform)

	record, err := w.imports.GetImport(ctx, job.ImportID)
	if err != nil {
		if errors.Is(err, importer.ErrImportNotFound) {
			// The import was deleted; the job is stale.
			logger.Warn("skipping parse job for deleted import", "error", err)
			return nil
		}
		return fmt.Errorf("load import: %w", err)
	}

	if record.Status.IsTerminal() {
		logger.Warn("skipping parse job for finished import", "status", record.Status)
		return nil
	}

	file, err := w.files.Open(ctx, job.FileKey)
	if err != nil {
		logger.Error("uploaded file unavailable", "file_key", job.FileKey, "error", err)
		w.fail(ctx, job.ImportID, "uploaded file unavailable: "+err.Error())
		return nil
	}
	defer file.Close()

	result, err := w.parser.Run(ctx, file, job, importer.ParseCallbacks{
		OnRawChunk: func(records []importer.RawRecord, chunkIndex int) error {
			// The first chunk is what moves the import out of pending; a
			// file that fails before producing a chunk goes pending ->
			// failed directly.
			if chunkIndex == 0 {
				if err := w.imports.MarkProcessing(ctx, job.ImportID); err != nil {
					return fmt.Errorf("mark import processing: %w", err)
				}
			}

			chunk := importer.DataInsertJob{
				ImportID: job.ImportID,
				SiteID:   job.SiteID,
				Platform: job.Platform,
				Records:  records,
			}
			if err := w.jobs.Send(ctx, queue.QueueDataInsert, chunk); err != nil {
				return fmt.Errorf("enqueue chunk %d: %w", chunkIndex, err)
			}
			return nil
		},
		OnProgress: func(p importer.Progress) {
			logger.Debug("parse progress", "parsed", p.Parsed, "skipped", p.Skipped, "errors", p.Errors)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not an import defect; leave the import processing.
			return ctx.Err()
		}
		logger.Error("parse stage failed", "error", err)
		w.fail(ctx, job.ImportID, "parse failed: "+err.Error())
		return nil
	}

	for _, detail := range result.ErrorDetails {
		logger.Warn("invalid source row", "row", detail.Row, "message", detail.Message)
	}

	// The sentinel goes out strictly after every chunk so the insert worker
	// sees it last and can close out the import.
	sentinel := importer.DataInsertJob{
		ImportID:      job.ImportID,
		SiteID:        job.SiteID,
		Platform:      job.Platform,
		AllChunksSent: true,
		SkippedEvents: int64(result.TotalSkipped),
		InvalidEvents: int64(result.TotalInvalid),
		QuotaMessage:  result.QuotaMessage,
	}
	if err := w.jobs.Send(ctx, queue.QueueDataInsert, sentinel); err != nil {
		logger.Error("failed to enqueue completion sentinel", "error", err)
		w.fail(ctx, job.ImportID, "enqueue completion sentinel: "+err.Error())
		return nil
	}

	// The file has been fully consumed; the sweeper handles any stragglers.
	if err := w.files.Delete(ctx, job.FileKey); err != nil {
		logger.Warn("failed to delete consumed upload", "file_key", job.FileKey, "error", err)
	}

	logger.Info("parse stage complete",
		"parsed", result.TotalParsed,
		"skipped", result.TotalSkipped,
		"invalid", result.TotalInvalid,
		"chunks", result.Chunks,
	)
	return nil
}

func (w *ParseWorker) fail(ctx context.Context, importID, message string) {
	if err := w.imports.MarkFailed(ctx, importID, message); err != nil {
		w.logger.Error("failed to mark import failed", "import_id", importID, "error", err)
	}
}

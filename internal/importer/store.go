package importer

import (
	"context"
	"errors"
)

// Sentinel errors for import lifecycle persistence.
// These can be used with errors.Is() for error checking.
var (
	// ErrImportNotFound is returned when no import record exists for an id.
	ErrImportNotFound = errors.New("import not found")

	// ErrImportStateConflict is returned when a status transition violates
	// the lifecycle state machine (pending → processing → completed|failed,
	// terminal states immutable).
	ErrImportStateConflict = errors.New("import status transition not allowed")

	// ErrImportNotTerminal is returned when deleting an import that is
	// still pending or processing.
	ErrImportNotTerminal = errors.New("import is not in a terminal state")

	// ErrActiveImportExists is returned when a site already has a pending
	// or processing import.
	ErrActiveImportExists = errors.New("an import is already in progress for this site")
)

// ImportStore persists ImportRecord lifecycle rows.
//
// The domain package defines this interface to specify what the pipeline
// needs for lifecycle persistence; the PostgreSQL implementation lives in
// internal/storage. Status transitions are enforced by the store with
// status-guarded updates, so two workers racing on the same import cannot
// corrupt the state machine.
type ImportStore interface {
	// CreateImport inserts a new pending record. Fails with
	// ErrActiveImportExists when the site already has a non-terminal
	// import.
	CreateImport(ctx context.Context, record *ImportRecord) error

	// GetImport fetches one record by id. Returns ErrImportNotFound when
	// absent.
	GetImport(ctx context.Context, importID string) (*ImportRecord, error)

	// ListImports returns the site's records, most recent first.
	ListImports(ctx context.Context, siteID string) ([]ImportRecord, error)

	// MarkProcessing transitions pending → processing. A record already
	// processing is left untouched and reported as success; terminal
	// records return ErrImportStateConflict.
	MarkProcessing(ctx context.Context, importID string) error

	// MarkCompleted transitions a non-terminal record to completed with a
	// result message and sets completedAt. Idempotent on completed
	// records; a failed record returns ErrImportStateConflict.
	MarkCompleted(ctx context.Context, importID, message string) error

	// MarkFailed transitions a non-terminal record to failed with an error
	// message and sets completedAt. Marking an already-failed import is a
	// no-op.
	MarkFailed(ctx context.Context, importID, message string) error

	// AddImportedEvents adds a best-effort progress delta to the record's
	// imported-event counter.
	AddImportedEvents(ctx context.Context, importID string, delta int64) error

	// SetSkipCounters records the parse stage's final skipped and invalid
	// tallies.
	SetSkipCounters(ctx context.Context, importID string, skipped, invalid int64) error

	// DeleteImport removes a terminal record and its imported events.
	// Returns ErrImportNotTerminal while the import is still running.
	DeleteImport(ctx context.Context, importID string) error

	// MonthlyUsage aggregates the organization's imported events per
	// "yyyyMM" month, feeding the quota snapshot.
	MonthlyUsage(ctx context.Context, organizationID string) (map[string]int64, error)
}

// EventStore persists canonical analytics events. Append-only: events are
// only ever removed wholesale when their import is deleted.
type EventStore interface {
	// InsertEvents appends a batch and returns how many rows were written.
	InsertEvents(ctx context.Context, events []CanonicalEvent) (int, error)

	// DeleteEventsByImport removes every event of one import, returning
	// the number of rows removed.
	DeleteEventsByImport(ctx context.Context, importID string) (int64, error)
}

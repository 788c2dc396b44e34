package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pagesift/pagesift/internal/importer"
)

// ImportStore implements importer.ImportStore with a PostgreSQL backend.
//
// Status transitions are enforced with status-guarded UPDATEs rather than
// read-modify-write, so two workers racing on the same import cannot move it
// backwards or out of a terminal state.
type ImportStore struct {
	conn   *Connection
	logger *slog.Logger
}

// Compile-time interface assertion.
var _ importer.ImportStore = (*ImportStore)(nil)

// NewImportStore creates a PostgreSQL-backed import lifecycle store.
func NewImportStore(conn *Connection, logger *slog.Logger) (*ImportStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ImportStore{conn: conn, logger: logger}, nil
}

// CreateImport inserts a pending record unless the site already has a
// non-terminal import.
func (s *ImportStore) CreateImport(ctx context.Context, record *importer.ImportRecord) error {
	result, err := s.conn.ExecContext(ctx, `
		INSERT INTO imports (
			import_id, site_id, organization_id, platform, file_name, status
		)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM imports
			WHERE site_id = $2 AND status IN ('pending', 'processing')
		)`,
		record.ImportID, record.SiteID, record.OrganizationID,
		string(record.Platform), record.FileName, string(importer.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("create import %s: %w", record.ImportID, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create import %s: %w", record.ImportID, err)
	}

	if inserted == 0 {
		return importer.ErrActiveImportExists
	}

	return nil
}

// GetImport fetches one record by id.
func (s *ImportStore) GetImport(ctx context.Context, importID string) (*importer.ImportRecord, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT import_id, site_id, organization_id, platform, file_name,
		       status, imported_events, skipped_events, invalid_events,
		       COALESCE(error_message, ''), started_at, completed_at
		FROM imports
		WHERE import_id = $1`,
		importID,
	)

	record, err := scanImport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, importer.ErrImportNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get import %s: %w", importID, err)
	}

	return record, nil
}

// ListImports returns the site's records, most recent first.
func (s *ImportStore) ListImports(ctx context.Context, siteID string) ([]importer.ImportRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT import_id, site_id, organization_id, platform, file_name,
		       status, imported_events, skipped_events, invalid_events,
		       COALESCE(error_message, ''), started_at, completed_at
		FROM imports
		WHERE site_id = $1
		ORDER BY started_at DESC`,
		siteID,
	)
	if err != nil {
		return nil, fmt.Errorf("list imports for site %s: %w", siteID, err)
	}
	defer rows.Close()

	var records []importer.ImportRecord

	for rows.Next() {
		record, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("list imports for site %s: %w", siteID, err)
		}

		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list imports for site %s: %w", siteID, err)
	}

	return records, nil
}

// MarkProcessing transitions pending → processing.
func (s *ImportStore) MarkProcessing(ctx context.Context, importID string) error {
	return s.transition(ctx, importID, importer.StatusProcessing, "", `
		UPDATE imports
		SET status = 'processing'
		WHERE import_id = $1 AND status = 'pending'`)
}

// MarkCompleted transitions a running import to completed with its result
// message.
func (s *ImportStore) MarkCompleted(ctx context.Context, importID, message string) error {
	return s.transition(ctx, importID, importer.StatusCompleted, message, `
		UPDATE imports
		SET status = 'completed', error_message = $2, completed_at = NOW()
		WHERE import_id = $1 AND status IN ('pending', 'processing')`)
}

// MarkFailed transitions a running import to failed with its error message.
func (s *ImportStore) MarkFailed(ctx context.Context, importID, message string) error {
	return s.transition(ctx, importID, importer.StatusFailed, message, `
		UPDATE imports
		SET status = 'failed', error_message = $2, completed_at = NOW()
		WHERE import_id = $1 AND status IN ('pending', 'processing')`)
}

// transition runs one status-guarded update. When the guard matched nothing,
// the current status decides between idempotent success (already in the
// target state) and ErrImportStateConflict.
func (s *ImportStore) transition(ctx context.Context, importID string, target importer.ImportStatus, message, query string) error {
	args := []any{importID}
	if target != importer.StatusProcessing {
		args = append(args, message)
	}

	result, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark import %s %s: %w", importID, target, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark import %s %s: %w", importID, target, err)
	}

	if updated > 0 {
		return nil
	}

	record, err := s.GetImport(ctx, importID)
	if err != nil {
		return err
	}

	if record.Status == target {
		return nil // idempotent re-apply
	}

	return fmt.Errorf("%w: %s is %s, wanted %s",
		importer.ErrImportStateConflict, importID, record.Status, target)
}

// AddImportedEvents adds a progress delta to the imported-event counter.
// Best effort: callers log and continue on failure.
func (s *ImportStore) AddImportedEvents(ctx context.Context, importID string, delta int64) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE imports
		SET imported_events = imported_events + $2
		WHERE import_id = $1`,
		importID, delta,
	)
	if err != nil {
		return fmt.Errorf("add imported events for %s: %w", importID, err)
	}

	return nil
}

// SetSkipCounters records the parse stage's final skipped/invalid tallies.
func (s *ImportStore) SetSkipCounters(ctx context.Context, importID string, skipped, invalid int64) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE imports
		SET skipped_events = $2, invalid_events = $3
		WHERE import_id = $1`,
		importID, skipped, invalid,
	)
	if err != nil {
		return fmt.Errorf("set skip counters for %s: %w", importID, err)
	}

	return nil
}

// DeleteImport removes a terminal record and all its events in one
// transaction.
func (s *ImportStore) DeleteImport(ctx context.Context, importID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete import %s: %w", importID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string

	err = tx.QueryRowContext(ctx,
		`SELECT status FROM imports WHERE import_id = $1 FOR UPDATE`,
		importID,
	).Scan(&status)

	if errors.Is(err, sql.ErrNoRows) {
		return importer.ErrImportNotFound
	}

	if err != nil {
		return fmt.Errorf("delete import %s: %w", importID, err)
	}

	if !importer.ImportStatus(status).IsTerminal() {
		return fmt.Errorf("%w: %s is %s", importer.ErrImportNotTerminal, importID, status)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE import_id = $1`, importID); err != nil {
		return fmt.Errorf("delete events of %s: %w", importID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM imports WHERE import_id = $1`, importID); err != nil {
		return fmt.Errorf("delete import %s: %w", importID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete import %s: %w", importID, err)
	}

	return nil
}

// MonthlyUsage aggregates the organization's imported events per month.
func (s *ImportStore) MonthlyUsage(ctx context.Context, organizationID string) (map[string]int64, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT to_char(e.event_time, 'YYYYMM') AS month, COUNT(*)
		FROM events e
		JOIN imports i ON i.import_id = e.import_id
		WHERE i.organization_id = $1
		GROUP BY month`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("monthly usage for org %s: %w", organizationID, err)
	}
	defer rows.Close()

	usage := make(map[string]int64)

	for rows.Next() {
		var (
			month string
			count int64
		)

		if err := rows.Scan(&month, &count); err != nil {
			return nil, fmt.Errorf("monthly usage for org %s: %w", organizationID, err)
		}

		usage[month] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monthly usage for org %s: %w", organizationID, err)
	}

	return usage, nil
}

// scanImport reads one imports row from a row scanner.
func scanImport(row interface{ Scan(...any) error }) (*importer.ImportRecord, error) {
	var (
		record      importer.ImportRecord
		platform    string
		status      string
		completedAt sql.NullTime
	)

	err := row.Scan(
		&record.ImportID, &record.SiteID, &record.OrganizationID, &platform,
		&record.FileName, &status, &record.ImportedEvents,
		&record.SkippedEvents, &record.InvalidEvents, &record.ErrorMessage,
		&record.StartedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Platform = importer.Platform(platform)
	record.Status = importer.ImportStatus(status)

	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}

	return &record, nil
}

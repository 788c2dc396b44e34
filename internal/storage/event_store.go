package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/pagesift/pagesift/internal/importer"
)

// EventStore implements importer.EventStore with a PostgreSQL backend.
// Batches go in through COPY, which keeps chunk inserts to one round trip.
type EventStore struct {
	conn   *Connection
	logger *slog.Logger
}

// Compile-time interface assertion.
var _ importer.EventStore = (*EventStore)(nil)

// NewEventStore creates a PostgreSQL-backed analytics event store.
func NewEventStore(conn *Connection, logger *slog.Logger) (*EventStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &EventStore{conn: conn, logger: logger}, nil
}

// eventColumns is the COPY column list, in insert order.
var eventColumns = []string{
	"import_id", "site_id", "session_id", "user_id", "event_time",
	"hostname", "pathname", "querystring", "url_params", "page_title",
	"referrer", "channel", "browser", "browser_version", "os", "os_version",
	"language", "country", "region", "city", "lat", "lon",
	"screen_width", "screen_height", "device_type", "event_type",
	"event_name", "props",
}

// InsertEvents appends one batch of canonical events. The batch is atomic:
// either every row lands or none do, so a redelivered chunk can be retried
// wholesale.
func (s *EventStore) InsertEvents(ctx context.Context, events []importer.CanonicalEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("events", eventColumns...))
	if err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}

	for i := range events {
		event := &events[i]

		eventTime, err := time.ParseInLocation(importer.TimestampFormat, event.Timestamp, time.UTC)
		if err != nil {
			return 0, fmt.Errorf("insert events: event %d has invalid timestamp %q: %w", i, event.Timestamp, err)
		}

		urlParams, err := json.Marshal(event.URLParameters)
		if err != nil {
			return 0, fmt.Errorf("insert events: event %d url parameters: %w", i, err)
		}

		props, err := json.Marshal(event.Props)
		if err != nil {
			return 0, fmt.Errorf("insert events: event %d props: %w", i, err)
		}

		_, err = stmt.ExecContext(ctx,
			event.ImportID, event.SiteID, event.SessionID, event.UserID,
			eventTime, event.Hostname, event.Pathname, event.Querystring,
			string(urlParams), event.PageTitle, event.Referrer, event.Channel,
			event.Browser, event.BrowserVersion, event.OperatingSystem,
			event.OperatingSystemVersion, event.Language, event.Country,
			event.Region, event.City, event.Lat, event.Lon,
			event.ScreenWidth, event.ScreenHeight, event.DeviceType,
			event.Type, event.EventName, string(props),
		)
		if err != nil {
			return 0, fmt.Errorf("insert events: buffer event %d: %w", i, err)
		}
	}

	// Flush the COPY buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		return 0, fmt.Errorf("insert events: flush copy: %w", err)
	}

	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("insert events: close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}

	return len(events), nil
}

// DeleteEventsByImport removes every event belonging to one import.
func (s *EventStore) DeleteEventsByImport(ctx context.Context, importID string) (int64, error) {
	result, err := s.conn.ExecContext(ctx,
		`DELETE FROM events WHERE import_id = $1`, importID)
	if err != nil {
		return 0, fmt.Errorf("delete events of %s: %w", importID, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete events of %s: %w", importID, err)
	}

	return deleted, nil
}

package objectstore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/pagesift/pagesift/internal/importer"
)

const (
	// DefaultSweepInterval is how often the sweeper scans for stale uploads.
	DefaultSweepInterval = 24 * time.Hour

	// DefaultMaxUploadAge is how long an upload may sit unclaimed before the
	// sweeper considers it stale. Parse workers delete files they consume,
	// so an old file belongs to an import that never ran to completion.
	DefaultMaxUploadAge = 24 * time.Hour
)

// Sweeper periodically deletes uploaded files that no running import will
// ever consume: the file is older than the age threshold and its import is
// gone or already terminal.
type Sweeper struct {
	store    FileStore
	imports  importer.ImportStore
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper over the given stores. Zero interval or
// maxAge fall back to the defaults.
func NewSweeper(store FileStore, imports importer.ImportStore, interval, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxUploadAge
	}
	return &Sweeper{
		store:    store,
		imports:  imports,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Run sweeps once immediately and then on every interval tick until the
// context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Sweep runs a single cleanup pass and returns how many files it deleted.
// Exposed for operational tooling; Run calls it on a schedule.
func (s *Sweeper) Sweep(ctx context.Context) int {
	return s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) int {
	objects, err := s.store.List(ctx, "imports/")
	if err != nil {
		s.logger.Error("upload sweep failed to list objects", "error", err)
		return 0
	}

	cutoff := time.Now().Add(-s.maxAge)
	deleted := 0
	for _, obj := range objects {
		if obj.LastModified.After(cutoff) {
			continue
		}
		if !s.orphaned(ctx, obj.Key) {
			continue
		}
		if err := s.store.Delete(ctx, obj.Key); err != nil {
			s.logger.Warn("failed to delete stale upload",
				"key", obj.Key,
				"error", err,
			)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("upload sweep completed",
			"deleted_count", deleted,
			"max_age", s.maxAge.String(),
		)
	}
	return deleted
}

// orphaned reports whether no running import can still claim the file: its
// import record is missing or terminal. Lookup failures leave the file
// alone until the next pass.
func (s *Sweeper) orphaned(ctx context.Context, key string) bool {
	importID := importIDFromKey(key)
	if importID == "" {
		// Not in the canonical layout; treat as abandoned.
		return true
	}

	record, err := s.imports.GetImport(ctx, importID)
	if err != nil {
		if errors.Is(err, importer.ErrImportNotFound) {
			return true
		}

		s.logger.Warn("upload sweep could not resolve import",
			"key", key,
			"import_id", importID,
			"error", err,
		)
		return false
	}

	return record.Status.IsTerminal()
}

// importIDFromKey extracts the import ID from an "imports/{importId}/..."
// key.
func importIDFromKey(key string) string {
	rest, ok := strings.CutPrefix(key, "imports/")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return ""
}

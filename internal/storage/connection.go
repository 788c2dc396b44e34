package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Sentinel errors for database connection handling.
var (
	// ErrNoDatabaseConnection is returned when a store is built on a nil connection.
	ErrNoDatabaseConnection = errors.New("database connection is nil")
)

// pingTimeout bounds the initial connectivity check on startup.
const pingTimeout = 5 * time.Second

// Connection wraps the shared *sql.DB pool. All stores in this package are
// built on one Connection; the pool is owned by whoever called NewConnection
// and closed exactly once via Close.
type Connection struct {
	*sql.DB
}

// NewConnection opens a PostgreSQL connection pool from the given config and
// verifies connectivity with a bounded ping.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Connection{DB: db}, nil
}

// HealthCheck verifies the database is reachable. Used by readiness probes.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrNoDatabaseConnection
	}

	if err := c.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}

	return nil
}

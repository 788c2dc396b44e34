// Package migrations carries the pagesift schema compiled into the binary,
// so the migrator needs no migration files on disk at runtime.
package migrations

import "embed"

// Files holds every versioned schema file. Naming standard:
// NNN_name.up.sql / NNN_name.down.sql, validated by the migrator before any
// migration runs.
//
//go:embed *.sql
var Files embed.FS

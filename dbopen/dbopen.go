// Package dbopen opens the archive's SQLite file with the pragmas the rest
// of the module assumes: foreign keys on, WAL journaling, a busy timeout
// long enough to ride out writer contention.
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("archive.db", dbopen.WithMaxConns(8))
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type config struct {
	busyTimeout int
	maxConns    int
	mkdirAll    bool
	ping        bool
}

func defaults() config {
	return config{
		busyTimeout: 10_000,
		ping:        true,
	}
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithMaxConns caps open and idle connections. 0 (default) leaves the
// database/sql defaults in place.
func WithMaxConns(n int) Option { return func(c *config) { c.maxConns = n } }

// WithMkdirAll creates parent directories of the archive path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithoutPing skips the db.Ping() verification after opening.
func WithoutPing() Option { return func(c *config) { c.ping = false } }

// Open opens the SQLite archive at path. The caller must blank-import the
// driver first:
//
//	import _ "modernc.org/sqlite"
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	// Pragmas ride in the DSN so every pooled connection gets them;
	// foreign_keys and busy_timeout are per-connection settings.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, cfg.busyTimeout)
	if path == ":memory:" {
		dsn = fmt.Sprintf("file::memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", cfg.busyTimeout)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}

	if cfg.maxConns > 0 {
		db.SetMaxOpenConns(cfg.maxConns)
		db.SetMaxIdleConns(cfg.maxConns)
	}

	if cfg.ping {
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: ping: %w", err)
		}
	}

	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing. It sets
// MaxOpenConns(1) so every query hits the same in-memory database (each
// connection to ":memory:" creates a separate one) and registers t.Cleanup
// to close it.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

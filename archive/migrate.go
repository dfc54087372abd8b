package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// SchemaVersion is the schema this build reads and writes.
const SchemaVersion = 8

var (
	// ErrInvalidVersion means metadata.version exists but is unparsable or
	// below 1. The file is not an archive this tool can touch.
	ErrInvalidVersion = errors.New("archive: invalid database version")

	// ErrTooNew means the file was written by a newer build.
	ErrTooNew = errors.New("archive: database version is newer than this build")

	// ErrUpgradeRefused means CanUpgrade declined the migration and the
	// archive was left unopened.
	ErrUpgradeRefused = errors.New("archive: upgrade refused")
)

// CanUpgradeFunc is consulted before migrating an older file. Returning
// false leaves the archive unopened and the file untouched.
type CanUpgradeFunc func(from, to int) bool

// UpgradeReporter observes migration progress. NextVersion is called once
// after each committed step.
type UpgradeReporter interface {
	NextVersion()
}

type nopReporter struct{}

func (nopReporter) NextVersion() {}

// migrations maps a source version to the DDL that lifts it one step.
// Every adjacent pair below SchemaVersion must be present; checked at open.
var migrations = map[int]string{
	1: migration1to2,
	2: migration2to3,
	3: migration3to4,
	4: migration4to5,
	5: migration5to6,
	6: migration6to7,
	7: migration7to8,
}

// openSchema detects the archive's version on the reserved connection and
// either initializes a fresh schema or walks the migrations to
// SchemaVersion. The version row is bumped only after a step commits, so an
// interrupted upgrade re-runs the failed step and nothing before it.
func openSchema(ctx context.Context, conn *sql.Conn, canUpgrade CanUpgradeFunc, reporter UpgradeReporter) error {
	if reporter == nil {
		reporter = nopReporter{}
	}

	if _, err := conn.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return fmt.Errorf("archive: create metadata: %w", err)
	}

	var raw string
	err := conn.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = 'version'`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return initializeSchemas(ctx, conn)
	case err != nil:
		return fmt.Errorf("archive: read version: %w", err)
	}

	version, perr := strconv.Atoi(raw)
	if perr != nil || version < 1 {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, raw)
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: file=%d build=%d", ErrTooNew, version, SchemaVersion)
	}
	if version == SchemaVersion {
		return nil
	}

	if canUpgrade != nil && !canUpgrade(version, SchemaVersion) {
		return fmt.Errorf("%w: from=%d to=%d", ErrUpgradeRefused, version, SchemaVersion)
	}

	for from := version; from < SchemaVersion; from++ {
		ddl, ok := migrations[from]
		if !ok {
			return fmt.Errorf("archive: no migration from version %d", from)
		}
		if err := applyMigration(ctx, conn, from, ddl); err != nil {
			return err
		}
		reporter.NextVersion()
	}
	return nil
}

// initializeSchemas creates the current schema in one transaction and stamps
// the version.
func initializeSchemas(ctx context.Context, conn *sql.Conn) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin init: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaCurrent); err != nil {
		return fmt.Errorf("archive: init schema: %w", err)
	}
	if err := writeVersion(ctx, tx, SchemaVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit init: %w", err)
	}
	return nil
}

func applyMigration(ctx context.Context, conn *sql.Conn, from int, ddl string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin migration %d: %w", from, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("archive: migrate %d to %d: %w", from, from+1, err)
	}
	if err := writeVersion(ctx, tx, from+1); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit migration %d: %w", from, err)
	}
	return nil
}

func writeVersion(ctx context.Context, tx *sql.Tx, v int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES ('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(v))
	if err != nil {
		return fmt.Errorf("archive: write version %d: %w", v, err)
	}
	return nil
}

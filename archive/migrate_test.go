package archive

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/hazyhaar/dhtrack/dbopen"
	_ "modernc.org/sqlite"
)

// schemaV1 is the shape of the oldest archives in the wild, used to seed
// upgrade-path tests.
const schemaV1 = `
CREATE TABLE metadata (key TEXT PRIMARY KEY, value TEXT);
CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, avatar_url TEXT);
CREATE TABLE servers (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE channels (id INTEGER PRIMARY KEY, server INTEGER NOT NULL, name TEXT NOT NULL);
CREATE TABLE messages (id INTEGER PRIMARY KEY, sender INTEGER NOT NULL, channel INTEGER NOT NULL, text TEXT NOT NULL, timestamp INTEGER NOT NULL);
CREATE TABLE edit_timestamps (message_id INTEGER PRIMARY KEY, edit_timestamp INTEGER NOT NULL);
CREATE TABLE replied_to (message_id INTEGER PRIMARY KEY, replied_to_id INTEGER NOT NULL);
CREATE TABLE attachments (attachment_id INTEGER PRIMARY KEY, message_id INTEGER NOT NULL, name TEXT NOT NULL, type TEXT, url TEXT NOT NULL, size INTEGER NOT NULL);
`

type countingReporter struct{ steps int }

func (r *countingReporter) NextVersion() { r.steps++ }

// seedFile writes a database at the given version and returns its path.
func seedFile(t *testing.T, version int, extra ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatalf("seed open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(schemaV1); err != nil {
		t.Fatalf("seed schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO metadata VALUES ('version', ?)`,
		strconv.Itoa(version)); err != nil {
		t.Fatalf("seed version: %v", err)
	}
	for _, stmt := range extra {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed extra: %v", err)
		}
	}
	return path
}

func TestUpgradeFromV1(t *testing.T) {
	// WHAT: A version-1 file with one user opens, migrates to the current
	// version, keeps the user, and gains the new tables empty.
	// WHY: The canonical upgrade-path scenario.
	path := seedFile(t, 1,
		`INSERT INTO users (id, name) VALUES (7, 'keeper')`,
		`INSERT INTO attachments VALUES (1, 2, 'a.png', 'image/png', 'https://cdn/x', 10)`)

	reporter := &countingReporter{}
	upgrades := 0
	a, err := Open(context.Background(), path,
		WithCanUpgrade(func(from, to int) bool {
			upgrades++
			if from != 1 || to != SchemaVersion {
				t.Errorf("CanUpgrade(%d, %d)", from, to)
			}
			return true
		}),
		WithReporter(reporter))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	ctx := context.Background()

	if upgrades != 1 {
		t.Errorf("CanUpgrade calls: got %d, want 1", upgrades)
	}
	if want := SchemaVersion - 1; reporter.steps != want {
		t.Errorf("reporter steps: got %d, want %d", reporter.steps, want)
	}

	var version string
	a.Pool().DB().QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = 'version'`).Scan(&version)
	if version != strconv.Itoa(SchemaVersion) {
		t.Errorf("version: got %q", version)
	}

	n, err := a.Users.CountAll(ctx)
	if err != nil || n != 1 {
		t.Errorf("users: n=%d err=%v", n, err)
	}

	// New tables exist and are empty.
	for _, table := range []string{"polls", "poll_answers", "download_metadata", "download_blobs", "embeds", "reactions"} {
		var c int64
		if err := a.Pool().DB().QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+table).Scan(&c); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		} else if c != 0 {
			t.Errorf("table %s: got %d rows, want 0", table, c)
		}
	}

	// The 4→5 attachment rework copied the verbatim URL into both columns.
	var normalized, download string
	if err := a.Pool().DB().QueryRowContext(ctx,
		`SELECT normalized_url, download_url FROM attachments WHERE attachment_id = 1`).
		Scan(&normalized, &download); err != nil {
		t.Fatalf("migrated attachment: %v", err)
	}
	if normalized != "https://cdn/x" || download != "https://cdn/x" {
		t.Errorf("migrated urls: %q / %q", normalized, download)
	}
}

func TestUpgradeFromIntermediateVersion(t *testing.T) {
	// WHAT: A file already at version 3 runs only the remaining steps.
	// WHY: Each committed step advances the version row; an interrupted
	// upgrade resumes exactly where it stopped instead of replaying.
	path := seedFile(t, 3,
		migration1to2,
		migration2to3)

	reporter := &countingReporter{}
	a, err := Open(context.Background(), path, WithReporter(reporter))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	if want := SchemaVersion - 3; reporter.steps != want {
		t.Errorf("resumed steps: got %d, want %d", reporter.steps, want)
	}
}

func TestUpgradeRefused(t *testing.T) {
	// WHAT: CanUpgrade returning false leaves the archive unopened and the
	// file at its old version.
	// WHY: The user must consent before an irreversible format change.
	path := seedFile(t, 1)

	_, err := Open(context.Background(), path,
		WithCanUpgrade(func(from, to int) bool { return false }))
	if !errors.Is(err, ErrUpgradeRefused) {
		t.Fatalf("got %v, want ErrUpgradeRefused", err)
	}

	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	defer db.Close()
	var version string
	db.QueryRow(`SELECT value FROM metadata WHERE key = 'version'`).Scan(&version)
	if version != "1" {
		t.Errorf("version after refusal: got %q, want 1", version)
	}
}

func TestTooNew(t *testing.T) {
	// WHAT: A file stamped one version above the build fails with ErrTooNew.
	// WHY: Writing into a newer format would corrupt it.
	path := seedFile(t, SchemaVersion+1)

	_, err := Open(context.Background(), path)
	if !errors.Is(err, ErrTooNew) {
		t.Errorf("got %v, want ErrTooNew", err)
	}
}

func TestInvalidVersion(t *testing.T) {
	// WHAT: Unparsable or sub-1 version values fail with ErrInvalidVersion.
	// WHY: Such a file is not an archive; refusing beats guessing.
	for _, bad := range []string{"zero", "0", "-3", ""} {
		path := filepath.Join(t.TempDir(), "bad.db")
		db, err := dbopen.Open(path)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		db.Exec(schemaV1)
		db.Exec(`INSERT INTO metadata VALUES ('version', ?)`, bad)
		db.Close()

		_, err = Open(context.Background(), path)
		if !errors.Is(err, ErrInvalidVersion) {
			t.Errorf("version %q: got %v, want ErrInvalidVersion", bad, err)
		}
	}
}

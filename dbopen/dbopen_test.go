package dbopen

import (
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestOpenAppliesPragmas(t *testing.T) {
	// WHAT: Open a file database and verify foreign_keys is enforced.
	// WHY: The archive schema relies on FK cascades for blob cleanup.
	path := filepath.Join(t.TempDir(), "archive.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("pragma foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys: got %d, want 1", fk)
	}
}

func TestWithMkdirAll(t *testing.T) {
	// WHAT: Open with WithMkdirAll creates missing parent directories.
	// WHY: First launch points at a data dir that does not exist yet.
	path := filepath.Join(t.TempDir(), "nested", "deep", "archive.db")
	db, err := Open(path, WithMkdirAll())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.Close()
}

func TestOpenMemory(t *testing.T) {
	// WHAT: OpenMemory yields a usable single-connection database.
	// WHY: Tests that need a throwaway database without a file use this helper.
	db := OpenMemory(t)
	if _, err := db.Exec("CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Exec("INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n); err != nil || n != 1 {
		t.Fatalf("count: n=%d err=%v", n, err)
	}
}

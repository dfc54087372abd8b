package archive

import (
	"context"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestArchive(t *testing.T, opts ...OpenOption) *Archive {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := Open(context.Background(), path, opts...)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func ptr[T any](v T) *T { return &v }

func TestFreshOpen(t *testing.T) {
	// WHAT: Opening a missing file creates the schema at the current version
	// with every count at zero.
	// WHY: First-launch behavior of the whole tool.
	a := openTestArchive(t)
	ctx := context.Background()

	var version string
	err := a.Pool().DB().QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = 'version'`).Scan(&version)
	if err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != "8" {
		t.Errorf("version: got %q, want %q", version, "8")
	}

	for name, count := range map[string]func(context.Context) (int64, error){
		"users":     a.Users.CountAll,
		"servers":   a.Servers.CountAll,
		"channels":  a.Channels.CountAll,
		"messages":  a.Messages.CountAll,
		"downloads": a.Downloads.CountAll,
	} {
		n, err := count(ctx)
		if err != nil {
			t.Fatalf("count %s: %v", name, err)
		}
		if n != 0 {
			t.Errorf("%s count: got %d, want 0", name, n)
		}
	}
}

func TestReopenExisting(t *testing.T) {
	// WHAT: An archive at the current version reopens without migrating and
	// keeps its data.
	// WHY: Running migrations on an already-current database must be a no-op.
	path := filepath.Join(t.TempDir(), "archive.db")
	ctx := context.Background()

	a, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := a.Users.Add(ctx, []User{{ID: 1, Name: "ann"}}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reporter := &countingReporter{}
	b, err := Open(ctx, path, WithReporter(reporter))
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer b.Close()

	if reporter.steps != 0 {
		t.Errorf("migration steps on current file: got %d, want 0", reporter.steps)
	}
	n, err := b.Users.CountAll(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("users after reopen: got %d, want 1", n)
	}
}

func TestClosedSignal(t *testing.T) {
	// WHAT: Close signals the Closed channel and further pool acquisitions fail.
	// WHY: The shell tears down UI state on that signal.
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	select {
	case <-a.Closed():
		t.Fatal("closed before Close")
	default:
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case <-a.Closed():
	default:
		t.Error("Closed not signalled")
	}

	if _, err := a.Pool().Acquire(context.Background()); err != ErrPoolClosed {
		t.Errorf("acquire after close: got %v, want ErrPoolClosed", err)
	}
}

func TestCountersSeededOnOpen(t *testing.T) {
	// WHAT: Reopening a populated archive seeds each TotalCount with the real
	// row count before any mutation.
	// WHY: Subscribers must render correct counts immediately.
	path := filepath.Join(t.TempDir(), "archive.db")
	ctx := context.Background()

	a, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a.Servers.Add(ctx, []Server{{ID: 5, Name: "s", Type: ServerTypeServer}})
	a.Close()

	b, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	ch, cancel := b.Servers.TotalCount().Subscribe()
	defer cancel()
	if v := <-ch; v != 1 {
		t.Errorf("seeded server count: got %d, want 1", v)
	}
}

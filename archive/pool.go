package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/hazyhaar/dhtrack/dbopen"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("archive: pool closed")

// Pool is a bounded set of connections to one archive file. Acquire blocks
// until a connection is free (or ctx expires) and hands out a *sql.Conn
// whose Close returns it to the pool. One extra connection beyond capacity
// is reserved at open time for schema and migration work so a long ingest
// burst cannot starve an upgrade.
type Pool struct {
	db     *sql.DB
	size   int
	closed atomic.Bool
}

// DefaultPoolSize is the capacity used when none is configured.
func DefaultPoolSize() int {
	return max(4, runtime.GOMAXPROCS(0))
}

// newPool opens path with size worker connections plus the schema reserve.
func newPool(path string, size int) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	db, err := dbopen.Open(path, dbopen.WithMaxConns(size+1), dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	return &Pool{db: db, size: size}, nil
}

// Acquire borrows a connection. The caller must Close it; deferring the
// Close scopes the borrow to the calling function.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		if p.closed.Load() {
			return nil, ErrPoolClosed
		}
		return nil, fmt.Errorf("archive: acquire: %w", err)
	}
	return conn, nil
}

// DB exposes the underlying handle for transactional work; database/sql
// enforces the same connection cap.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Size is the configured worker capacity.
func (p *Pool) Size() int {
	return p.size
}

// Close marks the pool terminal and closes the file once in-flight borrows
// are returned. Pending Acquire calls fail with ErrPoolClosed.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.db.Close()
}

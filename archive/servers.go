package archive

import (
	"context"
	"fmt"
	"iter"

	"github.com/hazyhaar/dhtrack/observe"
)

// ServersRepository owns the servers table.
type ServersRepository struct {
	pool  *Pool
	total *observe.Counter
}

var serverUpsert = upsertSQL("servers",
	[]string{"id"},
	[]string{"name", "type"})

// Add upserts a batch of servers in one transaction.
func (r *ServersRepository) Add(ctx context.Context, servers []Server) error {
	if len(servers) == 0 {
		return nil
	}
	tx, err := r.pool.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin servers: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, serverUpsert)
	if err != nil {
		return fmt.Errorf("archive: prepare servers: %w", err)
	}
	defer stmt.Close()

	for _, s := range servers {
		typ := s.Type
		if typ == "" {
			typ = ServerTypeServer
		}
		if _, err := stmt.ExecContext(ctx, signed(s.ID), s.Name, string(typ)); err != nil {
			return fmt.Errorf("archive: upsert server %d: %w", s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit servers: %w", err)
	}
	r.updateTotalCount(ctx)
	return nil
}

// CountAll returns the number of stored servers.
func (r *ServersRepository) CountAll(ctx context.Context) (int64, error) {
	return countTable(ctx, r.pool.DB(), "servers")
}

// All iterates every stored server.
func (r *ServersRepository) All(ctx context.Context) iter.Seq2[Server, error] {
	return func(yield func(Server, error) bool) {
		conn, err := r.pool.Acquire(ctx)
		if err != nil {
			yield(Server{}, err)
			return
		}
		defer conn.Close()

		rows, err := conn.QueryContext(ctx, `SELECT id, name, type FROM servers ORDER BY id`)
		if err != nil {
			yield(Server{}, fmt.Errorf("archive: query servers: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var s Server
			var id int64
			var typ string
			if err := rows.Scan(&id, &s.Name, &typ); err != nil {
				yield(Server{}, fmt.Errorf("archive: scan server: %w", err))
				return
			}
			s.ID = unsigned(id)
			s.Type = ServerType(typ)
			if !yield(s, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Server{}, err)
		}
	}
}

// TotalCount is the repository's hot row-count observable.
func (r *ServersRepository) TotalCount() *observe.Counter {
	return r.total
}

func (r *ServersRepository) updateTotalCount(ctx context.Context) {
	if n, err := r.CountAll(ctx); err == nil {
		r.total.Set(n)
	}
}

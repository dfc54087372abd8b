package archive

import (
	"context"
	"fmt"
	"iter"

	"github.com/hazyhaar/dhtrack/observe"
)

// UsersRepository owns the users table.
type UsersRepository struct {
	pool  *Pool
	total *observe.Counter
}

var userUpsert = upsertSQL("users",
	[]string{"id"},
	[]string{"name", "avatar_url", "discriminator"})

// Add upserts a batch of users in one transaction.
func (r *UsersRepository) Add(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	tx, err := r.pool.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin users: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, userUpsert)
	if err != nil {
		return fmt.Errorf("archive: prepare users: %w", err)
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, signed(u.ID), u.Name, u.AvatarURL, u.Discriminator); err != nil {
			return fmt.Errorf("archive: upsert user %d: %w", u.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit users: %w", err)
	}
	r.updateTotalCount(ctx)
	return nil
}

// CountAll returns the number of stored users.
func (r *UsersRepository) CountAll(ctx context.Context) (int64, error) {
	return countTable(ctx, r.pool.DB(), "users")
}

// All iterates every stored user. The borrowed connection is held until the
// sequence is exhausted or the caller stops early.
func (r *UsersRepository) All(ctx context.Context) iter.Seq2[User, error] {
	return func(yield func(User, error) bool) {
		conn, err := r.pool.Acquire(ctx)
		if err != nil {
			yield(User{}, err)
			return
		}
		defer conn.Close()

		rows, err := conn.QueryContext(ctx,
			`SELECT id, name, avatar_url, discriminator FROM users ORDER BY id`)
		if err != nil {
			yield(User{}, fmt.Errorf("archive: query users: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var u User
			var id int64
			if err := rows.Scan(&id, &u.Name, &u.AvatarURL, &u.Discriminator); err != nil {
				yield(User{}, fmt.Errorf("archive: scan user: %w", err))
				return
			}
			u.ID = unsigned(id)
			if !yield(u, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(User{}, err)
		}
	}
}

// TotalCount is the repository's hot row-count observable.
func (r *UsersRepository) TotalCount() *observe.Counter {
	return r.total
}

func (r *UsersRepository) updateTotalCount(ctx context.Context) {
	if n, err := r.CountAll(ctx); err == nil {
		r.total.Set(n)
	}
}

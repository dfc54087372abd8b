package archive

import (
	"context"
	"fmt"
	"iter"

	"github.com/hazyhaar/dhtrack/observe"
)

// ChannelsRepository owns the channels table.
type ChannelsRepository struct {
	pool  *Pool
	total *observe.Counter
}

var channelUpsert = upsertSQL("channels",
	[]string{"id"},
	[]string{"server", "name", "parent_id", "position", "topic", "nsfw"})

// Add upserts a batch of channels in one transaction.
func (r *ChannelsRepository) Add(ctx context.Context, channels []Channel) error {
	if len(channels) == 0 {
		return nil
	}
	tx, err := r.pool.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin channels: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, channelUpsert)
	if err != nil {
		return fmt.Errorf("archive: prepare channels: %w", err)
	}
	defer stmt.Close()

	for _, c := range channels {
		var nsfw *int64
		if c.NSFW != nil {
			v := int64(0)
			if *c.NSFW {
				v = 1
			}
			nsfw = &v
		}
		if _, err := stmt.ExecContext(ctx,
			signed(c.ID), signed(c.ServerID), c.Name,
			signedPtr(c.ParentID), c.Position, c.Topic, nsfw); err != nil {
			return fmt.Errorf("archive: upsert channel %d: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit channels: %w", err)
	}
	r.updateTotalCount(ctx)
	return nil
}

// CountAll returns the number of stored channels.
func (r *ChannelsRepository) CountAll(ctx context.Context) (int64, error) {
	return countTable(ctx, r.pool.DB(), "channels")
}

// All iterates every stored channel.
func (r *ChannelsRepository) All(ctx context.Context) iter.Seq2[Channel, error] {
	return func(yield func(Channel, error) bool) {
		conn, err := r.pool.Acquire(ctx)
		if err != nil {
			yield(Channel{}, err)
			return
		}
		defer conn.Close()

		rows, err := conn.QueryContext(ctx,
			`SELECT id, server, name, parent_id, position, topic, nsfw
			 FROM channels ORDER BY id`)
		if err != nil {
			yield(Channel{}, fmt.Errorf("archive: query channels: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var c Channel
			var id, server int64
			var parent *int64
			var nsfw *int64
			if err := rows.Scan(&id, &server, &c.Name, &parent, &c.Position, &c.Topic, &nsfw); err != nil {
				yield(Channel{}, fmt.Errorf("archive: scan channel: %w", err))
				return
			}
			c.ID = unsigned(id)
			c.ServerID = unsigned(server)
			c.ParentID = unsignedPtr(parent)
			if nsfw != nil {
				v := *nsfw != 0
				c.NSFW = &v
			}
			if !yield(c, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Channel{}, err)
		}
	}
}

// TotalCount is the repository's hot row-count observable.
func (r *ChannelsRepository) TotalCount() *observe.Counter {
	return r.total
}

func (r *ChannelsRepository) updateTotalCount(ctx context.Context) {
	if n, err := r.CountAll(ctx); err == nil {
		r.total.Set(n)
	}
}

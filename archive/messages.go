package archive

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"github.com/hazyhaar/dhtrack/observe"
)

// MessagesRepository owns the messages table and every table keyed by
// message id: edit timestamps, replies, attachments, embeds, reactions, and
// polls. Re-adding a message id replaces all of its dependent rows in the
// same transaction, which keeps ingest idempotent even for the keyless
// embed and reaction tables.
type MessagesRepository struct {
	pool        *Pool
	total       *observe.Counter
	attachments *AttachmentsCounter
}

// AttachmentsCounter exposes the attachment row count; attachments have no
// repository of their own since the messages transaction owns their rows.
type AttachmentsCounter struct {
	pool  *Pool
	total *observe.Counter
}

// CountAll returns the number of stored attachments.
func (a *AttachmentsCounter) CountAll(ctx context.Context) (int64, error) {
	return countTable(ctx, a.pool.DB(), "attachments")
}

// TotalCount is the attachments row-count observable.
func (a *AttachmentsCounter) TotalCount() *observe.Counter {
	return a.total
}

var messageUpsert = upsertSQL("messages",
	[]string{"id"},
	[]string{"sender", "channel", "text", "timestamp"})

var dependentTables = []string{
	"edit_timestamps", "replied_to", "attachments",
	"embeds", "reactions", "polls", "poll_answers",
}

// Add upserts a batch of messages and their dependent rows atomically.
// Duplicate attachment ids inside one message keep the first occurrence.
func (r *MessagesRepository) Add(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := r.pool.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin messages: %w", err)
	}
	defer tx.Rollback()

	for _, m := range messages {
		if err := addMessage(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit messages: %w", err)
	}
	r.updateTotalCount(ctx)
	r.attachments.updateTotalCount(ctx)
	return nil
}

func addMessage(ctx context.Context, tx *sql.Tx, m Message) error {
	id := signed(m.ID)

	if _, err := tx.ExecContext(ctx, messageUpsert,
		id, signed(m.Sender), signed(m.Channel), m.Text, m.Timestamp); err != nil {
		return fmt.Errorf("archive: upsert message %d: %w", m.ID, err)
	}

	for _, table := range dependentTables {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE message_id = ?", id); err != nil {
			return fmt.Errorf("archive: clear %s for %d: %w", table, m.ID, err)
		}
	}

	if m.EditTimestamp != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO edit_timestamps (message_id, edit_timestamp) VALUES (?, ?)`,
			id, *m.EditTimestamp); err != nil {
			return fmt.Errorf("archive: edit timestamp %d: %w", m.ID, err)
		}
	}
	if m.RepliedToID != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO replied_to (message_id, replied_to_id) VALUES (?, ?)`,
			id, signed(*m.RepliedToID)); err != nil {
			return fmt.Errorf("archive: reply %d: %w", m.ID, err)
		}
	}

	seen := make(map[uint64]bool, len(m.Attachments))
	for _, a := range m.Attachments {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (attachment_id, message_id, name, type,
			     normalized_url, download_url, size, width, height)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(attachment_id) DO UPDATE SET
			     message_id = excluded.message_id, name = excluded.name,
			     type = excluded.type, normalized_url = excluded.normalized_url,
			     download_url = excluded.download_url, size = excluded.size,
			     width = excluded.width, height = excluded.height`,
			signed(a.ID), id, a.Name, a.Type,
			a.NormalizedURL, a.DownloadURL, a.Size, a.Width, a.Height); err != nil {
			return fmt.Errorf("archive: attachment %d: %w", a.ID, err)
		}
	}

	for _, e := range m.Embeds {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO embeds (message_id, json) VALUES (?, ?)`, id, e); err != nil {
			return fmt.Errorf("archive: embed for %d: %w", m.ID, err)
		}
	}

	for _, re := range m.Reactions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reactions (message_id, emoji_id, emoji_name, emoji_flags, count)
			 VALUES (?, ?, ?, ?, ?)`,
			id, signedPtr(re.EmojiID), re.EmojiName, re.EmojiFlags, re.Count); err != nil {
			return fmt.Errorf("archive: reaction for %d: %w", m.ID, err)
		}
	}

	if m.Poll != nil {
		multi := int64(0)
		if m.Poll.MultiSelect {
			multi = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO polls (message_id, question, multi_select, expiry_timestamp)
			 VALUES (?, ?, ?, ?)`,
			id, m.Poll.Question, multi, m.Poll.ExpiryTimestamp); err != nil {
			return fmt.Errorf("archive: poll for %d: %w", m.ID, err)
		}
		for _, ans := range m.Poll.Answers {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO poll_answers (message_id, answer_id, text, emoji_id, emoji_name, emoji_flags)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				id, ans.AnswerID, ans.Text,
				signedPtr(ans.EmojiID), ans.EmojiName, ans.EmojiFlags); err != nil {
				return fmt.Errorf("archive: poll answer for %d: %w", m.ID, err)
			}
		}
	}
	return nil
}

// CountAll returns the number of stored messages.
func (r *MessagesRepository) CountAll(ctx context.Context) (int64, error) {
	return countTable(ctx, r.pool.DB(), "messages")
}

// CountIn returns how many of the given ids are already stored. The ingest
// layer uses it for new-vs-seen reporting before an Add.
func (r *MessagesRepository) CountIn(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = signed(id)
	}
	var n int64
	err := r.pool.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE id IN ("+placeholders(len(ids))+")",
		args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("archive: count messages in set: %w", err)
	}
	return n, nil
}

// All iterates stored messages in id order with their dependent rows
// loaded. The borrowed connection is held until the sequence ends.
func (r *MessagesRepository) All(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		conn, err := r.pool.Acquire(ctx)
		if err != nil {
			yield(Message{}, err)
			return
		}
		defer conn.Close()

		rows, err := conn.QueryContext(ctx,
			`SELECT m.id, m.sender, m.channel, m.text, m.timestamp,
			        e.edit_timestamp, rt.replied_to_id
			 FROM messages m
			 LEFT JOIN edit_timestamps e ON e.message_id = m.id
			 LEFT JOIN replied_to rt ON rt.message_id = m.id
			 ORDER BY m.id`)
		if err != nil {
			yield(Message{}, fmt.Errorf("archive: query messages: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var m Message
			var id, sender, channel int64
			var replied *int64
			if err := rows.Scan(&id, &sender, &channel, &m.Text, &m.Timestamp,
				&m.EditTimestamp, &replied); err != nil {
				yield(Message{}, fmt.Errorf("archive: scan message: %w", err))
				return
			}
			m.ID = unsigned(id)
			m.Sender = unsigned(sender)
			m.Channel = unsigned(channel)
			m.RepliedToID = unsignedPtr(replied)

			// Dependent rows load on the pool's shared handle; the iteration
			// connection stays pinned to the messages cursor.
			if err := r.loadDependents(ctx, &m); err != nil {
				yield(Message{}, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Message{}, err)
		}
	}
}

func (r *MessagesRepository) loadDependents(ctx context.Context, m *Message) error {
	db := r.pool.DB()
	id := signed(m.ID)

	rows, err := db.QueryContext(ctx,
		`SELECT attachment_id, name, type, normalized_url, download_url, size, width, height
		 FROM attachments WHERE message_id = ? ORDER BY rowid`, id)
	if err != nil {
		return fmt.Errorf("archive: query attachments: %w", err)
	}
	for rows.Next() {
		var a Attachment
		var aid int64
		if err := rows.Scan(&aid, &a.Name, &a.Type, &a.NormalizedURL,
			&a.DownloadURL, &a.Size, &a.Width, &a.Height); err != nil {
			rows.Close()
			return fmt.Errorf("archive: scan attachment: %w", err)
		}
		a.ID = unsigned(aid)
		m.Attachments = append(m.Attachments, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = db.QueryContext(ctx,
		`SELECT json FROM embeds WHERE message_id = ? ORDER BY rowid`, id)
	if err != nil {
		return fmt.Errorf("archive: query embeds: %w", err)
	}
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			rows.Close()
			return fmt.Errorf("archive: scan embed: %w", err)
		}
		m.Embeds = append(m.Embeds, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = db.QueryContext(ctx,
		`SELECT emoji_id, emoji_name, emoji_flags, count
		 FROM reactions WHERE message_id = ? ORDER BY rowid`, id)
	if err != nil {
		return fmt.Errorf("archive: query reactions: %w", err)
	}
	for rows.Next() {
		var re Reaction
		var eid *int64
		if err := rows.Scan(&eid, &re.EmojiName, &re.EmojiFlags, &re.Count); err != nil {
			rows.Close()
			return fmt.Errorf("archive: scan reaction: %w", err)
		}
		re.EmojiID = unsignedPtr(eid)
		m.Reactions = append(m.Reactions, re)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var poll Poll
	var multi int64
	err = db.QueryRowContext(ctx,
		`SELECT question, multi_select, expiry_timestamp FROM polls WHERE message_id = ?`,
		id).Scan(&poll.Question, &multi, &poll.ExpiryTimestamp)
	switch {
	case err == sql.ErrNoRows:
		return nil
	case err != nil:
		return fmt.Errorf("archive: query poll: %w", err)
	}
	poll.MultiSelect = multi != 0

	rows, err = db.QueryContext(ctx,
		`SELECT answer_id, text, emoji_id, emoji_name, emoji_flags
		 FROM poll_answers WHERE message_id = ? ORDER BY answer_id`, id)
	if err != nil {
		return fmt.Errorf("archive: query poll answers: %w", err)
	}
	for rows.Next() {
		var ans PollAnswer
		var eid *int64
		if err := rows.Scan(&ans.AnswerID, &ans.Text, &eid, &ans.EmojiName, &ans.EmojiFlags); err != nil {
			rows.Close()
			return fmt.Errorf("archive: scan poll answer: %w", err)
		}
		ans.EmojiID = unsignedPtr(eid)
		poll.Answers = append(poll.Answers, ans)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	m.Poll = &poll
	return nil
}

// TotalCount is the messages row-count observable.
func (r *MessagesRepository) TotalCount() *observe.Counter {
	return r.total
}

// Attachments exposes the attachment count surface.
func (r *MessagesRepository) Attachments() *AttachmentsCounter {
	return r.attachments
}

func (r *MessagesRepository) updateTotalCount(ctx context.Context) {
	if n, err := r.CountAll(ctx); err == nil {
		r.total.Set(n)
	}
}

func (a *AttachmentsCounter) updateTotalCount(ctx context.Context) {
	if n, err := a.CountAll(ctx); err == nil {
		a.total.Set(n)
	}
}

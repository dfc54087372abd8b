package archive

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"
)

func sampleMessage() Message {
	return Message{
		ID:        100,
		Sender:    7,
		Channel:   2,
		Text:      "hello",
		Timestamp: 1700000000000,
		EditTimestamp: ptr(int64(1700000001000)),
		RepliedToID:   ptr(uint64(99)),
		Attachments: []Attachment{{
			ID:            555,
			Name:          "pic.png",
			Type:          ptr("image/png"),
			NormalizedURL: "https://cdn.discordapp.com/attachments/2/555/pic.png",
			DownloadURL:   "https://cdn.discordapp.com/attachments/2/555/pic.png?ex=a",
			Size:          1234,
			Width:         ptr(int64(640)),
			Height:        ptr(int64(480)),
		}},
		Embeds: []string{`{"title":"t"}`, `{"title":"u"}`},
		Reactions: []Reaction{
			{EmojiName: ptr("👍"), Count: 3},
			{EmojiID: ptr(uint64(42)), EmojiName: ptr("blob"), EmojiFlags: 1, Count: 1},
		},
		Poll: &Poll{
			Question:        "soup?",
			MultiSelect:     true,
			ExpiryTimestamp: 1700009999000,
			Answers: []PollAnswer{
				{AnswerID: 1, Text: "yes", EmojiName: ptr("🍜")},
				{AnswerID: 2, Text: "no"},
			},
		},
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	// WHAT: A fully loaded message reads back with all dependent rows.
	// WHY: Ingest→read-back equality is the core archival guarantee.
	a := openTestArchive(t)
	ctx := context.Background()

	if err := a.Messages.Add(ctx, []Message{sampleMessage()}); err != nil {
		t.Fatalf("add: %v", err)
	}

	var got []Message
	for m, err := range a.Messages.All(ctx) {
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		got = append(got, m)
	}
	if len(got) != 1 {
		t.Fatalf("messages: got %d, want 1", len(got))
	}

	m := got[0]
	if m.ID != 100 || m.Sender != 7 || m.Channel != 2 || m.Text != "hello" {
		t.Errorf("core fields: %+v", m)
	}
	if m.EditTimestamp == nil || *m.EditTimestamp != 1700000001000 {
		t.Errorf("edit timestamp: %v", m.EditTimestamp)
	}
	if m.RepliedToID == nil || *m.RepliedToID != 99 {
		t.Errorf("replied to: %v", m.RepliedToID)
	}
	if len(m.Attachments) != 1 || m.Attachments[0].ID != 555 {
		t.Fatalf("attachments: %+v", m.Attachments)
	}
	if m.Attachments[0].Width == nil || *m.Attachments[0].Width != 640 {
		t.Errorf("width: %v", m.Attachments[0].Width)
	}
	if len(m.Embeds) != 2 || m.Embeds[0] != `{"title":"t"}` {
		t.Errorf("embeds: %v", m.Embeds)
	}
	if len(m.Reactions) != 2 || *m.Reactions[0].EmojiName != "👍" || m.Reactions[0].Count != 3 {
		t.Errorf("reactions: %+v", m.Reactions)
	}
	if m.Poll == nil || !m.Poll.MultiSelect || len(m.Poll.Answers) != 2 {
		t.Fatalf("poll: %+v", m.Poll)
	}
}

func TestReAddIsIdempotent(t *testing.T) {
	// WHAT: Adding the identical message twice leaves every count unchanged,
	// including the keyless embed and reaction tables.
	// WHY: The capture script re-submits whatever is on screen; ingest must
	// be order-independent and repeat-safe.
	a := openTestArchive(t)
	ctx := context.Background()

	if err := a.Messages.Add(ctx, []Message{sampleMessage()}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := a.Messages.Add(ctx, []Message{sampleMessage()}); err != nil {
		t.Fatalf("second add: %v", err)
	}

	for table, want := range map[string]int64{
		"messages": 1, "attachments": 1, "embeds": 2, "reactions": 2,
		"polls": 1, "poll_answers": 2, "edit_timestamps": 1, "replied_to": 1,
	} {
		var n int64
		if err := a.Pool().DB().QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != want {
			t.Errorf("%s: got %d rows, want %d", table, n, want)
		}
	}
}

func TestReAddReplacesFields(t *testing.T) {
	// WHAT: Re-adding an id with different content is last-write-wins.
	// WHY: An edited message replaces its earlier capture.
	a := openTestArchive(t)
	ctx := context.Background()

	m := sampleMessage()
	a.Messages.Add(ctx, []Message{m})

	m.Text = "edited"
	m.Embeds = []string{`{"new":true}`}
	m.Reactions = nil
	m.Poll = nil
	if err := a.Messages.Add(ctx, []Message{m}); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	for got, err := range a.Messages.All(ctx) {
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		if got.Text != "edited" {
			t.Errorf("text: %q", got.Text)
		}
		if len(got.Embeds) != 1 || got.Embeds[0] != `{"new":true}` {
			t.Errorf("embeds: %v", got.Embeds)
		}
		if len(got.Reactions) != 0 || got.Poll != nil {
			t.Errorf("stale dependents survived: %+v", got)
		}
	}
}

func TestDuplicateAttachmentIDs(t *testing.T) {
	// WHAT: Two wire-level attachment entries with the same id store once,
	// first occurrence winning.
	// WHY: The capture script can report the same attachment twice.
	a := openTestArchive(t)
	ctx := context.Background()

	m := sampleMessage()
	dup := m.Attachments[0]
	dup.Name = "second.png"
	m.Attachments = append(m.Attachments, dup)

	if err := a.Messages.Add(ctx, []Message{m}); err != nil {
		t.Fatalf("add: %v", err)
	}

	n, err := a.Messages.Attachments().CountAll(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("attachments: got %d, want 1", n)
	}

	var name string
	a.Pool().DB().QueryRowContext(ctx,
		`SELECT name FROM attachments WHERE attachment_id = 555`).Scan(&name)
	if name != "pic.png" {
		t.Errorf("first occurrence lost: %q", name)
	}
}

func TestCountIn(t *testing.T) {
	// WHAT: CountIn reports how many of the given ids exist.
	// WHY: The ingest layer's new-vs-seen response depends on it.
	a := openTestArchive(t)
	ctx := context.Background()

	m1 := sampleMessage()
	m2 := sampleMessage()
	m2.ID = 101
	a.Messages.Add(ctx, []Message{m1, m2})

	n, err := a.Messages.CountIn(ctx, []uint64{100, 101, 102})
	if err != nil {
		t.Fatalf("count in: %v", err)
	}
	if n != 2 {
		t.Errorf("got %d, want 2", n)
	}

	n, err = a.Messages.CountIn(ctx, nil)
	if err != nil || n != 0 {
		t.Errorf("empty set: n=%d err=%v", n, err)
	}
}

func TestTotalCountEmission(t *testing.T) {
	// WHAT: The messages TotalCount observable advances after Add.
	// WHY: The UI statistics panel subscribes to it.
	a := openTestArchive(t)
	ctx := context.Background()

	ch, cancel := a.Messages.TotalCount().Subscribe()
	defer cancel()
	if v := <-ch; v != 0 {
		t.Fatalf("initial: %d", v)
	}

	a.Messages.Add(ctx, []Message{sampleMessage()})
	if v := <-ch; v != 1 {
		t.Errorf("after add: got %d, want 1", v)
	}
}

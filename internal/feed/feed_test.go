package feed

import (
	"context"
	"sync"
	"testing"

	"github.com/neon/messenger/internal/conversation"
	"github.com/neon/messenger/internal/store"
)

type capture struct {
	mu    sync.Mutex
	lists [][]Message
}

func (c *capture) render(msgs []Message) {
	c.mu.Lock()
	c.lists = append(c.lists, msgs)
	c.mu.Unlock()
}

func (c *capture) last() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lists) == 0 {
		return nil
	}
	return c.lists[len(c.lists)-1]
}

func texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestFeedRendersOrderedSnapshot(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	path := store.Join("chats", conversation.DirectKey("u1", "u2"), "messages")

	// Delivered newest-first to prove the feed re-sorts rather than
	// trusting delivery order.
	m.Append(ctx, path, store.Value{"text": "hello", "senderId": "u2", "senderName": "B", "timestamp": int64(200)})
	m.Append(ctx, path, store.Value{"text": "hi", "senderId": "u1", "senderName": "A", "timestamp": int64(100)})

	var c capture
	f := New(m, c.render)
	if err := f.Open(ctx, path); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer f.Close()

	got := texts(f.Messages())
	if len(got) != 2 || got[0] != "hi" || got[1] != "hello" {
		t.Errorf("expected [hi hello], got %v", got)
	}
}

func TestFeedLiveUpdate(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	path := "support/u1/messages"

	var c capture
	f := New(m, c.render)
	if err := f.Open(ctx, path); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer f.Close()

	m.Append(ctx, path, store.Value{"text": "help", "senderId": "u1", "timestamp": int64(10)})
	m.Append(ctx, path, store.Value{"text": "on it", "senderId": "admin", "timestamp": int64(20)})

	got := texts(c.last())
	if len(got) != 2 || got[0] != "help" || got[1] != "on it" {
		t.Errorf("expected [help on it], got %v", got)
	}
}

func TestSecondOpenDetachesFirst(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	var c capture
	f := New(m, c.render)
	if err := f.Open(ctx, "chats/a_b/messages"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := f.Open(ctx, "chats/a_c/messages"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer f.Close()

	// A write to the first conversation must not repaint the view.
	before := len(c.lists)
	m.Append(ctx, "chats/a_b/messages", store.Value{"text": "stale", "timestamp": int64(1)})
	if len(c.lists) != before {
		t.Fatalf("detached subscription delivered a snapshot")
	}

	m.Append(ctx, "chats/a_c/messages", store.Value{"text": "fresh", "timestamp": int64(2)})
	got := texts(f.Messages())
	if len(got) != 1 || got[0] != "fresh" {
		t.Errorf("expected [fresh], got %v", got)
	}
}

func TestFeedWindow(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	path := "privateChats/AB12CD34/messages"

	for i := 0; i < Window+10; i++ {
		m.Append(ctx, path, store.Value{"text": "m", "timestamp": int64(i)})
	}

	f := New(m, nil)
	if err := f.Open(ctx, path); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer f.Close()

	msgs := f.Messages()
	if len(msgs) != Window {
		t.Fatalf("expected %d messages, got %d", Window, len(msgs))
	}
	if msgs[0].Timestamp != 10 {
		t.Errorf("window kept oldest messages: first ts=%d", msgs[0].Timestamp)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	f := New(m, nil)
	if err := f.Open(ctx, "chats/a_b/messages"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	f.Close()
	f.Close()

	if f.Path() != "" {
		t.Errorf("expected empty path after close, got %q", f.Path())
	}
	if len(f.Messages()) != 0 {
		t.Errorf("expected empty materialized list after close")
	}
}

func TestStaleSnapshotDoesNotRenderAfterClose(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	var c capture
	f := New(m, c.render)
	if err := f.Open(ctx, "chats/a_b/messages"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	f.mu.Lock()
	gen := f.gen
	f.mu.Unlock()

	f.Close()

	// A snapshot captured before Close must be dropped, not repainted.
	before := len(c.lists)
	f.apply(gen, store.Snapshot{
		{Key: "k1", Value: store.Value{"text": "stale", "timestamp": int64(1)}},
	})
	if len(c.lists) != before {
		t.Fatalf("superseded snapshot rendered after close")
	}
	if len(f.Messages()) != 0 {
		t.Errorf("superseded snapshot materialized after close")
	}
}

func TestTimestampTiesKeepSnapshotOrder(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	path := "chats/a_b/messages"

	m.Append(ctx, path, store.Value{"text": "one", "timestamp": int64(100)})
	m.Append(ctx, path, store.Value{"text": "two", "timestamp": int64(100)})

	f := New(m, nil)
	if err := f.Open(ctx, path); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer f.Close()

	first := texts(f.Messages())
	// Re-open and verify the tie order is stable across snapshots.
	if err := f.Open(ctx, path); err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	second := texts(f.Messages())
	if first[0] != second[0] || first[1] != second[1] {
		t.Errorf("tie order unstable: %v vs %v", first, second)
	}
}

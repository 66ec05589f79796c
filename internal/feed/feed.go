// Package feed maintains the live, materialized view of one
// conversation's messages. A Feed owns a single view slot: opening a new
// path always detaches the previous subscription first, so a stale
// listener can never repaint the view after the user has moved on.
package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/neon/messenger/internal/metrics"
	"github.com/neon/messenger/internal/store"
)

// Window is the number of most recent messages kept live per
// conversation.
const Window = 50

// Message is one immutable chat message. SenderName was denormalized at
// write time and is never re-resolved.
type Message struct {
	ID         string
	Text       string
	SenderID   string
	SenderName string
	Timestamp  int64 // unix ms, client clock
}

// DecodeMessage builds a message from a store entry.
func DecodeMessage(e store.Entry) Message {
	return Message{
		ID:         e.Key,
		Text:       store.Str(e.Value, "text", ""),
		SenderID:   store.Str(e.Value, "senderId", ""),
		SenderName: store.Str(e.Value, "senderName", "User"),
		Timestamp:  store.Int64(e.Value, "timestamp"),
	}
}

// RenderFunc receives the full ordered message list after every
// snapshot. It must not call back into the Feed.
type RenderFunc func([]Message)

// Feed is one view slot. All methods are safe for concurrent use.
type Feed struct {
	store  store.Store
	render RenderFunc

	mu       sync.Mutex
	current  store.Subscription
	gen      uint64
	path     string
	messages []Message
}

// New creates a feed that repaints through render.
func New(s store.Store, render RenderFunc) *Feed {
	return &Feed{store: s, render: render}
}

// Open points the slot at a new conversation path. Any previous
// subscription is detached first and its buffered state discarded. On
// subscribe failure the slot is left empty; the caller retries only by
// re-selecting the conversation.
func (f *Feed) Open(ctx context.Context, path string) error {
	f.mu.Lock()
	f.detachLocked()
	f.gen++
	gen := f.gen
	f.path = path
	f.messages = nil
	f.mu.Unlock()

	q := store.Query{OrderBy: "timestamp", LimitToLast: Window}
	sub, err := f.store.Subscribe(ctx, path, q, func(snap store.Snapshot) {
		f.apply(gen, snap)
	})
	if err != nil {
		return fmt.Errorf("feed: open %s: %w", path, err)
	}

	f.mu.Lock()
	if gen != f.gen {
		// The slot moved on while we were subscribing.
		f.mu.Unlock()
		sub.Close()
		return nil
	}
	f.current = sub
	f.mu.Unlock()

	metrics.ActiveFeeds.Inc()
	return nil
}

// Close detaches the slot. Double close is a no-op.
func (f *Feed) Close() {
	f.mu.Lock()
	f.gen++
	f.path = ""
	f.messages = nil
	f.detachLocked()
	f.mu.Unlock()
}

func (f *Feed) detachLocked() {
	if f.current != nil {
		f.current.Close()
		f.current = nil
		metrics.ActiveFeeds.Dec()
	}
}

// Path returns the currently open conversation path, "" when closed.
func (f *Feed) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// Messages returns a copy of the materialized, time-ordered list.
func (f *Feed) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// apply replaces the materialized list with a fresh snapshot. The engine
// already orders entries, but delivery order is re-sorted defensively
// rather than trusted.
func (f *Feed) apply(gen uint64, snap store.Snapshot) {
	msgs := make([]Message, 0, len(snap))
	for _, e := range snap {
		msgs = append(msgs, DecodeMessage(e))
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return // snapshot for a slot that has moved on
	}
	f.messages = msgs
	if f.render != nil {
		// Rendering under the lock keeps the generation check and the
		// repaint atomic with respect to Close and Open.
		f.render(msgs)
	}
}

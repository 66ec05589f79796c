package support

import (
	"context"
	"errors"
	"testing"

	"github.com/neon/messenger/internal/store"
)

func TestEnsureCreatesOnce(t *testing.T) {
	m := store.NewMemory()
	d := NewDesk(m)
	ctx := context.Background()

	if err := d.Ensure(ctx, "u1", "Aziza", "aziza@example.com"); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}

	ticket, err := d.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ticket == nil {
		t.Fatal("expected ticket after Ensure")
	}
	if ticket.Status != StatusOpen {
		t.Errorf("expected open ticket, got %q", ticket.Status)
	}
	if ticket.UserName != "Aziza" || ticket.UserEmail != "aziza@example.com" {
		t.Errorf("requester fields wrong: %+v", ticket)
	}
	if ticket.CreatedAt == 0 {
		t.Error("expected a creation timestamp")
	}

	// Second Ensure must not reset an existing ticket.
	if _, err := d.Toggle(ctx, "u1"); err != nil {
		t.Fatalf("Toggle() error: %v", err)
	}
	if err := d.Ensure(ctx, "u1", "Aziza", "aziza@example.com"); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	ticket, _ = d.Get(ctx, "u1")
	if ticket.Status != StatusClosed {
		t.Errorf("Ensure overwrote existing ticket status: %q", ticket.Status)
	}
}

func TestToggleCycle(t *testing.T) {
	m := store.NewMemory()
	d := NewDesk(m)
	ctx := context.Background()

	if err := d.Ensure(ctx, "u1", "A", "a@x.com"); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}

	status, err := d.Toggle(ctx, "u1")
	if err != nil || status != StatusClosed {
		t.Fatalf("first toggle: status=%q err=%v", status, err)
	}
	status, err = d.Toggle(ctx, "u1")
	if err != nil || status != StatusOpen {
		t.Fatalf("second toggle: status=%q err=%v", status, err)
	}
}

func TestToggleMissingTicket(t *testing.T) {
	d := NewDesk(store.NewMemory())
	if _, err := d.Toggle(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplyAppendsAdminMessage(t *testing.T) {
	m := store.NewMemory()
	d := NewDesk(m)
	ctx := context.Background()

	if err := d.Ensure(ctx, "u1", "A", "a@x.com"); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if err := d.Reply(ctx, "u1", "how can I help?"); err != nil {
		t.Fatalf("Reply() error: %v", err)
	}

	snap, err := m.ReadAll(ctx, "support/u1/messages", store.Query{OrderBy: "timestamp"})
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(snap) != 1 {
		t.Fatalf("expected 1 message, got %d", len(snap))
	}
	msg := snap[0].Value
	if store.Str(msg, "senderId", "") != AdminID || store.Str(msg, "senderName", "") != AdminName {
		t.Errorf("reply not stamped as admin: %v", msg)
	}

	if err := d.Reply(ctx, "nobody", "hi"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound replying to missing ticket, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	m := store.NewMemory()
	d := NewDesk(m)
	ctx := context.Background()

	m.Write(ctx, "support/u1", store.Value{"userName": "old", "status": StatusOpen, "createdAt": int64(100)})
	m.Write(ctx, "support/u2", store.Value{"userName": "new", "status": StatusOpen, "createdAt": int64(200)})

	tickets, err := d.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(tickets) != 2 || tickets[0].UserName != "new" || tickets[1].UserName != "old" {
		t.Errorf("expected newest first, got %+v", tickets)
	}
}

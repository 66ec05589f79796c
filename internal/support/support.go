// Package support manages admin support tickets. A ticket lives at
// support/{uid} with its message thread underneath; it is created lazily
// by the composer on the user's first support message and toggled between
// open and closed by the moderation panel.
package support

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neon/messenger/internal/store"
)

// Ticket status values. A ticket only ever toggles between the two.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Admin identity stamped on moderation replies.
const (
	AdminID   = "admin"
	AdminName = "Administrator"
)

// ErrNotFound is returned for operations on a ticket that does not exist.
var ErrNotFound = errors.New("support: ticket not found")

// Ticket is one user's support thread header.
type Ticket struct {
	UserID    string
	UserName  string
	UserEmail string
	Status    string
	CreatedAt int64 // unix ms
}

// Open reports whether the ticket is awaiting an admin.
func (t *Ticket) Open() bool { return t.Status == StatusOpen }

func decode(uid string, v store.Value) *Ticket {
	if v == nil {
		return nil
	}
	return &Ticket{
		UserID:    uid,
		UserName:  store.Str(v, "userName", "User"),
		UserEmail: store.Str(v, "userEmail", ""),
		Status:    store.Str(v, "status", StatusOpen),
		CreatedAt: store.Int64(v, "createdAt"),
	}
}

// Desk exposes ticket operations over the document store.
type Desk struct {
	store store.Store
}

// NewDesk creates a desk over the given store.
func NewDesk(s store.Store) *Desk {
	return &Desk{store: s}
}

func ticketPath(uid string) string {
	return store.Join("support", uid)
}

// Get returns the ticket for uid, or nil if none exists.
func (d *Desk) Get(ctx context.Context, uid string) (*Ticket, error) {
	v, err := d.store.Read(ctx, ticketPath(uid))
	if err != nil {
		return nil, fmt.Errorf("support: get %s: %w", uid, err)
	}
	return decode(uid, v), nil
}

// Ensure creates the ticket for uid if it does not exist yet. The
// check-then-create pair is not atomic: two racing first messages may
// both write the header, but both target the same key with the same
// fields, so the second write is harmless.
func (d *Desk) Ensure(ctx context.Context, uid, name, email string) error {
	existing, err := d.Get(ctx, uid)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	t := store.Value{
		"userId":    uid,
		"userName":  name,
		"userEmail": email,
		"status":    StatusOpen,
		"createdAt": time.Now().UnixMilli(),
	}
	if err := d.store.Update(ctx, ticketPath(uid), t); err != nil {
		return fmt.Errorf("support: create %s: %w", uid, err)
	}
	return nil
}

// Toggle flips the ticket between open and closed and returns the new
// status.
func (d *Desk) Toggle(ctx context.Context, uid string) (string, error) {
	t, err := d.Get(ctx, uid)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", ErrNotFound
	}
	next := StatusClosed
	if t.Status == StatusClosed {
		next = StatusOpen
	}
	if err := d.store.Update(ctx, ticketPath(uid), store.Value{"status": next}); err != nil {
		return "", fmt.Errorf("support: toggle %s: %w", uid, err)
	}
	return next, nil
}

// Reply appends an admin message to the ticket's thread.
func (d *Desk) Reply(ctx context.Context, uid, text string) error {
	t, err := d.Get(ctx, uid)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrNotFound
	}
	msg := store.Value{
		"text":       text,
		"senderId":   AdminID,
		"senderName": AdminName,
		"timestamp":  time.Now().UnixMilli(),
	}
	if _, err := d.store.Append(ctx, store.Join(ticketPath(uid), "messages"), msg); err != nil {
		return fmt.Errorf("support: reply %s: %w", uid, err)
	}
	return nil
}

// List returns every ticket, newest first.
func (d *Desk) List(ctx context.Context) ([]*Ticket, error) {
	snap, err := d.store.ReadAll(ctx, "support", store.Query{OrderBy: "createdAt"})
	if err != nil {
		return nil, fmt.Errorf("support: list: %w", err)
	}
	out := make([]*Ticket, 0, len(snap))
	for i := len(snap) - 1; i >= 0; i-- {
		out = append(out, decode(snap[i].Key, snap[i].Value))
	}
	return out, nil
}

// Package composer validates and submits new messages to the currently
// selected conversation. It owns the local draft and typing state, which
// are cleared only after a confirmed successful append, and it creates
// the support-ticket header before the first support message.
package composer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/neon/messenger/internal/conversation"
	"github.com/neon/messenger/internal/metrics"
	"github.com/neon/messenger/internal/store"
	"github.com/neon/messenger/internal/support"
)

// typingIdle is how long after the last keystroke the typing indicator
// expires.
const typingIdle = 2 * time.Second

// Sender identifies who is submitting a message. Name and Email are
// denormalized into the message / ticket at write time.
type Sender struct {
	ID    string
	Name  string
	Email string
}

// Composer submits messages through the document store.
type Composer struct {
	store store.Store
	desk  *support.Desk

	mu          sync.Mutex
	draft       string
	typingTimer *time.Timer
}

// New creates a composer. The desk is consulted only for support
// conversations.
func New(s store.Store, desk *support.Desk) *Composer {
	return &Composer{store: s, desk: desk}
}

// SetDraft records the in-progress text and (re)arms the typing timer.
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	if text != "" {
		c.typingTimer = time.AfterFunc(typingIdle, func() {
			c.mu.Lock()
			c.typingTimer = nil
			c.mu.Unlock()
		})
	}
}

// Draft returns the current draft text.
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Typing reports whether the typing indicator is currently armed.
func (c *Composer) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typingTimer != nil
}

// Send validates text and appends it to the conversation's message list.
// The draft and typing timer are cleared on success only; every failure
// leaves them untouched so the user can retry.
//
// For support conversations the ticket header is created first if
// absent. That check-then-create is not atomic — two racing first
// messages may both write the header — but both writes target
// support/{uid} with identical fields, so the race is benign.
func (c *Composer) Send(ctx context.Context, ref conversation.Ref, sender Sender, text string) error {
	trimmed := strings.TrimSpace(text)
	if err := validateText(trimmed); err != nil {
		return err
	}
	if sender.ID == "" {
		return conversation.ErrUnauthenticated
	}

	path, err := conversation.MessagesPath(sender.ID, ref)
	if err != nil {
		return err
	}

	if ref.Kind == conversation.Support {
		if err := c.desk.Ensure(ctx, sender.ID, sender.Name, sender.Email); err != nil {
			return err
		}
	}

	msg := store.Value{
		"text":       trimmed,
		"senderId":   sender.ID,
		"senderName": sender.Name,
		"timestamp":  time.Now().UnixMilli(),
	}

	started := time.Now()
	if _, err := c.store.Append(ctx, path, msg); err != nil {
		return fmt.Errorf("composer: send: %w", err)
	}
	metrics.SendLatency.Observe(time.Since(started).Seconds())
	metrics.MessagesSent.WithLabelValues(ref.Kind.String()).Inc()

	// Stamp the conversation header so thread listings and the admin
	// dashboard can enumerate conversations without walking messages.
	// Best-effort: a missed stamp heals on the next send.
	header := strings.TrimSuffix(path, "/messages")
	if header != path {
		if err := c.store.Update(ctx, header, store.Value{"lastMessageAt": msg["timestamp"]}); err != nil {
			log.Printf("[composer] stamp %s: %v", header, err)
		}
	}

	c.mu.Lock()
	c.draft = ""
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.mu.Unlock()
	return nil
}

// Package group manages private group chats: bounded-membership
// conversations addressed by a short shareable code. Records live at
// privateChats/{code} with a members map keyed by principal id and the
// message thread underneath.
package group

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/neon/messenger/internal/store"
)

const (
	// MaxMembers is the membership cap per group.
	MaxMembers = 15
	// CodeLength is the length of a generated share code.
	CodeLength = 8
	// codeAlphabet excludes nothing; codes are plain uppercase
	// alphanumerics as users type them from a shared screen.
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	// ErrNotFound is returned when a join targets a code with no group.
	ErrNotFound = errors.New("group: not found")
	// ErrFull is returned when the membership cap is reached.
	ErrFull = errors.New("group: full")
	// ErrAlreadyMember reports a duplicate join. The join is a no-op;
	// callers surface it as information, not failure.
	ErrAlreadyMember = errors.New("group: already a member")
)

// Member is one entry of a group's membership map.
type Member struct {
	UID      string
	Name     string
	JoinedAt int64 // unix ms
}

// Group is one private chat record.
type Group struct {
	Code      string
	CreatedBy string
	CreatedAt int64 // unix ms
	Members   []Member
}

// HasMember reports whether uid is in the membership map.
func (g *Group) HasMember(uid string) bool {
	for _, m := range g.Members {
		if m.UID == uid {
			return true
		}
	}
	return false
}

func decode(code string, v store.Value) *Group {
	if v == nil {
		return nil
	}
	g := &Group{
		Code:      code,
		CreatedBy: store.Str(v, "createdBy", ""),
		CreatedAt: store.Int64(v, "createdAt"),
	}
	for uid, raw := range store.Map(v, "members") {
		entry, _ := raw.(map[string]interface{})
		g.Members = append(g.Members, Member{
			UID:      uid,
			Name:     store.Str(entry, "name", "User"),
			JoinedAt: store.Int64(entry, "joinedAt"),
		})
	}
	return g
}

// NewCode generates a share code: uppercase alphanumeric, fixed length.
// Codes are not checked against existing groups; at this system's scale
// the collision probability is accepted (36^8 states), matching the
// original design.
func NewCode() string {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("group: rand failed: %v", err))
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

// Registry exposes group operations over the document store.
type Registry struct {
	store store.Store
}

// NewRegistry creates a registry over the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

func groupPath(code string) string {
	return store.Join("privateChats", code)
}

// Get returns the group for code, or nil if none exists.
func (r *Registry) Get(ctx context.Context, code string) (*Group, error) {
	v, err := r.store.Read(ctx, groupPath(code))
	if err != nil {
		return nil, fmt.Errorf("group: get %s: %w", code, err)
	}
	return decode(code, v), nil
}

// Create writes a new group with the creator as its first member and
// returns the share code.
func (r *Registry) Create(ctx context.Context, creatorID, creatorName string) (string, error) {
	if creatorID == "" {
		return "", fmt.Errorf("group: create: missing creator")
	}
	code := NewCode()
	now := time.Now().UnixMilli()
	doc := store.Value{
		"code":      code,
		"createdBy": creatorID,
		"createdAt": now,
		"members": store.Value{
			creatorID: store.Value{"name": creatorName, "joinedAt": now},
		},
	}
	if err := r.store.Write(ctx, groupPath(code), doc); err != nil {
		return "", fmt.Errorf("group: create: %w", err)
	}
	return code, nil
}

// Join adds the caller to the group's membership map.
//
// The fetch-then-mutate sequence is not transactional: two joins racing
// on the last open slot can both observe count < MaxMembers and both
// land, briefly exceeding the cap. The original design accepts this
// race and so does this one; the cap check always reads the live
// record, never a local cache.
func (r *Registry) Join(ctx context.Context, code, joinerID, joinerName string) error {
	if joinerID == "" {
		return fmt.Errorf("group: join: missing joiner")
	}
	path := groupPath(code)
	v, err := r.store.Read(ctx, path)
	if err != nil {
		return fmt.Errorf("group: join %s: %w", code, err)
	}
	g := decode(code, v)
	if g == nil {
		return ErrNotFound
	}
	if g.HasMember(joinerID) {
		return ErrAlreadyMember
	}
	if len(g.Members) >= MaxMembers {
		return ErrFull
	}

	// Update replaces top-level fields wholesale, so the members map is
	// rewritten with the newcomer merged into the existing entries.
	members := store.Value{}
	for uid, raw := range store.Map(v, "members") {
		members[uid] = raw
	}
	members[joinerID] = store.Value{"name": joinerName, "joinedAt": time.Now().UnixMilli()}
	if err := r.store.Update(ctx, path, store.Value{"members": members}); err != nil {
		return fmt.Errorf("group: join %s: %w", code, err)
	}
	return nil
}

// List returns the groups whose membership map contains selfID, newest
// first. This filters the full collection client-side; there is no
// server-side membership index at this scale.
func (r *Registry) List(ctx context.Context, selfID string) ([]*Group, error) {
	snap, err := r.store.ReadAll(ctx, "privateChats", store.Query{OrderBy: "createdAt"})
	if err != nil {
		return nil, fmt.Errorf("group: list: %w", err)
	}
	var out []*Group
	for i := len(snap) - 1; i >= 0; i-- {
		g := decode(snap[i].Key, snap[i].Value)
		if g.HasMember(selfID) {
			out = append(out, g)
		}
	}
	return out, nil
}

// ListAll returns every group, newest first. Moderation only.
func (r *Registry) ListAll(ctx context.Context) ([]*Group, error) {
	snap, err := r.store.ReadAll(ctx, "privateChats", store.Query{OrderBy: "createdAt"})
	if err != nil {
		return nil, fmt.Errorf("group: list all: %w", err)
	}
	out := make([]*Group, 0, len(snap))
	for i := len(snap) - 1; i >= 0; i-- {
		out = append(out, decode(snap[i].Key, snap[i].Value))
	}
	return out, nil
}

// Watch subscribes to the whole collection and hands the callback the
// caller's groups on every change.
func (r *Registry) Watch(ctx context.Context, selfID string, fn func([]*Group)) (store.Subscription, error) {
	sub, err := r.store.Subscribe(ctx, "privateChats", store.Query{OrderBy: "createdAt"}, func(snap store.Snapshot) {
		var out []*Group
		for i := len(snap) - 1; i >= 0; i-- {
			g := decode(snap[i].Key, snap[i].Value)
			if g.HasMember(selfID) {
				out = append(out, g)
			}
		}
		fn(out)
	})
	if err != nil {
		return nil, fmt.Errorf("group: watch: %w", err)
	}
	return sub, nil
}

// Delete removes the group and all of its messages. Moderation only;
// callers must have confirmed the action first.
func (r *Registry) Delete(ctx context.Context, code string) error {
	if err := r.store.Delete(ctx, groupPath(code)); err != nil {
		return fmt.Errorf("group: delete %s: %w", code, err)
	}
	return nil
}

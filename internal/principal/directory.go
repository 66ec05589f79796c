package principal

import (
	"context"
	"fmt"
	"sort"

	"github.com/neon/messenger/internal/store"
)

// UsersPath is the collection holding all principal records.
const UsersPath = "users"

// Directory reads and mutates principal records in the document store.
type Directory struct {
	store store.Store
}

// NewDirectory creates a directory over the given store.
func NewDirectory(s store.Store) *Directory {
	return &Directory{store: s}
}

func userPath(uid string) string {
	return store.Join(UsersPath, uid)
}

// Get returns the principal for uid, or nil if no record exists.
func (d *Directory) Get(ctx context.Context, uid string) (*Principal, error) {
	v, err := d.store.Read(ctx, userPath(uid))
	if err != nil {
		return nil, fmt.Errorf("principal: get %s: %w", uid, err)
	}
	return Decode(uid, v), nil
}

// Put writes the full principal record.
func (d *Directory) Put(ctx context.Context, p *Principal) error {
	if p.UID == "" {
		return fmt.Errorf("principal: put: missing uid")
	}
	if err := d.store.Write(ctx, userPath(p.UID), p.Encode()); err != nil {
		return fmt.Errorf("principal: put %s: %w", p.UID, err)
	}
	return nil
}

// UpdateFields merges fields into the record without rewriting it.
func (d *Directory) UpdateFields(ctx context.Context, uid string, fields store.Value) error {
	if err := d.store.Update(ctx, userPath(uid), fields); err != nil {
		return fmt.Errorf("principal: update %s: %w", uid, err)
	}
	return nil
}

// SetBlocked flips the moderation block flag.
func (d *Directory) SetBlocked(ctx context.Context, uid string, blocked bool) error {
	return d.UpdateFields(ctx, uid, store.Value{"blocked": blocked})
}

// Delete removes the record entirely. Moderation is the only caller.
func (d *Directory) Delete(ctx context.Context, uid string) error {
	if err := d.store.Delete(ctx, userPath(uid)); err != nil {
		return fmt.Errorf("principal: delete %s: %w", uid, err)
	}
	return nil
}

// List returns every principal in the directory, unsorted.
func (d *Directory) List(ctx context.Context) ([]*Principal, error) {
	snap, err := d.store.ReadAll(ctx, UsersPath, store.Query{})
	if err != nil {
		return nil, fmt.Errorf("principal: list: %w", err)
	}
	return decodeSnapshot(snap), nil
}

// Roster is the contact-list view for one signed-in principal: everyone
// except the viewer and blocked accounts, online users first, then by
// name.
func Roster(all []*Principal, selfUID string) []*Principal {
	out := make([]*Principal, 0, len(all))
	for _, p := range all {
		if p.UID == selfUID || p.Blocked {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Watch subscribes to the directory and hands the callback a decoded
// list on every change. The caller owns the returned subscription.
func (d *Directory) Watch(ctx context.Context, fn func([]*Principal)) (store.Subscription, error) {
	sub, err := d.store.Subscribe(ctx, UsersPath, store.Query{}, func(snap store.Snapshot) {
		fn(decodeSnapshot(snap))
	})
	if err != nil {
		return nil, fmt.Errorf("principal: watch: %w", err)
	}
	return sub, nil
}

func decodeSnapshot(snap store.Snapshot) []*Principal {
	out := make([]*Principal, 0, len(snap))
	for _, e := range snap {
		out = append(out, Decode(e.Key, e.Value))
	}
	return out
}

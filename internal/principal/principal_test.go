package principal

import (
	"context"
	"testing"

	"github.com/neon/messenger/internal/store"
)

func TestDisplayAvatar(t *testing.T) {
	tests := []struct {
		name   string
		p      Principal
		avatar string
	}{
		{"stored glyph wins", Principal{Name: "Aziza", Avatar: "Z"}, "Z"},
		{"first letter of name", Principal{Name: "aziza"}, "A"},
		{"unicode name", Principal{Name: "Ўткир"}, "Ў"},
		{"no name at all", Principal{}, "U"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.DisplayAvatar(); got != tt.avatar {
				t.Errorf("DisplayAvatar() = %q, want %q", got, tt.avatar)
			}
		})
	}
}

func TestDecodeDefaults(t *testing.T) {
	if Decode("u1", nil) != nil {
		t.Fatal("Decode(nil) should be nil")
	}

	// A minimal record from an old client decodes with explicit defaults.
	p := Decode("u1", store.Value{"name": "Aziza"})
	if p.UID != "u1" || p.Name != "Aziza" {
		t.Errorf("basic fields lost: %+v", p)
	}
	if p.Online || p.Blocked || p.PhoneVerified {
		t.Errorf("flags should default to false: %+v", p)
	}
	if p.AuthProvider != ProviderPassword {
		t.Errorf("AuthProvider = %q, want %q", p.AuthProvider, ProviderPassword)
	}
}

func TestDirectoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(store.NewMemory())

	p := &Principal{UID: "u1", Name: "Aziza", Email: "a@b.co", CreatedAt: 100}
	if err := d.Put(ctx, p); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := d.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil || got.Name != "Aziza" || got.Email != "a@b.co" {
		t.Errorf("Get() = %+v", got)
	}

	if err := d.SetBlocked(ctx, "u1", true); err != nil {
		t.Fatalf("SetBlocked() error: %v", err)
	}
	got, _ = d.Get(ctx, "u1")
	if !got.Blocked {
		t.Error("blocked flag did not persist")
	}
	if got.Name != "Aziza" {
		t.Error("SetBlocked clobbered other fields")
	}

	if err := d.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if got, _ := d.Get(ctx, "u1"); got != nil {
		t.Errorf("record survived delete: %+v", got)
	}
}

func TestPutRequiresUID(t *testing.T) {
	d := NewDirectory(store.NewMemory())
	if err := d.Put(context.Background(), &Principal{Name: "nobody"}); err == nil {
		t.Error("Put() without uid should fail")
	}
}

func TestRoster(t *testing.T) {
	all := []*Principal{
		{UID: "u1", Name: "Aziza", Online: false},
		{UID: "u2", Name: "Bek", Online: true},
		{UID: "u3", Name: "Cho", Blocked: true},
		{UID: "u4", Name: "Anvar", Online: true},
		{UID: "me", Name: "Self", Online: true},
	}

	got := Roster(all, "me")
	want := []string{"u4", "u2", "u1"} // online first, then by name
	if len(got) != len(want) {
		t.Fatalf("Roster() returned %d principals, want %d", len(got), len(want))
	}
	for i, uid := range want {
		if got[i].UID != uid {
			t.Errorf("Roster()[%d] = %s, want %s", i, got[i].UID, uid)
		}
	}
}

func TestWatchSeesDirectoryChanges(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(store.NewMemory())

	var last []*Principal
	sub, err := d.Watch(ctx, func(ps []*Principal) { last = ps })
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer sub.Close()

	if len(last) != 0 {
		t.Fatalf("initial snapshot has %d principals, want 0", len(last))
	}

	d.Put(ctx, &Principal{UID: "u1", Name: "Aziza", CreatedAt: 1})
	if len(last) != 1 || last[0].UID != "u1" {
		t.Errorf("watch did not deliver the new principal: %+v", last)
	}
}

package moderation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/neon/messenger/internal/group"
	"github.com/neon/messenger/internal/principal"
	"github.com/neon/messenger/internal/store"
	"github.com/neon/messenger/internal/support"
)

func newPanel() (*Panel, *store.Memory) {
	m := store.NewMemory()
	return NewPanel(m, principal.NewDirectory(m), group.NewRegistry(m), support.NewDesk(m), nil), m
}

func seedUser(t *testing.T, p *Panel, uid, name, email string, createdAt int64, online bool) {
	t.Helper()
	err := p.dir.Put(context.Background(), &principal.Principal{
		UID: uid, Name: name, Email: email, CreatedAt: createdAt, Online: online,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", uid, err)
	}
}

func TestUsersNewestFirst(t *testing.T) {
	p, _ := newPanel()
	seedUser(t, p, "u1", "Aziza", "a@x.co", 100, false)
	seedUser(t, p, "u2", "Bek", "b@x.co", 300, true)
	seedUser(t, p, "u3", "Chingiz", "c@x.co", 200, false)

	users, err := p.Users(context.Background())
	if err != nil {
		t.Fatalf("Users() error: %v", err)
	}
	var got []string
	for _, u := range users {
		got = append(got, u.UID)
	}
	want := []string{"u2", "u3", "u1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSearchUsers(t *testing.T) {
	p, _ := newPanel()
	seedUser(t, p, "u1", "Aziza Karimova", "aziza@x.co", 1, false)
	seedUser(t, p, "u2", "Bek", "bek@y.co", 2, false)

	tests := []struct {
		query string
		want  int
	}{
		{"aziza", 1},
		{"KARIM", 1},
		{"y.co", 1},
		{"", 2},
		{"nobody", 0},
	}
	for _, tt := range tests {
		got, err := p.SearchUsers(context.Background(), tt.query)
		if err != nil {
			t.Fatalf("SearchUsers(%q) error: %v", tt.query, err)
		}
		if len(got) != tt.want {
			t.Errorf("SearchUsers(%q) = %d hits, want %d", tt.query, len(got), tt.want)
		}
	}
}

func TestSetBlockedPersists(t *testing.T) {
	p, _ := newPanel()
	seedUser(t, p, "u1", "Aziza", "a@x.co", 1, false)

	if err := p.SetBlocked(context.Background(), "u1", true); err != nil {
		t.Fatalf("SetBlocked() error: %v", err)
	}
	u, _ := p.dir.Get(context.Background(), "u1")
	if !u.Blocked {
		t.Error("block flag not persisted")
	}

	if err := p.SetBlocked(context.Background(), "u1", false); err != nil {
		t.Fatalf("SetBlocked() error: %v", err)
	}
	u, _ = p.dir.Get(context.Background(), "u1")
	if u.Blocked {
		t.Error("unblock not persisted")
	}
}

func TestDeleteUserRequiresConfirmation(t *testing.T) {
	p, _ := newPanel()
	seedUser(t, p, "u1", "Aziza", "a@x.co", 1, false)

	err := p.DeleteUser(context.Background(), "u1", false)
	if !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if u, _ := p.dir.Get(context.Background(), "u1"); u == nil {
		t.Fatal("unconfirmed delete removed the user")
	}
}

func TestDeleteUserRemovesEverything(t *testing.T) {
	p, m := newPanel()
	ctx := context.Background()
	seedUser(t, p, "u1", "Aziza", "A@X.co", 1, false)
	m.Write(ctx, "credentials/a@x.co", store.Value{"uid": "u1"})
	p.desk.Ensure(ctx, "u1", "Aziza", "a@x.co")

	if err := p.DeleteUser(ctx, "u1", true); err != nil {
		t.Fatalf("DeleteUser() error: %v", err)
	}
	if u, _ := p.dir.Get(ctx, "u1"); u != nil {
		t.Error("profile survived")
	}
	if v, _ := m.Read(ctx, "credentials/a@x.co"); v != nil {
		t.Error("credentials survived")
	}
	if v, _ := m.Read(ctx, "support/u1"); v != nil {
		t.Error("ticket survived")
	}
}

func TestDeleteGroupRequiresConfirmation(t *testing.T) {
	p, _ := newPanel()
	ctx := context.Background()
	code, _ := p.groups.Create(ctx, "u1", "Aziza")

	if err := p.DeleteGroup(ctx, code, false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if err := p.DeleteGroup(ctx, code, true); err != nil {
		t.Fatalf("DeleteGroup() error: %v", err)
	}
	if g, _ := p.groups.Get(ctx, code); g != nil {
		t.Error("group survived confirmed delete")
	}
}

func TestCollectStats(t *testing.T) {
	p, m := newPanel()
	ctx := context.Background()
	seedUser(t, p, "u1", "Aziza", "a@x.co", 1, true)
	seedUser(t, p, "u2", "Bek", "b@x.co", 2, false)
	p.groups.Create(ctx, "u1", "Aziza")

	now := time.Now().UnixMilli()
	yesterday := now - 36*time.Hour.Milliseconds()
	m.Append(ctx, "chats/u1_u2/messages", store.Value{"timestamp": now})
	m.Append(ctx, "chats/u1_u2/messages", store.Value{"timestamp": yesterday})
	m.Update(ctx, "chats/u1_u2", store.Value{"lastMessageAt": now})
	m.Append(ctx, "support/u1/messages", store.Value{"timestamp": now})
	m.Write(ctx, "support/u1", store.Value{"status": support.StatusOpen, "createdAt": now})

	st, err := p.CollectStats(ctx)
	if err != nil {
		t.Fatalf("CollectStats() error: %v", err)
	}
	if st.TotalUsers != 2 || st.OnlineUsers != 1 {
		t.Errorf("user counts = %d/%d, want 2/1", st.TotalUsers, st.OnlineUsers)
	}
	if st.PrivateChats != 1 {
		t.Errorf("PrivateChats = %d, want 1", st.PrivateChats)
	}
	if st.MessagesToday != 2 {
		t.Errorf("MessagesToday = %d, want 2", st.MessagesToday)
	}
}

func TestRecentActivityMergedAndCapped(t *testing.T) {
	p, m := newPanel()
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		seedUser(t, p, fmt.Sprintf("u%d", i), fmt.Sprintf("User %d", i), "", int64(100+i), false)
	}
	for i := 0; i < 4; i++ {
		uid := fmt.Sprintf("u%d", i)
		m.Write(ctx, store.Join("support", uid), store.Value{
			"userId": uid, "userName": fmt.Sprintf("User %d", i),
			"status": support.StatusOpen, "createdAt": int64(200 + i),
		})
	}

	acts, err := p.RecentActivity(ctx)
	if err != nil {
		t.Fatalf("RecentActivity() error: %v", err)
	}
	if len(acts) != recentActivityLimit {
		t.Fatalf("len = %d, want %d", len(acts), recentActivityLimit)
	}
	if acts[0].Kind != "ticket" || acts[0].At != 203 {
		t.Errorf("newest entry = %+v, want the latest ticket", acts[0])
	}
	for i := 1; i < len(acts); i++ {
		if acts[i].At > acts[i-1].At {
			t.Fatalf("activity not newest-first at %d: %v", i, acts)
		}
	}
}

func TestSettingsDefaultsAndWrites(t *testing.T) {
	p, _ := newPanel()
	ctx := context.Background()

	s, err := p.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings() error: %v", err)
	}
	if s.Maintenance || !s.AllowRegistrations || s.AutoDeleteDays != 0 {
		t.Errorf("unexpected defaults: %+v", s)
	}

	if err := p.SetMaintenance(ctx, true); err != nil {
		t.Fatalf("SetMaintenance() error: %v", err)
	}
	if err := p.SetAllowRegistrations(ctx, false); err != nil {
		t.Fatalf("SetAllowRegistrations() error: %v", err)
	}
	if err := p.SetAutoDeleteDays(ctx, 30); err != nil {
		t.Fatalf("SetAutoDeleteDays() error: %v", err)
	}
	if err := p.SetAutoDeleteDays(ctx, -1); err == nil {
		t.Error("negative retention accepted")
	}

	s, _ = p.LoadSettings(ctx)
	if !s.Maintenance || s.AllowRegistrations || s.AutoDeleteDays != 30 {
		t.Errorf("settings did not round-trip: %+v", s)
	}
}

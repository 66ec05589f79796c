// Package moderation implements the administrator panel: user listing
// and search, blocking, destructive deletes behind an explicit
// confirmation flag, support ticket handling, dashboard statistics and
// application settings.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neon/messenger/internal/group"
	"github.com/neon/messenger/internal/mirror"
	"github.com/neon/messenger/internal/principal"
	"github.com/neon/messenger/internal/store"
	"github.com/neon/messenger/internal/support"
)

// ErrConfirmationRequired is returned by destructive operations called
// without the confirmed flag. The caller must re-issue the call after
// an explicit user confirmation.
var ErrConfirmationRequired = errors.New("moderation: confirmation required")

// recentActivityLimit caps the dashboard activity list.
const recentActivityLimit = 10

// Panel bundles the moderation operations. All of them assume the
// caller has already passed admin sign-in.
type Panel struct {
	store  store.Store
	dir    *principal.Directory
	groups *group.Registry
	desk   *support.Desk
	mirror *mirror.Mirror
}

// NewPanel creates a panel. mirror may be nil.
func NewPanel(s store.Store, dir *principal.Directory, groups *group.Registry, desk *support.Desk, m *mirror.Mirror) *Panel {
	return &Panel{store: s, dir: dir, groups: groups, desk: desk, mirror: m}
}

// Users returns every principal, newest registration first.
func (p *Panel) Users(ctx context.Context) ([]*principal.Principal, error) {
	all, err := p.dir.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt > all[j].CreatedAt })
	return all, nil
}

// SearchUsers filters the user list by a case-insensitive substring
// match on name, email or phone.
func (p *Panel) SearchUsers(ctx context.Context, query string) ([]*principal.Principal, error) {
	all, err := p.Users(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}
	var out []*principal.Principal
	for _, u := range all {
		if strings.Contains(strings.ToLower(u.Name), q) ||
			strings.Contains(strings.ToLower(u.Email), q) ||
			strings.Contains(u.Phone, q) {
			out = append(out, u)
		}
	}
	return out, nil
}

// SetBlocked flips the blocked flag. A blocked principal keeps its data
// but cannot sign in until unblocked.
func (p *Panel) SetBlocked(ctx context.Context, uid string, blocked bool) error {
	if err := p.dir.SetBlocked(ctx, uid, blocked); err != nil {
		return err
	}
	p.mirror.SetBlocked(uid, blocked)
	return nil
}

// DeleteUser permanently removes the principal's profile, credentials
// and support ticket. Message history in shared conversations stays;
// past messages carry the sender's denormalized name. Requires
// confirmed=true.
func (p *Panel) DeleteUser(ctx context.Context, uid string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	u, err := p.dir.Get(ctx, uid)
	if err != nil {
		return err
	}
	if u != nil && u.Email != "" {
		if err := p.store.Delete(ctx, store.Join("credentials", strings.ToLower(u.Email))); err != nil {
			return fmt.Errorf("moderation: delete credentials: %w", err)
		}
	}
	if err := p.store.Delete(ctx, store.Join("support", uid)); err != nil {
		return fmt.Errorf("moderation: delete ticket: %w", err)
	}
	if err := p.dir.Delete(ctx, uid); err != nil {
		return err
	}
	p.mirror.DeleteUser(uid)
	return nil
}

// Groups returns every private group, newest first.
func (p *Panel) Groups(ctx context.Context) ([]*group.Group, error) {
	return p.groups.ListAll(ctx)
}

// DeleteGroup removes a group and its messages. Requires confirmed=true.
func (p *Panel) DeleteGroup(ctx context.Context, code string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	return p.groups.Delete(ctx, code)
}

// Tickets returns every support ticket, newest first.
func (p *Panel) Tickets(ctx context.Context) ([]*support.Ticket, error) {
	return p.desk.List(ctx)
}

// ReplyTicket sends an administrator message into a ticket thread.
func (p *Panel) ReplyTicket(ctx context.Context, uid, text string) error {
	return p.desk.Reply(ctx, uid, text)
}

// ToggleTicket flips a ticket between open and closed, returning the
// new status.
func (p *Panel) ToggleTicket(ctx context.Context, uid string) (string, error) {
	return p.desk.Toggle(ctx, uid)
}

// Stats is the dashboard summary.
type Stats struct {
	TotalUsers    int
	OnlineUsers   int
	MessagesToday int
	PrivateChats  int
}

// CollectStats walks the store and assembles the dashboard numbers.
// MessagesToday counts across direct, group and support threads since
// local midnight.
func (p *Panel) CollectStats(ctx context.Context) (*Stats, error) {
	users, err := p.dir.List(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{TotalUsers: len(users)}
	for _, u := range users {
		if u.Online {
			st.OnlineUsers++
		}
	}

	groups, err := p.groups.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	st.PrivateChats = len(groups)

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UnixMilli()

	count := func(parent string) error {
		snap, err := p.store.ReadAll(ctx, parent, store.Query{})
		if err != nil {
			return err
		}
		for _, e := range snap {
			msgs, err := p.store.ReadAll(ctx, store.Join(parent, e.Key, "messages"), store.Query{})
			if err != nil {
				return err
			}
			for _, m := range msgs {
				if store.Int64(m.Value, "timestamp") >= midnight {
					st.MessagesToday++
				}
			}
		}
		return nil
	}
	for _, parent := range []string{"chats", "privateChats", "support"} {
		if err := count(parent); err != nil {
			return nil, fmt.Errorf("moderation: stats: %w", err)
		}
	}
	return st, nil
}

// Activity is one dashboard activity line.
type Activity struct {
	Kind string // "registration" or "ticket"
	UID  string
	Name string
	At   int64 // unix ms
}

// RecentActivity merges new registrations and new tickets, newest
// first, capped at ten entries.
func (p *Panel) RecentActivity(ctx context.Context) ([]Activity, error) {
	users, err := p.dir.List(ctx)
	if err != nil {
		return nil, err
	}
	tickets, err := p.desk.List(ctx)
	if err != nil {
		return nil, err
	}

	acts := make([]Activity, 0, len(users)+len(tickets))
	for _, u := range users {
		acts = append(acts, Activity{Kind: "registration", UID: u.UID, Name: u.DisplayName(), At: u.CreatedAt})
	}
	for _, tk := range tickets {
		acts = append(acts, Activity{Kind: "ticket", UID: tk.UserID, Name: tk.UserName, At: tk.CreatedAt})
	}
	sort.SliceStable(acts, func(i, j int) bool { return acts[i].At > acts[j].At })
	if len(acts) > recentActivityLimit {
		acts = acts[:recentActivityLimit]
	}
	return acts, nil
}

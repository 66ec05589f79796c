package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/neon/messenger/internal/store"
)

// Settings are the application-wide switches the panel controls.
// AllowRegistrations defaults to true when no record exists;
// AutoDeleteDays of zero means messages are never purged.
type Settings struct {
	Maintenance        bool
	AllowRegistrations bool
	AutoDeleteDays     int
}

const (
	maintenancePath   = "settings/maintenance"
	registrationsPath = "settings/allowRegistrations"
	autoDeletePath    = "settings/autoDeleteDays"
)

// LoadSettings reads the current switches. Absent records yield the
// defaults.
func (p *Panel) LoadSettings(ctx context.Context) (*Settings, error) {
	s := &Settings{AllowRegistrations: true}

	v, err := p.store.Read(ctx, maintenancePath)
	if err != nil {
		return nil, fmt.Errorf("moderation: settings: %w", err)
	}
	s.Maintenance = store.Bool(v, "enabled")

	v, err = p.store.Read(ctx, registrationsPath)
	if err != nil {
		return nil, fmt.Errorf("moderation: settings: %w", err)
	}
	if v != nil {
		s.AllowRegistrations = store.Bool(v, "enabled")
	}

	v, err = p.store.Read(ctx, autoDeletePath)
	if err != nil {
		return nil, fmt.Errorf("moderation: settings: %w", err)
	}
	s.AutoDeleteDays = int(store.Int64(v, "days"))
	return s, nil
}

// SetMaintenance toggles maintenance mode. While on, only the admin can
// sign in.
func (p *Panel) SetMaintenance(ctx context.Context, on bool) error {
	return p.writeSwitch(ctx, maintenancePath, store.Value{"enabled": on})
}

// SetAllowRegistrations toggles whether new accounts can be created.
func (p *Panel) SetAllowRegistrations(ctx context.Context, on bool) error {
	return p.writeSwitch(ctx, registrationsPath, store.Value{"enabled": on})
}

// SetAutoDeleteDays sets the message retention window in days; zero
// disables purging.
func (p *Panel) SetAutoDeleteDays(ctx context.Context, days int) error {
	if days < 0 {
		return fmt.Errorf("moderation: negative retention %d", days)
	}
	return p.writeSwitch(ctx, autoDeletePath, store.Value{"days": days})
}

func (p *Panel) writeSwitch(ctx context.Context, path string, v store.Value) error {
	v["updatedAt"] = time.Now().UnixMilli()
	if err := p.store.Write(ctx, path, v); err != nil {
		return fmt.Errorf("moderation: write %s: %w", path, err)
	}
	return nil
}

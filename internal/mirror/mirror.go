// Package mirror keeps a non-authoritative copy of principal records in
// PostgreSQL for reporting. Every write is best-effort: failures are
// logged and counted, never surfaced, and never allowed to block or fail
// the primary document-store operation.
package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/neon/messenger/internal/metrics"
	"github.com/neon/messenger/internal/principal"
)

// writeTimeout bounds each background mirror write.
const writeTimeout = 5 * time.Second

// Mirror wraps the relational database handle. A nil *Mirror is valid
// and drops every write, so callers never need to branch on whether
// mirroring is configured.
type Mirror struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(databaseURL string) (*Mirror, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("mirror: open: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mirror: ping: %w", err)
	}
	return &Mirror{db: db}, nil
}

// Close releases the database handle.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.db.Close()
}

// UpsertUser mirrors a full principal record.
func (m *Mirror) UpsertUser(p *principal.Principal) {
	const query = `
		INSERT INTO users (uid, name, email, phone, avatar, online, blocked, phone_verified, created_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, to_timestamp($9 / 1000.0), to_timestamp($10 / 1000.0))
		ON CONFLICT (uid) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			avatar = EXCLUDED.avatar,
			online = EXCLUDED.online,
			blocked = EXCLUDED.blocked,
			phone_verified = EXCLUDED.phone_verified,
			last_seen = EXCLUDED.last_seen`
	m.exec("upsert "+p.UID, query,
		p.UID, p.Name, p.Email, p.Phone, p.DisplayAvatar(),
		p.Online, p.Blocked, p.PhoneVerified, p.CreatedAt, p.LastSeen)
}

// UpdateStatus mirrors an online/last-seen change.
func (m *Mirror) UpdateStatus(uid string, online bool, lastSeenMillis int64) {
	const query = `UPDATE users SET online = $2, last_seen = to_timestamp($3 / 1000.0) WHERE uid = $1`
	m.exec("status "+uid, query, uid, online, lastSeenMillis)
}

// SetBlocked mirrors a moderation block flip.
func (m *Mirror) SetBlocked(uid string, blocked bool) {
	const query = `UPDATE users SET blocked = $2 WHERE uid = $1`
	m.exec("block "+uid, query, uid, blocked)
}

// SetPhoneVerified mirrors a completed phone verification.
func (m *Mirror) SetPhoneVerified(uid string) {
	const query = `UPDATE users SET phone_verified = TRUE WHERE uid = $1`
	m.exec("phone "+uid, query, uid)
}

// DeleteUser mirrors a moderation delete.
func (m *Mirror) DeleteUser(uid string) {
	const query = `DELETE FROM users WHERE uid = $1`
	m.exec("delete "+uid, query, uid)
}

// exec runs the statement in the background with its own timeout. The
// caller has already returned to the user by the time this completes;
// errors are logged and counted only.
func (m *Mirror) exec(op, query string, args ...interface{}) {
	if m == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
			metrics.MirrorFailures.Inc()
			log.Printf("[mirror] %s: %v", op, err)
		}
	}()
}

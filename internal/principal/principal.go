// Package principal defines the user record stored at users/{id} and a
// directory type for reading and mutating those records. Records written
// by older clients may miss fields; decoding resolves every optional
// field to an explicit default so the rest of the codebase never touches
// a raw document.
package principal

import (
	"strings"
	"unicode/utf8"

	"github.com/neon/messenger/internal/store"
)

// Provider tags identifying how an account was created.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google.com"
	ProviderPhone    = "phone"
)

// Principal is one user of the system.
type Principal struct {
	UID           string
	Name          string
	Email         string
	Phone         string
	Avatar        string
	Online        bool
	Blocked       bool
	PhoneVerified bool
	CreatedAt     int64 // unix ms
	LastSeen      int64 // unix ms
	AuthProvider  string
}

// DisplayName resolves the name shown in conversations.
func (p *Principal) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return "User"
}

// DisplayAvatar resolves the avatar glyph: the stored glyph, else the
// first letter of the name, else "U".
func (p *Principal) DisplayAvatar() string {
	if p.Avatar != "" {
		return p.Avatar
	}
	if p.Name != "" {
		r, _ := utf8.DecodeRuneInString(p.Name)
		return strings.ToUpper(string(r))
	}
	return "U"
}

// Encode renders the principal as a store document.
func (p *Principal) Encode() store.Value {
	return store.Value{
		"uid":           p.UID,
		"name":          p.Name,
		"email":         p.Email,
		"phone":         p.Phone,
		"avatar":        p.DisplayAvatar(),
		"online":        p.Online,
		"blocked":       p.Blocked,
		"phoneVerified": p.PhoneVerified,
		"createdAt":     p.CreatedAt,
		"lastSeen":      p.LastSeen,
		"provider":      p.AuthProvider,
	}
}

// Decode builds a principal from a store document, applying defaults for
// anything missing. Returns nil for a nil document.
func Decode(uid string, v store.Value) *Principal {
	if v == nil {
		return nil
	}
	return &Principal{
		UID:           uid,
		Name:          store.Str(v, "name", ""),
		Email:         store.Str(v, "email", ""),
		Phone:         store.Str(v, "phone", ""),
		Avatar:        store.Str(v, "avatar", ""),
		Online:        store.Bool(v, "online"),
		Blocked:       store.Bool(v, "blocked"),
		PhoneVerified: store.Bool(v, "phoneVerified"),
		CreatedAt:     store.Int64(v, "createdAt"),
		LastSeen:      store.Int64(v, "lastSeen"),
		AuthProvider:  store.Str(v, "provider", ProviderPassword),
	}
}

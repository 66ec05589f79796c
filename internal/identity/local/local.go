// Package local implements the identity provider against the document
// store. Credentials live at credentials/{email} as bcrypt hashes;
// phone challenges are in-memory with a short TTL, delivered through a
// pluggable CodeSender (an SMS gateway in production, the log in
// development).
package local

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/neon/messenger/internal/identity"
	"github.com/neon/messenger/internal/store"
)

const (
	// codeTTL is how long a phone challenge stays valid.
	codeTTL = 5 * time.Minute
	// maxAttempts is how many wrong codes a challenge tolerates.
	maxAttempts = 5

	credentialsPath = "credentials"
)

// CodeSender delivers a verification code to a phone number.
type CodeSender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the server log. Development only.
type LogSender struct{}

// Send logs the code instead of delivering it.
func (LogSender) Send(_ context.Context, phone, code string) error {
	log.Printf("[identity] verification code for %s: %s", phone, code)
	return nil
}

type challenge struct {
	uid      string
	code     string
	expires  time.Time
	attempts int
}

// Provider is the store-backed identity.Provider implementation.
type Provider struct {
	store  store.Store
	sender CodeSender

	mu         sync.Mutex
	challenges map[string]*challenge
	latest     map[string]string // uid -> outstanding challenge id
}

// NewProvider creates a provider. If sender is nil codes go to the log.
func NewProvider(s store.Store, sender CodeSender) *Provider {
	if sender == nil {
		sender = LogSender{}
	}
	return &Provider{
		store:      s,
		sender:     sender,
		challenges: make(map[string]*challenge),
		latest:     make(map[string]string),
	}
}

func credentialKey(email string) string {
	return store.Join(credentialsPath, strings.ToLower(strings.TrimSpace(email)))
}

// SignUp registers new credentials and returns the generated uid.
func (p *Provider) SignUp(ctx context.Context, email, password string) (string, error) {
	if err := identity.ValidatePassword(password); err != nil {
		return "", err
	}
	key := credentialKey(email)
	existing, err := p.store.Read(ctx, key)
	if err != nil {
		return "", fmt.Errorf("local: read credentials: %w", err)
	}
	if existing != nil {
		return "", &identity.AuthError{Code: identity.CodeEmailInUse, Err: fmt.Errorf("local: %s already registered", email)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("local: hash password: %w", err)
	}
	uid := uuid.NewString()
	doc := store.Value{
		"uid":          uid,
		"email":        strings.ToLower(strings.TrimSpace(email)),
		"passwordHash": string(hash),
		"createdAt":    time.Now().UnixMilli(),
	}
	// Check-then-create is not atomic; two racing registrations on the
	// same email resolve to whichever write lands last. Accepted at
	// this scale.
	if err := p.store.Write(ctx, key, doc); err != nil {
		return "", fmt.Errorf("local: write credentials: %w", err)
	}
	return uid, nil
}

// SignIn verifies email/password and returns the uid.
func (p *Provider) SignIn(ctx context.Context, email, password string) (string, error) {
	v, err := p.store.Read(ctx, credentialKey(email))
	if err != nil {
		return "", fmt.Errorf("local: read credentials: %w", err)
	}
	if v == nil {
		return "", &identity.AuthError{Code: identity.CodeUserNotFound, Err: fmt.Errorf("local: no account for %s", email)}
	}
	hash := store.Str(v, "passwordHash", "")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return "", &identity.AuthError{Code: identity.CodeWrongPassword, Err: fmt.Errorf("local: wrong password for %s", email)}
		}
		return "", fmt.Errorf("local: compare password: %w", err)
	}
	return store.Str(v, "uid", ""), nil
}

// SendPhoneCode starts a challenge for uid. Any outstanding challenge
// for the same uid is invalidated, so a resend always supersedes.
func (p *Provider) SendPhoneCode(ctx context.Context, uid, phone string) (string, error) {
	code, err := newCode()
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	p.mu.Lock()
	if old, ok := p.latest[uid]; ok {
		delete(p.challenges, old)
	}
	p.challenges[id] = &challenge{uid: uid, code: code, expires: time.Now().Add(codeTTL)}
	p.latest[uid] = id
	p.mu.Unlock()

	if err := p.sender.Send(ctx, phone, code); err != nil {
		p.mu.Lock()
		delete(p.challenges, id)
		delete(p.latest, uid)
		p.mu.Unlock()
		return "", &identity.AuthError{Code: identity.CodeNetworkFailed, Err: fmt.Errorf("local: send code: %w", err)}
	}
	return id, nil
}

// ConfirmPhoneCode checks the code against the challenge. A correct
// code consumes the challenge; repeated wrong codes exhaust it.
func (p *Provider) ConfirmPhoneCode(_ context.Context, challengeID, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.challenges[challengeID]
	if !ok {
		return &identity.AuthError{Code: identity.CodeInvalidCode, Err: fmt.Errorf("local: unknown challenge")}
	}
	if time.Now().After(ch.expires) {
		delete(p.challenges, challengeID)
		delete(p.latest, ch.uid)
		return &identity.AuthError{Code: identity.CodeCodeExpired, Err: fmt.Errorf("local: challenge expired")}
	}
	if ch.code != code {
		ch.attempts++
		if ch.attempts >= maxAttempts {
			delete(p.challenges, challengeID)
			delete(p.latest, ch.uid)
			return &identity.AuthError{Code: identity.CodeTooManyRequests, Err: fmt.Errorf("local: challenge exhausted")}
		}
		return &identity.AuthError{Code: identity.CodeInvalidCode, Err: fmt.Errorf("local: wrong code")}
	}

	delete(p.challenges, challengeID)
	delete(p.latest, ch.uid)
	return nil
}

// SignOut is a no-op: the local provider keeps no session state.
func (p *Provider) SignOut(context.Context, string) error { return nil }

// newCode returns a six-digit numeric code.
func newCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("local: rand: %w", err)
	}
	digits := make([]byte, 6)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits), nil
}

package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/neon/messenger/internal/mirror"
	"github.com/neon/messenger/internal/presence"
	"github.com/neon/messenger/internal/principal"
)

// Listener observes auth-state transitions. It receives the signed-in
// principal, or nil on sign-out. Listeners run synchronously; they must
// not call back into the Session.
type Listener func(*principal.Principal)

// Session tracks who is signed in and drives sign-in, registration and
// the phone verification flow. One Session exists per connected client.
type Session struct {
	provider Provider
	verifier TokenVerifier
	dir      *principal.Directory
	tracker  *presence.Tracker
	mirror   *mirror.Mirror

	adminUser string
	adminPass string

	mu        sync.Mutex
	current   *principal.Principal
	admin     bool
	listeners map[int]Listener
	nextID    int
}

// Config collects the session's collaborators. Verifier and Mirror may
// be nil; AdminUser/AdminPass empty disables admin sign-in entirely.
type Config struct {
	Provider  Provider
	Verifier  TokenVerifier
	Directory *principal.Directory
	Tracker   *presence.Tracker
	Mirror    *mirror.Mirror
	AdminUser string
	AdminPass string
}

// NewSession creates a signed-out session.
func NewSession(cfg Config) *Session {
	return &Session{
		provider:  cfg.Provider,
		verifier:  cfg.Verifier,
		dir:       cfg.Directory,
		tracker:   cfg.Tracker,
		mirror:    cfg.Mirror,
		adminUser: cfg.AdminUser,
		adminPass: cfg.AdminPass,
		listeners: make(map[int]Listener),
	}
}

// Current returns the signed-in principal, or nil.
func (s *Session) Current() *principal.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// IsAdmin reports whether this session holds admin rights.
func (s *Session) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

// OnAuthChange registers a listener and immediately delivers the
// current state. The returned function unregisters it.
func (s *Session) OnAuthChange(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	cur := s.current
	s.mu.Unlock()

	fn(cur)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SignIn authenticates email/password credentials. Blocked principals
// are rejected with ErrBlocked and left signed out.
func (s *Session) SignIn(ctx context.Context, email, password string) (*principal.Principal, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	uid, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	p, err := s.dir.Get(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("identity: load profile: %w", err)
	}
	if p == nil {
		return nil, &AuthError{Code: CodeUserNotFound, Err: fmt.Errorf("identity: no profile for %s", uid)}
	}
	if p.Blocked {
		// Terminate provider state before reporting, so a blocked
		// principal never holds a live credential.
		if err := s.provider.SignOut(ctx, uid); err != nil {
			log.Printf("[identity] sign-out after block check: %v", err)
		}
		return nil, ErrBlocked
	}
	s.setCurrent(p, false)
	return p, nil
}

// SignUp registers a new account and signs it in. The profile record is
// written before the session flips so listeners always observe a
// complete principal.
func (s *Session) SignUp(ctx context.Context, name, email, password string) (*principal.Principal, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	uid, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	p := &principal.Principal{
		UID:          uid,
		Name:         name,
		Email:        email,
		AuthProvider: principal.ProviderPassword,
		CreatedAt:    now,
		LastSeen:     now,
	}
	if err := s.dir.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("identity: write profile: %w", err)
	}
	s.mirror.UpsertUser(p)
	s.setCurrent(p, false)
	return p, nil
}

// SignInWithGoogle verifies an ID token and signs the principal in,
// creating the profile record on first sign-in.
func (s *Session) SignInWithGoogle(ctx context.Context, idToken string) (*principal.Principal, error) {
	if s.verifier == nil {
		return nil, &AuthError{Code: CodeNetworkFailed, Err: fmt.Errorf("identity: google sign-in not configured")}
	}
	claims, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, err
	}

	fresh := upsertGoogle(claims)
	p, err := s.dir.Get(ctx, fresh.UID)
	if err != nil {
		return nil, fmt.Errorf("identity: load profile: %w", err)
	}
	if p == nil {
		now := time.Now().UnixMilli()
		fresh.CreatedAt = now
		fresh.LastSeen = now
		if err := s.dir.Put(ctx, fresh); err != nil {
			return nil, fmt.Errorf("identity: write profile: %w", err)
		}
		s.mirror.UpsertUser(fresh)
		p = fresh
	}
	if p.Blocked {
		return nil, ErrBlocked
	}
	s.setCurrent(p, false)
	return p, nil
}

// AdminSignIn checks credentials against the configured admin account
// using constant-time comparison. An admin session carries no principal
// and no presence.
func (s *Session) AdminSignIn(username, password string) error {
	if s.adminUser == "" || s.adminPass == "" {
		return &AuthError{Code: CodeUserNotFound, Err: fmt.Errorf("identity: admin account not configured")}
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.adminUser))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPass))
	if userOK&passOK != 1 {
		return &AuthError{Code: CodeWrongPassword, Err: fmt.Errorf("identity: bad admin credentials")}
	}
	s.setCurrent(nil, true)
	return nil
}

// SignOut clears the session and flips presence offline.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if cur != nil {
		if err := s.provider.SignOut(ctx, cur.UID); err != nil {
			log.Printf("[identity] provider sign-out %s: %v", cur.UID, err)
		}
	}
	s.setCurrent(nil, false)
	return nil
}

// BeginPhoneVerification normalizes the number and starts a challenge
// for the signed-in principal. Returns the challenge id the client must
// echo back with the code.
func (s *Session) BeginPhoneVerification(ctx context.Context, rawPhone string) (string, error) {
	cur := s.Current()
	if cur == nil {
		return "", &AuthError{Code: CodeUserNotFound, Err: fmt.Errorf("identity: not signed in")}
	}
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return "", err
	}
	id, err := s.provider.SendPhoneCode(ctx, cur.UID, phone)
	if err != nil {
		return "", err
	}
	if err := s.dir.UpdateFields(ctx, cur.UID, map[string]interface{}{"phone": phone}); err != nil {
		return "", fmt.Errorf("identity: record phone: %w", err)
	}
	return id, nil
}

// ConfirmPhone checks the code and marks the principal verified.
func (s *Session) ConfirmPhone(ctx context.Context, challengeID, code string) error {
	cur := s.Current()
	if cur == nil {
		return &AuthError{Code: CodeUserNotFound, Err: fmt.Errorf("identity: not signed in")}
	}
	if err := s.provider.ConfirmPhoneCode(ctx, challengeID, code); err != nil {
		return err
	}
	if err := s.dir.UpdateFields(ctx, cur.UID, map[string]interface{}{"phoneVerified": true}); err != nil {
		return fmt.Errorf("identity: mark verified: %w", err)
	}
	s.mirror.SetPhoneVerified(cur.UID)

	s.mu.Lock()
	if s.current != nil && s.current.UID == cur.UID {
		s.current.PhoneVerified = true
	}
	s.mu.Unlock()
	return nil
}

// SkipPhoneVerification proceeds without verifying. The record keeps
// phoneVerified=false; the principal can verify later from settings.
func (s *Session) SkipPhoneVerification() {}

// setCurrent swaps the session state, updates presence and notifies
// listeners. Listeners run outside the lock.
func (s *Session) setCurrent(p *principal.Principal, admin bool) {
	s.mu.Lock()
	prev := s.current
	s.current = p
	s.admin = admin
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if prev != nil && (p == nil || p.UID != prev.UID) {
		s.tracker.SetOnline(prev.UID, false)
		s.tracker.Forget(prev.UID)
	}
	if p != nil {
		s.tracker.SetOnline(p.UID, true)
	}
	for _, fn := range fns {
		fn(p)
	}
}

// Package identity handles authentication: email/password and Google
// sign-in, registration, phone number verification, the admin sign-in
// used by the moderation panel, and the session state the rest of the
// application observes through auth listeners.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/neon/messenger/internal/principal"
)

// Provider error codes. Providers attach these to AuthError so the
// session layer can map failures to user-facing messages without
// parsing error strings.
const (
	CodeUserNotFound    = "user-not-found"
	CodeWrongPassword   = "wrong-password"
	CodeEmailInUse      = "email-already-in-use"
	CodeInvalidEmail    = "invalid-email"
	CodeWeakPassword    = "weak-password"
	CodeTooManyRequests = "too-many-requests"
	CodeInvalidCode     = "invalid-verification-code"
	CodeCodeExpired     = "code-expired"
	CodeNetworkFailed   = "network-request-failed"
)

// ErrBlocked is returned when a blocked principal attempts to sign in.
// The session is terminated before the error is returned.
var ErrBlocked = errors.New("identity: account blocked")

// AuthError carries a stable provider code alongside the cause.
type AuthError struct {
	Code string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("identity: %s", e.Code)
	}
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// messages maps provider codes to the text shown to users. Unknown
// codes fall through to a generic line rather than leaking internals.
var messages = map[string]string{
	CodeUserNotFound:    "No account found with this email",
	CodeWrongPassword:   "Incorrect password",
	CodeEmailInUse:      "An account with this email already exists",
	CodeInvalidEmail:    "Please enter a valid email address",
	CodeWeakPassword:    "Password must be at least 6 characters",
	CodeTooManyRequests: "Too many attempts, please try again later",
	CodeInvalidCode:     "Incorrect verification code",
	CodeCodeExpired:     "Verification code expired, request a new one",
	CodeNetworkFailed:   "Network error, check your connection",
}

// Message returns the user-facing text for an authentication failure.
func Message(err error) string {
	if errors.Is(err, ErrBlocked) {
		return "Your account has been blocked by an administrator"
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		if msg, ok := messages[ae.Code]; ok {
			return msg
		}
	}
	return "Sign-in failed, please try again"
}

// Provider performs credential checks and phone challenges. The local
// implementation lives in identity/local; a hosted identity service
// would satisfy the same contract.
type Provider interface {
	// SignIn checks email/password and returns the principal's uid.
	SignIn(ctx context.Context, email, password string) (string, error)

	// SignUp registers new credentials and returns the new uid. The
	// caller is responsible for writing the profile record.
	SignUp(ctx context.Context, email, password string) (string, error)

	// SendPhoneCode starts a phone challenge and returns its id.
	// Sending a new challenge invalidates any outstanding one for the
	// same principal.
	SendPhoneCode(ctx context.Context, uid, phone string) (string, error)

	// ConfirmPhoneCode checks the code against the challenge.
	ConfirmPhoneCode(ctx context.Context, challengeID, code string) error

	// SignOut invalidates provider-side session state for uid, if any.
	SignOut(ctx context.Context, uid string) error
}

// GoogleClaims is the subset of a verified Google ID token the
// application uses.
type GoogleClaims struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// TokenVerifier checks a Google ID token's signature and audience.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleClaims, error)
}

// upsertGoogle builds the profile record for a Google sign-in.
func upsertGoogle(claims *GoogleClaims) *principal.Principal {
	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	return &principal.Principal{
		UID:          "google:" + claims.Subject,
		Name:         name,
		Email:        claims.Email,
		Avatar:       claims.Picture,
		AuthProvider: principal.ProviderGoogle,
	}
}

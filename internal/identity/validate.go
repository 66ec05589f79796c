package identity

import (
	"fmt"
	"regexp"
	"strings"
)

// MinPasswordLen is the minimum accepted password length.
const MinPasswordLen = 6

// emailPattern is deliberately loose: one @, no spaces, a dot in the
// domain. Deliverability is the provider's problem.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// phonePattern matches a normalized international number: + plus 10 to
// 15 digits.
var phonePattern = regexp.MustCompile(`^\+\d{10,15}$`)

// ValidateEmail rejects addresses the sign-in form should not submit.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return &AuthError{Code: CodeInvalidEmail, Err: fmt.Errorf("identity: malformed email %q", email)}
	}
	return nil
}

// ValidatePassword enforces the minimum length.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return &AuthError{Code: CodeWeakPassword, Err: fmt.Errorf("identity: password shorter than %d", MinPasswordLen)}
	}
	return nil
}

// ValidateName rejects blank display names.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("identity: name required")
	}
	return nil
}

// NormalizePhone converts user input into canonical international form:
// a + followed by 10 to 15 digits. After stripping spaces, dashes and
// parentheses:
//
//	+<digits>      kept as-is
//	998XXXXXXXXX   a + is prefixed
//	XXXXXXXXX      nine digits, treated as local and +998 is prefixed
//	<digits>       a + is prefixed
//
// Anything failing the digit-count check after normalization is
// rejected.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	switch {
	case strings.HasPrefix(cleaned, "+"):
		// keep
	case strings.HasPrefix(cleaned, "998"):
		cleaned = "+" + cleaned
	case len(cleaned) == 9:
		cleaned = "+998" + cleaned
	default:
		cleaned = "+" + cleaned
	}

	if !phonePattern.MatchString(cleaned) {
		return "", fmt.Errorf("identity: invalid phone number %q", raw)
	}
	return cleaned, nil
}

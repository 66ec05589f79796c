package composer

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxMessageBytes is the largest accepted message payload.
	MaxMessageBytes = 4096
	// MaxTextChars is the largest accepted character count.
	MaxTextChars = 2000
)

// ErrEmptyText rejects empty or whitespace-only messages before any
// network call is attempted.
var ErrEmptyText = errors.New("composer: message text is empty")

// validateText checks a trimmed message against content limits.
func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("composer: message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("composer: message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("composer: message contains invalid UTF-8")
	}
	return nil
}

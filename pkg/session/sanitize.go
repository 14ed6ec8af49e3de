package session

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/foundry/pkg/domain"
)

const (
	// DefaultMaxGoalSize bounds the goal sent to /start.
	DefaultMaxGoalSize = 16 << 10
	// DefaultMaxDraftSize bounds drafts and reviewer notes.
	DefaultMaxDraftSize = 1 << 20
)

// SanitizeInput enforces limit, validates UTF-8 and strips control characters other than
// newline, tab and carriage return. Oversized input is rejected, never truncated.
func SanitizeInput(input string, limit int) (string, error) {
	if limit > 0 && len(input) > limit {
		return "", fmt.Errorf("%w: size=%d limit=%d", domain.ErrInvalidInput, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", fmt.Errorf("%w: not valid UTF-8", domain.ErrInvalidInput)
	}

	// Fast path: if no control chars, return as is.
	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return input, nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}

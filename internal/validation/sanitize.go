// Package validation provides input sanitization and validation utilities
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Length caps applied to free-text fields before they are persisted.
const (
	DefaultMaxLength  = 5000
	MaxPostLength     = 5000
	MaxCommentLength  = 1000
	MaxDisplayNameLen = 50
	MaxBioLength      = 500
	MaxUsernameLength = 20
)

var (
	tagPattern          = regexp.MustCompile(`<[^>]*>`)
	schemePattern       = regexp.MustCompile(`(?i)(javascript|data):`)
	eventHandlerPattern = regexp.MustCompile(`(?i)on\w+\s*=`)
	controlPattern      = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	emailPattern        = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	usernamePattern     = regexp.MustCompile(`^[a-z][a-z0-9_]{2,19}$`)
)

// SanitizeInput strips markup, script-capable URI prefixes, inline event
// handlers and control characters, then truncates to maxLength runes and trims.
// The result never contains a '<' that is followed anywhere by a '>'.
func SanitizeInput(input string, maxLength int) string {
	if input == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	s := strings.ToValidUTF8(input, "")
	// Control characters go first so they cannot split a pattern.
	s = controlPattern.ReplaceAllString(s, "")
	// Each removal can splice a new match ("<<a>b>", "javaonx=script:"), so
	// run all patterns together to a fixpoint.
	for {
		next := tagPattern.ReplaceAllString(s, "")
		next = schemePattern.ReplaceAllString(next, "")
		next = eventHandlerPattern.ReplaceAllString(next, "")
		if next == s {
			break
		}
		s = next
	}

	if utf8.RuneCountInString(s) > maxLength {
		s = string([]rune(s)[:maxLength])
	}
	return strings.TrimSpace(s)
}

// IsValidEmail is a coarse local@domain.tld shape check, not RFC 5322.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// IsValidUsername reports whether username starts with a lowercase letter and
// is 3-20 characters of lowercase letters, digits and underscores.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// SanitizeURL allows only https:// and data: URLs; anything else becomes "".
func SanitizeURL(raw string) string {
	if strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "data:") {
		return raw
	}
	return ""
}

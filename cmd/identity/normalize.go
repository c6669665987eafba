package identity

import (
	"regexp"
	"strings"
)

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

const maxEmailLen = 254

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidUsername reports whether s (already trimmed) is an acceptable username.
// Usernames never contain '@', which keeps the login identifier unambiguous.
func ValidUsername(s string) bool { return usernameRe.MatchString(s) }

// ValidEmail performs a shape check only; deliverability is not our concern.
func ValidEmail(s string) bool {
	return len(s) <= maxEmailLen && emailRe.MatchString(s)
}

// IsEmailIdentifier reports whether a login identifier should be matched against emails.
func IsEmailIdentifier(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// Package invite gates account creation behind single-use, role-granting
// invite codes.
package invite

import (
	"crypto/rand"
	"regexp"
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
)

// Invite mirrors an invites row.
type Invite struct {
	ID            string
	Code          string
	Email         *string
	Role          identity.Role
	Used          bool
	ExpiresAt     time.Time
	LastEmailSent *time.Time
	CreatedBy     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Pending reports whether the invite can still be redeemed at now.
// An invite whose expiry equals now is expired.
func (inv Invite) Pending(now time.Time) bool {
	return !inv.Used && now.Before(inv.ExpiresAt)
}

// Accepts reports whether email satisfies the invite's email constraint.
func (inv Invite) Accepts(email string) bool {
	if inv.Email == nil {
		return true
	}
	return identity.NormalizeEmail(*inv.Email) == identity.NormalizeEmail(email)
}

// CanResend reports whether a reminder email may be sent at now, given the
// minimum interval between sends.
func CanResend(inv Invite, now time.Time, interval time.Duration) bool {
	if !inv.Pending(now) {
		return false
	}
	if inv.LastEmailSent == nil || interval <= 0 {
		return true
	}
	return !now.Before(inv.LastEmailSent.Add(interval))
}

// codeAlphabet drops 0/O and 1/I. 256 is a multiple of its length, so byte
// mod len is unbiased.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeGroups    = 4
	codeGroupSize = 4
	maxCodeLen    = 64
)

var codeRe = regexp.MustCompile(`^[A-Z0-9]+(-[A-Z0-9]+)*$`)

// NewCode returns a random code shaped XXXX-XXXX-XXXX-XXXX (80 bits).
func NewCode() (string, error) {
	b := make([]byte, codeGroups*codeGroupSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.Grow(len(b) + codeGroups - 1)
	for i, v := range b {
		if i > 0 && i%codeGroupSize == 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(codeAlphabet[int(v)%len(codeAlphabet)])
	}
	return sb.String(), nil
}

// NormalizeCode canonicalizes user-typed codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether a normalized code is well formed.
func ValidCode(code string) bool {
	return len(code) >= 4 && len(code) <= maxCodeLen && codeRe.MatchString(code)
}

package bearer

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
)

// ErrExpired is wrapped by Verify when the token is past its expiry.
var ErrExpired = errors.New("bearer: token expired")

// Subject is what a token asserts about its holder.
type Subject struct {
	UserID       string
	Role         identity.Role
	TokenVersion int64
	SessionID    string
}

// Claims are the verified contents of a token.
type Claims struct {
	Subject
	TokenID   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Manager issues and verifies bearer tokens.
//
// Verify failures are identity.ErrUnauthenticated; expiry additionally
// matches ErrExpired. A token whose expiry equals now is expired.
type Manager interface {
	Issue(sub Subject, now time.Time) (string, Claims, error)
	Verify(raw string, now time.Time) (Claims, error)
}

// Claim names shared by both formats.
const (
	claimUserID       = "uid"
	claimRole         = "role"
	claimTokenVersion = "tv"
	claimSessionID    = "sid"
)

// newClaims stamps a subject with id and times. Times are truncated to whole
// seconds, the precision both wire formats keep.
func newClaims(op, issuer string, ttl time.Duration, sub Subject, now time.Time) (Claims, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return Claims{}, identity.Invalid(op, "missing user id")
	}
	if !sub.Role.Valid() {
		return Claims{}, identity.Invalid(op, "invalid role")
	}
	if sub.TokenVersion < 0 {
		return Claims{}, identity.Invalid(op, "negative token version")
	}
	if now.IsZero() {
		now = time.Now()
	}
	iat := now.UTC().Truncate(time.Second)
	return Claims{
		Subject:   sub,
		TokenID:   uuid.NewString(),
		Issuer:    issuer,
		IssuedAt:  iat,
		ExpiresAt: iat.Add(ttl),
	}, nil
}

// checkTimes applies the expiry rule and the issued-at skew tolerance.
func checkTimes(op string, c Claims, now time.Time, skew time.Duration) error {
	if c.ExpiresAt.IsZero() || !now.Before(c.ExpiresAt) {
		return identity.OpError{Op: op, Kind: identity.ErrUnauthenticated, Err: ErrExpired}
	}
	if c.IssuedAt.After(now.Add(skew)) {
		return identity.OpError{Op: op, Kind: identity.ErrUnauthenticated, Msg: "issued in the future"}
	}
	return nil
}

func malformed(op string) error {
	return identity.OpError{Op: op, Kind: identity.ErrUnauthenticated, Msg: "invalid token"}
}

func validSubject(s Subject) bool {
	return strings.TrimSpace(s.UserID) != "" && s.Role.Valid() && s.TokenVersion >= 0
}

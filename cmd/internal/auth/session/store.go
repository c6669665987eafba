package session

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
)

const (
	// DefaultTTL applies when CreateInput.TTL is zero.
	DefaultTTL = 24 * time.Hour
	// MaxTTL caps any requested TTL.
	MaxTTL = 90 * 24 * time.Hour
)

// DeviceContext describes the client that owns a session.
type DeviceContext struct {
	UserAgent string
	IP        net.IP
}

// Session mirrors a sessions row. The plaintext token is never part of it.
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UserAgent *string
	IP        net.IP
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the session is still valid at now.
// A session whose expiry equals now is expired.
func (s Session) Active(now time.Time) bool { return now.Before(s.ExpiresAt) }

// CreateInput describes a new session.
type CreateInput struct {
	UserID string
	TTL    time.Duration
	Device DeviceContext
	Now    time.Time
}

// Created is returned once, at creation: Token is the only copy of the
// plaintext session token.
type Created struct {
	Session Session
	Token   string
}

// Store persists sessions.
//
// Contract:
//   - Create generates a fresh token; on a token-hash collision it retries
//     once and otherwise reports ConflictError{Field: "session_token"}.
//   - FindByToken and GetByID report NotFoundError for missing or expired rows.
//   - Deletes report whether (or how many) rows went away; deleting something
//     already gone is not an error.
type Store interface {
	Create(ctx context.Context, in CreateInput) (Created, error)
	FindByToken(ctx context.Context, tok string, now time.Time) (Session, error)
	GetByID(ctx context.Context, id string, now time.Time) (Session, error)
	ListByUserID(ctx context.Context, userID string, now time.Time) ([]Session, error)
	DeleteByToken(ctx context.Context, tok string) (bool, error)
	DeleteByID(ctx context.Context, userID, id string) (bool, error)
	DeleteAllByUserID(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

func (in CreateInput) normalize(op string) (CreateInput, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return in, identity.Invalid(op, "missing user_id")
	}
	switch {
	case in.TTL < 0:
		return in, identity.Invalid(op, "negative ttl")
	case in.TTL == 0:
		in.TTL = DefaultTTL
	case in.TTL > MaxTTL:
		in.TTL = MaxTTL
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	in.Now = in.Now.UTC()
	return in, nil
}

// Package revocation owns every write to a user's token version.
//
// Each operation that invalidates outstanding bearer tokens bumps the
// version and deletes the user's session rows in a single transaction, so
// no reader observes one change without the other.
package revocation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/session"
)

// Tx exposes the stores bound to one transaction.
type Tx interface {
	Users() identity.Store
	Sessions() session.Store
}

// Transactor runs fn in a transaction, committing when fn returns nil.
type Transactor interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Result describes a bulk revocation.
type Result struct {
	UserID          string
	TokenVersion    int64
	SessionsDeleted int64
}

// Controller coordinates the credential and session stores.
type Controller struct {
	tx       Transactor
	sessions session.Store
	log      *slog.Logger
}

// NewController builds a Controller. sessions serves single-row deletes
// that need no transaction.
func NewController(tx Transactor, sessions session.Store, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{tx: tx, sessions: sessions, log: log}
}

// LogoutOne deletes the session identified by its token. The token version
// is left alone, so the user's other devices stay logged in.
func (c *Controller) LogoutOne(ctx context.Context, tok string) (bool, error) {
	ok, err := c.sessions.DeleteByToken(ctx, tok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// RevokeSession deletes one of userID's sessions by id.
func (c *Controller) RevokeSession(ctx context.Context, userID, sessionID string) (bool, error) {
	const op = "revocation.RevokeSession"
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return false, identity.Invalid(op, "missing user or session id")
	}
	return c.sessions.DeleteByID(ctx, userID, sessionID)
}

// LogoutAll invalidates every bearer token and session of userID.
func (c *Controller) LogoutAll(ctx context.Context, userID string, now time.Time) (Result, error) {
	return c.revoke(ctx, "revocation.LogoutAll", userID, func(tx Tx) (int64, error) {
		return tx.Users().BumpTokenVersion(ctx, userID, now)
	})
}

// ChangePassword stores a new digest and logs the user out everywhere.
func (c *Controller) ChangePassword(ctx context.Context, userID, digest string, now time.Time) (Result, error) {
	return c.revoke(ctx, "revocation.ChangePassword", userID, func(tx Tx) (int64, error) {
		return tx.Users().UpdatePasswordDigest(ctx, userID, digest, now)
	})
}

// ChangeRole assigns a new role. Tokens carrying the old role stop working.
func (c *Controller) ChangeRole(ctx context.Context, userID string, role identity.Role, now time.Time) (Result, error) {
	return c.revoke(ctx, "revocation.ChangeRole", userID, func(tx Tx) (int64, error) {
		return tx.Users().UpdateRole(ctx, userID, role, now)
	})
}

func (c *Controller) revoke(ctx context.Context, op, userID string, bump func(Tx) (int64, error)) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, identity.Invalid(op, "missing user id")
	}

	res := Result{UserID: userID}
	err := c.tx.InTx(ctx, func(tx Tx) error {
		v, err := bump(tx)
		if err != nil {
			return err
		}
		n, err := tx.Sessions().DeleteAllByUserID(ctx, userID)
		if err != nil {
			return err
		}
		res.TokenVersion, res.SessionsDeleted = v, n
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	c.log.Info("auth.revoked",
		"op", op,
		"user_id", userID,
		"token_version", res.TokenVersion,
		"sessions_deleted", res.SessionsDeleted,
	)
	return res, nil
}

// Package storage binds the identity, session and invite stores to one
// database and runs multi-store operations in a single transaction.
package storage

import (
	"context"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/revocation"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/session"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/invite"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/security/token"
)

const (
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
)

// Tx exposes the stores bound to one open transaction.
type Tx interface {
	Users() identity.Store
	Sessions() session.Store
	Invites() invite.Store
	Audit() AuditLog
}

// Backend is a database holding every auth table.
type Backend interface {
	Tx

	// InTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	InTx(ctx context.Context, fn func(Tx) error) error
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Kind() string
	Close()
}

// Options configures the stores a backend builds.
type Options struct {
	// Schema is the Postgres schema; ignored by SQLite.
	Schema string
	// TokenHasher hashes session tokens at rest.
	TokenHasher token.Hasher
}

// RevocationTransactor adapts b for the revocation controller.
func RevocationTransactor(b Backend) revocation.Transactor { return revocationTx{b} }

// InviteTransactor adapts b for the invite service.
func InviteTransactor(b Backend) invite.Transactor { return inviteTx{b} }

type revocationTx struct{ b Backend }

func (r revocationTx) InTx(ctx context.Context, fn func(revocation.Tx) error) error {
	return r.b.InTx(ctx, func(tx Tx) error { return fn(tx) })
}

type inviteTx struct{ b Backend }

func (r inviteTx) InTx(ctx context.Context, fn func(invite.Tx) error) error {
	return r.b.InTx(ctx, func(tx Tx) error { return fn(tx) })
}

// stores is the set of stores bound to one querier.
type stores struct {
	users    identity.Store
	sessions session.Store
	invites  invite.Store
	audit    AuditLog
}

func (s stores) Users() identity.Store   { return s.users }
func (s stores) Sessions() session.Store { return s.sessions }
func (s stores) Invites() invite.Store   { return s.invites }
func (s stores) Audit() AuditLog         { return s.audit }

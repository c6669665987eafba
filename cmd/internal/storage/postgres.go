package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/session"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/invite"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/dbtx"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/schema"
)

// Postgres is a Backend over a pgx pool. The pool is owned by the backend
// and closed by Close.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string

	users    *identity.PostgresStore
	sessions *session.PostgresStore
	invites  *invite.PostgresStore
	audit    *PostgresAudit
}

// NewPostgres builds the stores over pool.
func NewPostgres(pool *pgxpool.Pool, opts Options) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("storage: nil pool")
	}
	name := strings.TrimSpace(opts.Schema)
	if name == "" {
		name = schema.DefaultPostgresSchema
	}
	if !schema.ValidIdent(name) {
		return nil, schema.ErrInvalidSchema
	}

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(name))
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewPostgresStore(pool, session.WithSchema(name), session.WithTokenHasher(opts.TokenHasher))
	if err != nil {
		return nil, err
	}
	invites, err := invite.NewPostgresStore(pool, invite.WithSchema(name))
	if err != nil {
		return nil, err
	}

	return &Postgres{
		pool:     pool,
		schema:   name,
		users:    users,
		sessions: sessions,
		invites:  invites,
		audit:    &PostgresAudit{db: pool, schema: name},
	}, nil
}

func (p *Postgres) Users() identity.Store   { return p.users }
func (p *Postgres) Sessions() session.Store { return p.sessions }
func (p *Postgres) Invites() invite.Store   { return p.invites }
func (p *Postgres) Audit() AuditLog         { return p.audit }
func (p *Postgres) Kind() string            { return KindPostgres }

// Schema is the Postgres schema the stores address.
func (p *Postgres) Schema() string { return p.schema }

func (p *Postgres) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return identity.Unavailable("storage.InTx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(p.bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return identity.Unavailable("storage.InTx", err)
	}
	return nil
}

func (p *Postgres) bind(db dbtx.PG) stores {
	return stores{
		users:    p.users.WithDB(db),
		sessions: p.sessions.WithDB(db),
		invites:  p.invites.WithDB(db),
		audit:    &PostgresAudit{db: db, schema: p.schema},
	}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	return schema.ApplyPostgres(ctx, p.pool, p.schema)
}

// Ping makes a round trip to the server.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return identity.Unavailable("storage.Ping", err)
	}
	return nil
}

func (p *Postgres) Close() { p.pool.Close() }

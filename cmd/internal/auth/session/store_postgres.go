package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/dbtx"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/schema"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/security/token"
)

// PostgresStore implements Store using PostgreSQL (<schema>.sessions).
type PostgresStore struct {
	db         dbtx.PG
	schema     string
	hasher     token.Hasher
	tokenBytes int

	// inTx is set by WithDB. A tx-bound store never lazily deletes.
	inTx bool
}

// Option configures a store.
type Option func(*options) error

type options struct {
	schema     string
	hasher     token.Hasher
	tokenBytes int
}

// WithSchema sets the Postgres schema (ignored by SQLite).
func WithSchema(name string) Option {
	return func(o *options) error {
		name = strings.TrimSpace(name)
		if !schema.ValidIdent(name) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		o.schema = name
		return nil
	}
}

// WithTokenHasher sets how tokens are hashed before storage.
func WithTokenHasher(h token.Hasher) Option {
	return func(o *options) error {
		o.hasher = h
		return nil
	}
}

// WithTokenBytes sets the entropy of generated tokens (32..64).
func WithTokenBytes(n int) Option {
	return func(o *options) error {
		if n < 32 || n > 64 {
			return fmt.Errorf("session: token bytes must be in [32..64]")
		}
		o.tokenBytes = n
		return nil
	}
}

func buildOptions(opts []Option) (options, error) {
	o := options{schema: schema.DefaultPostgresSchema, tokenBytes: token.DefaultOpaqueBytes}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return options{}, err
		}
	}
	return o, nil
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(db dbtx.PG, opts ...Option) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("session: nil db")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, schema: o.schema, hasher: o.hasher, tokenBytes: o.tokenBytes}, nil
}

// WithDB returns a copy of the store bound to db (typically a pgx.Tx).
func (s *PostgresStore) WithDB(db dbtx.PG) *PostgresStore {
	cp := *s
	cp.db = db
	cp.inTx = true
	return &cp
}

func (s *PostgresStore) table() string { return dbtx.PGIdent(s.schema, "sessions") }

const pgSessionColumns = `id, user_id, token_hash, expires_at, user_agent, host(ip), created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (Created, error) {
	return create(ctx, s.hasher, s.tokenBytes, in, s.insert)
}

// insert uses ON CONFLICT DO NOTHING so a collision does not abort an
// enclosing transaction.
func (s *PostgresStore) insert(ctx context.Context, row Session) error {
	const op = "session.Create"

	tag, err := s.db.Exec(ctx,
		`INSERT INTO `+s.table()+` (
		     id, token_hash, user_id, expires_at, user_agent, ip, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6::inet, $7, $7)
		   ON CONFLICT DO NOTHING`,
		row.ID,
		row.TokenHash,
		row.UserID,
		row.ExpiresAt,
		row.UserAgent,
		ipText(row),
		row.CreatedAt,
	)
	if err != nil {
		if dbtx.PGForeignKeyViolation(err) {
			return identity.NotFoundError{Op: op, Resource: "user"}
		}
		return identity.Unavailable(op, err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ConflictError{Op: op, Field: "session_token"}
	}
	return nil
}

func (s *PostgresStore) FindByToken(ctx context.Context, tok string, now time.Time) (Session, error) {
	const op = "session.FindByToken"
	if strings.TrimSpace(tok) == "" {
		return Session{}, identity.NotFoundError{Op: op, Resource: "session"}
	}
	return s.getActive(ctx, op, now, `WHERE token_hash = $1`, s.hasher.Hex(tok))
}

func (s *PostgresStore) GetByID(ctx context.Context, id string, now time.Time) (Session, error) {
	const op = "session.GetByID"
	if strings.TrimSpace(id) == "" {
		return Session{}, identity.NotFoundError{Op: op, Resource: "session"}
	}
	return s.getActive(ctx, op, now, `WHERE id = $1`, id)
}

// getActive loads one row; an expired row is deleted and reported missing.
func (s *PostgresStore) getActive(ctx context.Context, op string, now time.Time, where string, arg any) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, identity.Unavailable(op, err)
	}

	row, err := scanSessionPG(s.db.QueryRow(ctx, `SELECT `+pgSessionColumns+` FROM `+s.table()+` `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, identity.NotFoundError{Op: op, Resource: "session"}
		}
		return Session{}, identity.Unavailable(op, err)
	}

	if !row.Active(now) {
		if !s.inTx {
			if _, err := s.db.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id = $1 AND expires_at <= $2`, row.ID, now.UTC()); err != nil {
				slog.DebugContext(ctx, "session.lazy_delete.fail", "op", op, "err", err)
			}
		}
		return Session{}, identity.NotFoundError{Op: op, Resource: "session"}
	}
	return row, nil
}

func (s *PostgresStore) ListByUserID(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	const op = "session.ListByUserID"
	if err := ctx.Err(); err != nil {
		return nil, identity.Unavailable(op, err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+pgSessionColumns+` FROM `+s.table()+`
		  WHERE user_id = $1 AND expires_at > $2
		  ORDER BY created_at DESC, id DESC`,
		userID, now.UTC())
	if err != nil {
		return nil, identity.Unavailable(op, err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		row, err := scanSessionPG(rows)
		if err != nil {
			return nil, identity.Unavailable(op, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, identity.Unavailable(op, err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteByToken(ctx context.Context, tok string) (bool, error) {
	const op = "session.DeleteByToken"
	if strings.TrimSpace(tok) == "" {
		return false, nil
	}
	n, err := s.exec(ctx, op, `DELETE FROM `+s.table()+` WHERE token_hash = $1`, s.hasher.Hex(tok))
	return n > 0, err
}

func (s *PostgresStore) DeleteByID(ctx context.Context, userID, id string) (bool, error) {
	const op = "session.DeleteByID"
	n, err := s.exec(ctx, op, `DELETE FROM `+s.table()+` WHERE id = $1 AND user_id = $2`, id, userID)
	return n > 0, err
}

func (s *PostgresStore) DeleteAllByUserID(ctx context.Context, userID string) (int64, error) {
	const op = "session.DeleteAllByUserID"
	if strings.TrimSpace(userID) == "" {
		return 0, identity.Invalid(op, "missing user_id")
	}
	return s.exec(ctx, op, `DELETE FROM `+s.table()+` WHERE user_id = $1`, userID)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "session.DeleteExpired"
	return s.exec(ctx, op, `DELETE FROM `+s.table()+` WHERE expires_at <= $1`, now.UTC())
}

func (s *PostgresStore) exec(ctx context.Context, op, sql string, args ...any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, identity.Unavailable(op, err)
	}
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, identity.Unavailable(op, err)
	}
	return tag.RowsAffected(), nil
}

func scanSessionPG(row pgx.Row) (Session, error) {
	var (
		s  Session
		ip *string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.ExpiresAt, &s.UserAgent, &ip, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Session{}, err
	}
	if ip != nil {
		s.IP = net.ParseIP(*ip)
	}
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

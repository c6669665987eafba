package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/dbtx"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/schema"
)

// PostgresStore implements Store over PostgreSQL.
//
// The querier is owned by the caller; this store never closes it. Bind the
// store to a transaction with WithDB.
type PostgresStore struct {
	db     dbtx.PG
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema (default "espaco").
func WithSchema(name string) PostgresOption {
	return func(s *PostgresStore) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !schema.ValidIdent(name) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = name
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db dbtx.PG, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{db: db, schema: schema.DefaultPostgresSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	return st, nil
}

// WithDB returns a copy of the store bound to db (typically a pgx.Tx).
func (s *PostgresStore) WithDB(db dbtx.PG) *PostgresStore {
	cp := *s
	cp.db = db
	return &cp
}

const pgUserColumns = `id, username, email, password_digest, role, token_version, created_at, updated_at`

func (s *PostgresStore) users() string { return dbtx.PGIdent(s.schema, "users") }

func (s *PostgresStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.Create"

	if err := s.ready(ctx, op); err != nil {
		return User{}, err
	}
	in, err := in.validate(op)
	if err != nil {
		return User{}, err
	}

	id, err := NewULID(in.Now)
	if err != nil {
		return User{}, Unavailable(op, err)
	}

	u := User{
		ID:             id,
		Username:       in.Username,
		Email:          in.Email,
		PasswordDigest: in.PasswordDigest,
		Role:           in.Role,
		CreatedAt:      in.Now,
		UpdatedAt:      in.Now,
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO `+s.users()+` (
		     id, username, username_norm, email, email_norm, password_digest, role, token_version, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)`,
		u.ID,
		u.Username,
		NormalizeUsername(u.Username),
		u.Email,
		NormalizeEmail(u.Email),
		u.PasswordDigest,
		string(u.Role),
		u.CreatedAt,
	)
	if err != nil {
		if c, ok := dbtx.PGUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: userConflictField(c)}
		}
		return User{}, Unavailable(op, err)
	}
	return u, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetByID"
	if err := s.ready(ctx, op); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(id) == "" {
		return User{}, Invalid(op, "missing user id")
	}
	return s.queryOne(ctx, op, `SELECT `+pgUserColumns+` FROM `+s.users()+` WHERE id = $1`, id)
}

func (s *PostgresStore) FindByUsernameOrEmail(ctx context.Context, identifier string) (User, error) {
	const op = "identity.FindByUsernameOrEmail"
	if err := s.ready(ctx, op); err != nil {
		return User{}, err
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return User{}, Invalid(op, "missing identifier")
	}

	if IsEmailIdentifier(identifier) {
		return s.queryOne(ctx, op,
			`SELECT `+pgUserColumns+` FROM `+s.users()+` WHERE email_norm = $1`,
			NormalizeEmail(identifier))
	}
	return s.queryOne(ctx, op,
		`SELECT `+pgUserColumns+` FROM `+s.users()+` WHERE username_norm = $1`,
		NormalizeUsername(identifier))
}

// LockByID takes a FOR SHARE row lock: concurrent logins proceed, token
// version bumps wait for the holder's transaction.
func (s *PostgresStore) LockByID(ctx context.Context, id string) (User, error) {
	const op = "identity.LockByID"
	if err := s.ready(ctx, op); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(id) == "" {
		return User{}, Invalid(op, "missing user id")
	}
	return s.queryOne(ctx, op, `SELECT `+pgUserColumns+` FROM `+s.users()+` WHERE id = $1 FOR SHARE`, id)
}

func (s *PostgresStore) BumpTokenVersion(ctx context.Context, id string, now time.Time) (int64, error) {
	const op = "identity.BumpTokenVersion"
	return s.bump(ctx, op, id, now,
		`UPDATE `+s.users()+`
		    SET token_version = token_version + 1, updated_at = $2
		  WHERE id = $1
		  RETURNING token_version`)
}

func (s *PostgresStore) UpdatePasswordDigest(ctx context.Context, id, digest string, now time.Time) (int64, error) {
	const op = "identity.UpdatePasswordDigest"
	if strings.TrimSpace(digest) == "" {
		return 0, Invalid(op, "password digest is required")
	}
	return s.bump(ctx, op, id, now,
		`UPDATE `+s.users()+`
		    SET password_digest = $3, token_version = token_version + 1, updated_at = $2
		  WHERE id = $1
		  RETURNING token_version`, digest)
}

func (s *PostgresStore) UpdateRole(ctx context.Context, id string, role Role, now time.Time) (int64, error) {
	const op = "identity.UpdateRole"
	if !role.Valid() {
		return 0, Invalid(op, "invalid role")
	}
	return s.bump(ctx, op, id, now,
		`UPDATE `+s.users()+`
		    SET role = $3, token_version = token_version + 1, updated_at = $2
		  WHERE id = $1
		  RETURNING token_version`, string(role))
}

func (s *PostgresStore) RehashDigest(ctx context.Context, id, oldDigest, newDigest string, now time.Time) (bool, error) {
	const op = "identity.RehashDigest"
	if err := s.ready(ctx, op); err != nil {
		return false, err
	}
	if strings.TrimSpace(newDigest) == "" {
		return false, Invalid(op, "password digest is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.users()+` SET password_digest = $3, updated_at = $2 WHERE id = $1 AND password_digest = $4`,
		id, now.UTC(), newDigest, oldDigest)
	if err != nil {
		return false, Unavailable(op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	const op = "identity.Count"
	if err := s.ready(ctx, op); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM `+s.users()).Scan(&n); err != nil {
		return 0, Unavailable(op, err)
	}
	return n, nil
}

func (s *PostgresStore) bump(ctx context.Context, op, id string, now time.Time, sql string, extra ...any) (int64, error) {
	if err := s.ready(ctx, op); err != nil {
		return 0, err
	}
	if strings.TrimSpace(id) == "" {
		return 0, Invalid(op, "missing user id")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	args := append([]any{id, now.UTC()}, extra...)

	var v int64
	if err := s.db.QueryRow(ctx, sql, args...).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, NotFoundError{Op: op, Resource: "user"}
		}
		return 0, Unavailable(op, err)
	}
	return v, nil
}

func (s *PostgresStore) queryOne(ctx context.Context, op, sql string, args ...any) (User, error) {
	var (
		u    User
		role string
	)
	err := s.db.QueryRow(ctx, sql, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordDigest,
		&role,
		&u.TokenVersion,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, Unavailable(op, err)
	}
	u.Role = Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (s *PostgresStore) ready(ctx context.Context, op string) error {
	if s == nil || s.db == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Unavailable(op, err)
	}
	return nil
}

// userConflictField maps a constraint (Postgres) or column list (SQLite) to a logical field.
func userConflictField(c string) string {
	switch {
	case strings.Contains(c, "username"):
		return "username"
	case strings.Contains(c, "email"):
		return "email"
	default:
		return "unique"
	}
}

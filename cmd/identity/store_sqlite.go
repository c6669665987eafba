package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/dbtx"
)

// SQLiteStore implements Store over SQLite (database/sql + mattn/go-sqlite3).
//
// SQLite has no row locks; transactions are serialized by the single writer
// connection, which makes LockByID a plain read.
type SQLiteStore struct {
	db dbtx.SQL
}

// NewSQLiteStore constructs a SQLiteStore.
func NewSQLiteStore(db dbtx.SQL) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

// WithDB returns a copy of the store bound to db (typically a *sql.Tx).
func (s *SQLiteStore) WithDB(db dbtx.SQL) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteUserColumns = `id, username, email, password_digest, role, token_version, created_at, updated_at`

func (s *SQLiteStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
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
	ts := dbtx.FormatTime(in.Now)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (
		     id, username, username_norm, email, email_norm, password_digest, role, token_version, created_at, updated_at
		   ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		u.ID,
		u.Username,
		NormalizeUsername(u.Username),
		u.Email,
		NormalizeEmail(u.Email),
		u.PasswordDigest,
		string(u.Role),
		ts,
		ts,
	)
	if err != nil {
		if cols, ok := dbtx.SQLiteUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: userConflictField(cols)}
		}
		return User{}, Unavailable(op, err)
	}
	return u, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetByID"
	if err := s.ready(ctx, op); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(id) == "" {
		return User{}, Invalid(op, "missing user id")
	}
	return s.queryOne(ctx, op, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) FindByUsernameOrEmail(ctx context.Context, identifier string) (User, error) {
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
			`SELECT `+sqliteUserColumns+` FROM users WHERE email_norm = ?`,
			NormalizeEmail(identifier))
	}
	return s.queryOne(ctx, op,
		`SELECT `+sqliteUserColumns+` FROM users WHERE username_norm = ?`,
		NormalizeUsername(identifier))
}

func (s *SQLiteStore) LockByID(ctx context.Context, id string) (User, error) {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		var nf NotFoundError
		if errors.As(err, &nf) {
			nf.Op = "identity.LockByID"
			return User{}, nf
		}
		return User{}, err
	}
	return u, nil
}

func (s *SQLiteStore) BumpTokenVersion(ctx context.Context, id string, now time.Time) (int64, error) {
	const op = "identity.BumpTokenVersion"
	return s.bump(ctx, op, id, now,
		`UPDATE users
		    SET token_version = token_version + 1, updated_at = ?
		  WHERE id = ?
		  RETURNING token_version`)
}

func (s *SQLiteStore) UpdatePasswordDigest(ctx context.Context, id, digest string, now time.Time) (int64, error) {
	const op = "identity.UpdatePasswordDigest"
	if strings.TrimSpace(digest) == "" {
		return 0, Invalid(op, "password digest is required")
	}
	return s.bump(ctx, op, id, now,
		`UPDATE users
		    SET password_digest = ?, token_version = token_version + 1, updated_at = ?
		  WHERE id = ?
		  RETURNING token_version`, digest)
}

func (s *SQLiteStore) UpdateRole(ctx context.Context, id string, role Role, now time.Time) (int64, error) {
	const op = "identity.UpdateRole"
	if !role.Valid() {
		return 0, Invalid(op, "invalid role")
	}
	return s.bump(ctx, op, id, now,
		`UPDATE users
		    SET role = ?, token_version = token_version + 1, updated_at = ?
		  WHERE id = ?
		  RETURNING token_version`, string(role))
}

func (s *SQLiteStore) RehashDigest(ctx context.Context, id, oldDigest, newDigest string, now time.Time) (bool, error) {
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_digest = ?, updated_at = ? WHERE id = ? AND password_digest = ?`,
		newDigest, dbtx.FormatTime(now), id, oldDigest)
	if err != nil {
		return false, Unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, Unavailable(op, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	const op = "identity.Count"
	if err := s.ready(ctx, op); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, Unavailable(op, err)
	}
	return n, nil
}

// bump runs an UPDATE ... RETURNING token_version. Leading args (e.g. the new
// digest) come first, followed by updated_at and id.
func (s *SQLiteStore) bump(ctx context.Context, op, id string, now time.Time, query string, leading ...any) (int64, error) {
	if err := s.ready(ctx, op); err != nil {
		return 0, err
	}
	if strings.TrimSpace(id) == "" {
		return 0, Invalid(op, "missing user id")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	args := append(leading, dbtx.FormatTime(now), id)

	var v int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, NotFoundError{Op: op, Resource: "user"}
		}
		return 0, Unavailable(op, err)
	}
	return v, nil
}

func (s *SQLiteStore) queryOne(ctx context.Context, op, query string, args ...any) (User, error) {
	var (
		u                    User
		role                 string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordDigest,
		&role,
		&u.TokenVersion,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, Unavailable(op, err)
	}
	u.Role = Role(role)
	if u.CreatedAt, err = dbtx.ParseTime(createdAt); err != nil {
		return User{}, Unavailable(op, err)
	}
	if u.UpdatedAt, err = dbtx.ParseTime(updatedAt); err != nil {
		return User{}, Unavailable(op, err)
	}
	return u, nil
}

func (s *SQLiteStore) ready(ctx context.Context, op string) error {
	if s == nil || s.db == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Unavailable(op, err)
	}
	return nil
}

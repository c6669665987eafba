package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/dbtx"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/security/token"
)

// SQLiteStore implements Store over SQLite.
type SQLiteStore struct {
	db         dbtx.SQL
	hasher     token.Hasher
	tokenBytes int

	// inTx is set by WithDB. A tx-bound store never lazily deletes.
	inTx bool
}

// NewSQLiteStore creates a SQLite-backed session store. WithSchema is ignored.
func NewSQLiteStore(db dbtx.SQL, opts ...Option) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("session: nil db")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, hasher: o.hasher, tokenBytes: o.tokenBytes}, nil
}

// WithDB returns a copy of the store bound to db (typically a *sql.Tx).
func (s *SQLiteStore) WithDB(db dbtx.SQL) *SQLiteStore {
	cp := *s
	cp.db = db
	cp.inTx = true
	return &cp
}

const sqliteSessionColumns = `id, user_id, token_hash, expires_at, user_agent, ip, created_at, updated_at`

func (s *SQLiteStore) Create(ctx context.Context, in CreateInput) (Created, error) {
	return create(ctx, s.hasher, s.tokenBytes, in, s.insert)
}

func (s *SQLiteStore) insert(ctx context.Context, row Session) error {
	const op = "session.Create"

	ts := dbtx.FormatTime(row.CreatedAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (
		     id, token_hash, user_id, expires_at, user_agent, ip, created_at, updated_at
		   ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		   ON CONFLICT DO NOTHING`,
		row.ID,
		row.TokenHash,
		row.UserID,
		dbtx.FormatTime(row.ExpiresAt),
		row.UserAgent,
		ipText(row),
		ts,
		ts,
	)
	if err != nil {
		if dbtx.SQLiteForeignKeyViolation(err) {
			return identity.NotFoundError{Op: op, Resource: "user"}
		}
		return identity.Unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return identity.Unavailable(op, err)
	}
	if n == 0 {
		return identity.ConflictError{Op: op, Field: "session_token"}
	}
	return nil
}

func (s *SQLiteStore) FindByToken(ctx context.Context, tok string, now time.Time) (Session, error) {
	const op = "session.FindByToken"
	if strings.TrimSpace(tok) == "" {
		return Session{}, identity.NotFoundError{Op: op, Resource: "session"}
	}
	return s.getActive(ctx, op, now, `WHERE token_hash = ?`, s.hasher.Hex(tok))
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string, now time.Time) (Session, error) {
	const op = "session.GetByID"
	if strings.TrimSpace(id) == "" {
		return Session{}, identity.NotFoundError{Op: op, Resource: "session"}
	}
	return s.getActive(ctx, op, now, `WHERE id = ?`, id)
}

func (s *SQLiteStore) getActive(ctx context.Context, op string, now time.Time, where string, arg any) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, identity.Unavailable(op, err)
	}

	row, err := scanSessionSQLite(s.db.QueryRowContext(ctx, `SELECT `+sqliteSessionColumns+` FROM sessions `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, identity.NotFoundError{Op: op, Resource: "session"}
		}
		return Session{}, identity.Unavailable(op, err)
	}

	if !row.Active(now) {
		if !s.inTx {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND expires_at <= ?`, row.ID, dbtx.FormatTime(now)); err != nil {
				slog.DebugContext(ctx, "session.lazy_delete.fail", "op", op, "err", err)
			}
		}
		return Session{}, identity.NotFoundError{Op: op, Resource: "session"}
	}
	return row, nil
}

func (s *SQLiteStore) ListByUserID(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	const op = "session.ListByUserID"
	if err := ctx.Err(); err != nil {
		return nil, identity.Unavailable(op, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM sessions
		  WHERE user_id = ? AND expires_at > ?
		  ORDER BY created_at DESC, id DESC`,
		userID, dbtx.FormatTime(now))
	if err != nil {
		return nil, identity.Unavailable(op, err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		row, err := scanSessionSQLite(rows)
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

func (s *SQLiteStore) DeleteByToken(ctx context.Context, tok string) (bool, error) {
	const op = "session.DeleteByToken"
	if strings.TrimSpace(tok) == "" {
		return false, nil
	}
	n, err := s.exec(ctx, op, `DELETE FROM sessions WHERE token_hash = ?`, s.hasher.Hex(tok))
	return n > 0, err
}

func (s *SQLiteStore) DeleteByID(ctx context.Context, userID, id string) (bool, error) {
	const op = "session.DeleteByID"
	n, err := s.exec(ctx, op, `DELETE FROM sessions WHERE id = ? AND user_id = ?`, id, userID)
	return n > 0, err
}

func (s *SQLiteStore) DeleteAllByUserID(ctx context.Context, userID string) (int64, error) {
	const op = "session.DeleteAllByUserID"
	if strings.TrimSpace(userID) == "" {
		return 0, identity.Invalid(op, "missing user_id")
	}
	return s.exec(ctx, op, `DELETE FROM sessions WHERE user_id = ?`, userID)
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "session.DeleteExpired"
	return s.exec(ctx, op, `DELETE FROM sessions WHERE expires_at <= ?`, dbtx.FormatTime(now))
}

func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, identity.Unavailable(op, err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, identity.Unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, identity.Unavailable(op, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionSQLite(row rowScanner) (Session, error) {
	var (
		s                               Session
		expiresAt, createdAt, updatedAt string
		ua, ip                          sql.NullString
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &expiresAt, &ua, &ip, &createdAt, &updatedAt); err != nil {
		return Session{}, err
	}
	var err error
	if s.ExpiresAt, err = dbtx.ParseTime(expiresAt); err != nil {
		return Session{}, err
	}
	if s.CreatedAt, err = dbtx.ParseTime(createdAt); err != nil {
		return Session{}, err
	}
	if s.UpdatedAt, err = dbtx.ParseTime(updatedAt); err != nil {
		return Session{}, err
	}
	s.UserAgent = dbtx.NullString(ua)
	if ip.Valid {
		s.IP = net.ParseIP(ip.String)
	}
	return s, nil
}

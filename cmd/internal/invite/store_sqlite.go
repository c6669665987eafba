package invite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/dbtx"
)

// SQLiteStore persists invites in SQLite.
type SQLiteStore struct {
	db dbtx.SQL
}

// NewSQLiteStore constructs a SQLiteStore.
func NewSQLiteStore(db dbtx.SQL) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("invite: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

// WithDB returns a copy of the store bound to db (typically a *sql.Tx).
func (s *SQLiteStore) WithDB(db dbtx.SQL) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteInviteColumns = `id, code, email, role, used, expires_at, last_email_sent, created_by, created_at, updated_at`

func (s *SQLiteStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	const op = "invite.Create"
	if err := ctx.Err(); err != nil {
		return Invite{}, identity.Unavailable(op, err)
	}
	in, err := in.validate(op)
	if err != nil {
		return Invite{}, err
	}
	id, err := identity.NewULID(in.Now)
	if err != nil {
		return Invite{}, identity.Unavailable(op, err)
	}

	inv := Invite{
		ID:        id,
		Code:      in.Code,
		Email:     in.Email,
		Role:      in.Role,
		ExpiresAt: in.ExpiresAt,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.Now,
		UpdatedAt: in.Now,
	}
	ts := dbtx.FormatTime(in.Now)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invites (id, code, email, role, used, expires_at, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		inv.ID, inv.Code, inv.Email, string(inv.Role), dbtx.FormatTime(inv.ExpiresAt), inv.CreatedBy, ts, ts,
	)
	if err != nil {
		if _, ok := dbtx.SQLiteUniqueViolation(err); ok {
			return Invite{}, identity.ConflictError{Op: op, Field: "invite_code"}
		}
		if dbtx.SQLiteForeignKeyViolation(err) {
			return Invite{}, identity.NotFoundError{Op: op, Resource: "creator"}
		}
		return Invite{}, identity.Unavailable(op, err)
	}
	return inv, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (Invite, error) {
	const op = "invite.GetByID"
	if strings.TrimSpace(id) == "" {
		return Invite{}, identity.Invalid(op, "missing invite id")
	}
	return s.queryOne(ctx, op, `SELECT `+sqliteInviteColumns+` FROM invites WHERE id = ?`, id)
}

func (s *SQLiteStore) GetByCode(ctx context.Context, code string) (Invite, error) {
	const op = "invite.GetByCode"
	code = NormalizeCode(code)
	if code == "" {
		return Invite{}, identity.Invalid(op, "missing invite code")
	}
	return s.queryOne(ctx, op, `SELECT `+sqliteInviteColumns+` FROM invites WHERE code = ?`, code)
}

func (s *SQLiteStore) MarkUsed(ctx context.Context, id string, now time.Time) error {
	const op = "invite.MarkUsed"
	if err := ctx.Err(); err != nil {
		return identity.Unavailable(op, err)
	}
	ts := dbtx.FormatTime(now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE invites
		    SET used = 1, updated_at = ?
		  WHERE id = ? AND used = 0 AND expires_at > ?`,
		ts, id, ts,
	)
	if err != nil {
		return identity.Unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return identity.Unavailable(op, err)
	}
	if n == 0 {
		return identity.InviteInvalid(op)
	}
	return nil
}

func (s *SQLiteStore) SetLastEmailSent(ctx context.Context, id string, now, notAfter time.Time) (Invite, error) {
	const op = "invite.SetLastEmailSent"
	ts := dbtx.FormatTime(now)
	inv, err := s.queryOne(ctx, op,
		`UPDATE invites
		    SET last_email_sent = ?, updated_at = ?
		  WHERE id = ? AND (last_email_sent IS NULL OR last_email_sent <= ?)
		RETURNING `+sqliteInviteColumns,
		ts, ts, id, dbtx.FormatTime(notAfter),
	)
	if identity.IsNotFound(err) {
		return Invite{}, resolveMiss(ctx, s, id, identity.ConflictError{Op: op, Field: "last_email_sent"})
	}
	return inv, err
}

func (s *SQLiteStore) ListPending(ctx context.Context, now time.Time, limit int) ([]Invite, error) {
	const op = "invite.ListPending"
	if err := ctx.Err(); err != nil {
		return nil, identity.Unavailable(op, err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteInviteColumns+` FROM invites
		  WHERE used = 0 AND expires_at > ?
		  ORDER BY created_at DESC
		  LIMIT ?`,
		dbtx.FormatTime(now), clampLimit(limit),
	)
	if err != nil {
		return nil, identity.Unavailable(op, err)
	}
	defer rows.Close()

	var out []Invite
	for rows.Next() {
		inv, err := scanInviteSQLite(rows)
		if err != nil {
			return nil, identity.Unavailable(op, err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, identity.Unavailable(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) queryOne(ctx context.Context, op, query string, args ...any) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, identity.Unavailable(op, err)
	}
	inv, err := scanInviteSQLite(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Invite{}, identity.NotFoundError{Op: op, Resource: "invite"}
		}
		return Invite{}, identity.Unavailable(op, err)
	}
	return inv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInviteSQLite(row rowScanner) (Invite, error) {
	var (
		inv                             Invite
		role                            string
		used                            int64
		expiresAt, createdAt, updatedAt string
		email, lastSent, createdBy      sql.NullString
	)
	if err := row.Scan(&inv.ID, &inv.Code, &email, &role, &used, &expiresAt, &lastSent, &createdBy, &createdAt, &updatedAt); err != nil {
		return Invite{}, err
	}
	inv.Role = identity.Role(role)
	inv.Used = used != 0
	inv.Email = dbtx.NullString(email)
	inv.CreatedBy = dbtx.NullString(createdBy)

	var err error
	if inv.ExpiresAt, err = dbtx.ParseTime(expiresAt); err != nil {
		return Invite{}, err
	}
	if inv.CreatedAt, err = dbtx.ParseTime(createdAt); err != nil {
		return Invite{}, err
	}
	if inv.UpdatedAt, err = dbtx.ParseTime(updatedAt); err != nil {
		return Invite{}, err
	}
	if inv.LastEmailSent, err = dbtx.ParseNullTime(lastSent); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

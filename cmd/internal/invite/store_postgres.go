package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/dbtx"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/schema"
)

// PostgresStore persists invites in PostgreSQL.
type PostgresStore struct {
	db     dbtx.PG
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default "espaco").
func WithSchema(name string) StoreOption {
	return func(s *PostgresStore) error {
		name = strings.TrimSpace(name)
		if !schema.ValidIdent(name) {
			return fmt.Errorf("invite: invalid schema identifier %q", name)
		}
		s.schema = name
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db dbtx.PG, opts ...StoreOption) (*PostgresStore, error) {
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
		return nil, fmt.Errorf("invite: nil db")
	}
	return st, nil
}

// WithDB returns a copy of the store bound to db (typically a pgx.Tx).
func (s *PostgresStore) WithDB(db dbtx.PG) *PostgresStore {
	cp := *s
	cp.db = db
	return &cp
}

const pgInviteColumns = `id, code, email, role, used, expires_at, last_email_sent, created_by, created_at, updated_at`

func (s *PostgresStore) table() string { return dbtx.PGIdent(s.schema, "invites") }

func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
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
	_, err = s.db.Exec(ctx,
		`INSERT INTO `+s.table()+` (id, code, email, role, used, expires_at, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, false, $5, $6, $7, $7)`,
		inv.ID, inv.Code, inv.Email, string(inv.Role), inv.ExpiresAt, inv.CreatedBy, inv.CreatedAt,
	)
	if err != nil {
		if _, ok := dbtx.PGUniqueViolation(err); ok {
			return Invite{}, identity.ConflictError{Op: op, Field: "invite_code"}
		}
		if dbtx.PGForeignKeyViolation(err) {
			return Invite{}, identity.NotFoundError{Op: op, Resource: "creator"}
		}
		return Invite{}, identity.Unavailable(op, err)
	}
	return inv, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Invite, error) {
	const op = "invite.GetByID"
	if strings.TrimSpace(id) == "" {
		return Invite{}, identity.Invalid(op, "missing invite id")
	}
	return s.queryOne(ctx, op, `SELECT `+pgInviteColumns+` FROM `+s.table()+` WHERE id = $1`, id)
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (Invite, error) {
	const op = "invite.GetByCode"
	code = NormalizeCode(code)
	if code == "" {
		return Invite{}, identity.Invalid(op, "missing invite code")
	}
	return s.queryOne(ctx, op, `SELECT `+pgInviteColumns+` FROM `+s.table()+` WHERE code = $1`, code)
}

// MarkUsed is a compare-and-set on the used flag. Under READ COMMITTED a
// concurrent redeemer blocks on the row lock, then re-evaluates the WHERE
// clause against the committed row and matches nothing.
func (s *PostgresStore) MarkUsed(ctx context.Context, id string, now time.Time) error {
	const op = "invite.MarkUsed"
	if err := ctx.Err(); err != nil {
		return identity.Unavailable(op, err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET used = true, updated_at = $2
		  WHERE id = $1 AND used = false AND expires_at > $2`,
		id, now.UTC(),
	)
	if err != nil {
		return identity.Unavailable(op, err)
	}
	if tag.RowsAffected() == 0 {
		return identity.InviteInvalid(op)
	}
	return nil
}

func (s *PostgresStore) SetLastEmailSent(ctx context.Context, id string, now, notAfter time.Time) (Invite, error) {
	const op = "invite.SetLastEmailSent"
	if err := ctx.Err(); err != nil {
		return Invite{}, identity.Unavailable(op, err)
	}
	inv, err := s.queryOne(ctx, op,
		`UPDATE `+s.table()+`
		    SET last_email_sent = $2, updated_at = $2
		  WHERE id = $1 AND (last_email_sent IS NULL OR last_email_sent <= $3)
		RETURNING `+pgInviteColumns,
		id, now.UTC(), notAfter.UTC(),
	)
	if identity.IsNotFound(err) {
		return Invite{}, resolveMiss(ctx, s, id, identity.ConflictError{Op: op, Field: "last_email_sent"})
	}
	return inv, err
}

func (s *PostgresStore) ListPending(ctx context.Context, now time.Time, limit int) ([]Invite, error) {
	const op = "invite.ListPending"
	if err := ctx.Err(); err != nil {
		return nil, identity.Unavailable(op, err)
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+pgInviteColumns+` FROM `+s.table()+`
		  WHERE used = false AND expires_at > $1
		  ORDER BY created_at DESC
		  LIMIT $2`,
		now.UTC(), clampLimit(limit),
	)
	if err != nil {
		return nil, identity.Unavailable(op, err)
	}
	defer rows.Close()

	var out []Invite
	for rows.Next() {
		inv, err := scanInvitePG(rows)
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

func (s *PostgresStore) queryOne(ctx context.Context, op, sql string, args ...any) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, identity.Unavailable(op, err)
	}
	inv, err := scanInvitePG(s.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invite{}, identity.NotFoundError{Op: op, Resource: "invite"}
		}
		return Invite{}, identity.Unavailable(op, err)
	}
	return inv, nil
}

func scanInvitePG(row pgx.Row) (Invite, error) {
	var (
		inv  Invite
		role string
	)
	err := row.Scan(
		&inv.ID,
		&inv.Code,
		&inv.Email,
		&role,
		&inv.Used,
		&inv.ExpiresAt,
		&inv.LastEmailSent,
		&inv.CreatedBy,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return Invite{}, err
	}
	inv.Role = identity.Role(role)
	inv.ExpiresAt = inv.ExpiresAt.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	if inv.LastEmailSent != nil {
		t := inv.LastEmailSent.UTC()
		inv.LastEmailSent = &t
	}
	return inv, nil
}

package invite

import (
	"context"
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
)

// CreateRecord is a normalized invite insert.
type CreateRecord struct {
	Code      string
	Email     *string
	Role      identity.Role
	ExpiresAt time.Time
	CreatedBy *string
	Now       time.Time
}

// Store is the invite ledger.
//
// Contract:
//   - Create reports ConflictError{Field: "invite_code"} for a taken code.
//   - MarkUsed flips used to true only if it is still false and the invite
//     has not expired at now; otherwise it reports ErrInviteInvalid. This is
//     the only transition of the used flag.
//   - SetLastEmailSent stamps last_email_sent only if the previous send is
//     at or before notAfter, else ConflictError{Field: "last_email_sent"}.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Invite, error)
	GetByID(ctx context.Context, id string) (Invite, error)
	GetByCode(ctx context.Context, code string) (Invite, error)
	MarkUsed(ctx context.Context, id string, now time.Time) error
	SetLastEmailSent(ctx context.Context, id string, now, notAfter time.Time) (Invite, error)
	ListPending(ctx context.Context, now time.Time, limit int) ([]Invite, error)
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	default:
		return n
	}
}

func (in CreateRecord) validate(op string) (CreateRecord, error) {
	in.Code = NormalizeCode(in.Code)
	if !ValidCode(in.Code) {
		return in, identity.Invalid(op, "invalid invite code")
	}
	if !in.Role.Valid() {
		return in, identity.Invalid(op, "invalid role")
	}
	if in.Email != nil {
		e := strings.TrimSpace(*in.Email)
		switch {
		case e == "":
			in.Email = nil
		case !identity.ValidEmail(e):
			return in, identity.Invalid(op, "invalid email")
		default:
			in.Email = &e
		}
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	in.Now = in.Now.UTC()
	in.ExpiresAt = in.ExpiresAt.UTC()
	if !in.ExpiresAt.After(in.Now) {
		return in, identity.Invalid(op, "expiry must be in the future")
	}
	return in, nil
}

// resolveMiss tells "row missing" from "condition not met" after a
// conditional UPDATE touched nothing.
func resolveMiss(ctx context.Context, s Store, id string, unmet error) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return unmet
}

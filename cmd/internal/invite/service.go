package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
)

const (
	DefaultTTL            = 7 * 24 * time.Hour
	DefaultMaxTTL         = 30 * 24 * time.Hour
	DefaultResendInterval = 15 * time.Minute

	issueAttempts = 2
)

// Tx exposes the stores bound to one transaction.
type Tx interface {
	Invites() Store
	Users() identity.Store
}

// Transactor runs fn in a transaction, committing when fn returns nil.
type Transactor interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Service issues, validates and redeems invites.
type Service struct {
	store          Store
	tx             Transactor
	hasher         identity.Hasher
	log            *slog.Logger
	defaultTTL     time.Duration
	maxTTL         time.Duration
	resendInterval time.Duration
	newCode        func() (string, error)
}

// Option configures the Service.
type Option func(*Service) error

// WithTTL sets the default and maximum invite lifetimes.
func WithTTL(def, limit time.Duration) Option {
	return func(s *Service) error {
		if def <= 0 || limit <= 0 || def > limit {
			return fmt.Errorf("invite: invalid ttl bounds %s/%s", def, limit)
		}
		s.defaultTTL, s.maxTTL = def, limit
		return nil
	}
}

// WithResendInterval sets the minimum time between reminder emails.
func WithResendInterval(d time.Duration) Option {
	return func(s *Service) error {
		if d < 0 {
			return fmt.Errorf("invite: negative resend interval")
		}
		s.resendInterval = d
		return nil
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs a Service. store serves reads and single-row writes;
// tx scopes redemption.
func NewService(store Store, tx Transactor, hasher identity.Hasher, opts ...Option) (*Service, error) {
	if store == nil || tx == nil || hasher == nil {
		return nil, fmt.Errorf("invite: store, transactor and hasher are required")
	}
	s := &Service{
		store:          store,
		tx:             tx,
		hasher:         hasher,
		log:            slog.Default(),
		defaultTTL:     DefaultTTL,
		maxTTL:         DefaultMaxTTL,
		resendInterval: DefaultResendInterval,
		newCode:        NewCode,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// IssueInput describes a new invite. Code is optional; when empty a random
// code is generated.
type IssueInput struct {
	Role      identity.Role
	Email     *string
	TTL       time.Duration
	Code      string
	CreatedBy *string
	Now       time.Time
}

// Issue creates a pending invite. A generated code that collides is
// replaced once; a caller-chosen code that collides is a conflict.
func (s *Service) Issue(ctx context.Context, in IssueInput) (Invite, error) {
	const op = "invite.Issue"

	if !in.Role.Valid() {
		return Invite{}, identity.Invalid(op, "invalid role")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	switch {
	case ttl < 0:
		return Invite{}, identity.Invalid(op, "negative ttl")
	case ttl == 0:
		ttl = s.defaultTTL
	case ttl > s.maxTTL:
		return Invite{}, identity.Invalid(op, fmt.Sprintf("ttl exceeds maximum of %s", s.maxTTL))
	}

	rec := CreateRecord{
		Email:     in.Email,
		Role:      in.Role,
		ExpiresAt: now.Add(ttl),
		CreatedBy: in.CreatedBy,
		Now:       now,
	}

	if strings.TrimSpace(in.Code) != "" {
		rec.Code = in.Code
		return s.created(s.store.Create(ctx, rec))
	}

	var lastErr error
	for attempt := 0; attempt < issueAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return Invite{}, identity.Unavailable(op, err)
		}
		rec.Code = code
		inv, err := s.store.Create(ctx, rec)
		if err == nil {
			return s.created(inv, nil)
		}
		var ce identity.ConflictError
		if !errors.As(err, &ce) {
			return Invite{}, err
		}
		lastErr = err
	}
	return Invite{}, lastErr
}

func (s *Service) created(inv Invite, err error) (Invite, error) {
	if err != nil {
		return Invite{}, err
	}
	s.log.Info("invite.created",
		"invite_id", inv.ID,
		"role", string(inv.Role),
		"restricted", inv.Email != nil,
		"expires_at", inv.ExpiresAt,
	)
	return inv, nil
}

// Validate checks that code is redeemable by email at now without
// consuming it. Every failure is the same ErrInviteInvalid.
func (s *Service) Validate(ctx context.Context, code, email string, now time.Time) (Invite, error) {
	const op = "invite.Validate"
	if now.IsZero() {
		now = time.Now().UTC()
	}
	inv, err := s.lookup(ctx, op, s.store, code)
	if err != nil {
		return Invite{}, err
	}
	if !inv.Pending(now) || !inv.Accepts(email) {
		return Invite{}, identity.InviteInvalid(op)
	}
	return inv, nil
}

// RedeemInput carries the signup fields.
type RedeemInput struct {
	Code     string
	Username string
	Email    string
	Password string
	Now      time.Time
}

// Redeem consumes the invite and creates the user with the invite's role in
// one transaction. Of N concurrent redemptions of one code exactly one
// succeeds; the others get ErrInviteInvalid.
func (s *Service) Redeem(ctx context.Context, in RedeemInput) (identity.User, error) {
	const op = "invite.Redeem"

	if NormalizeCode(in.Code) == "" {
		return identity.User{}, identity.InviteInvalid(op)
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Hash outside the transaction; argon2id is slow and holds no locks.
	digest, err := identity.HashPassword(op, s.hasher, in.Password)
	if err != nil {
		return identity.User{}, err
	}

	var (
		u   identity.User
		inv Invite
	)
	err = s.tx.InTx(ctx, func(tx Tx) error {
		var err error
		inv, err = s.lookup(ctx, op, tx.Invites(), in.Code)
		if err != nil {
			return err
		}
		if !inv.Pending(now) || !inv.Accepts(in.Email) {
			return identity.InviteInvalid(op)
		}
		if err := tx.Invites().MarkUsed(ctx, inv.ID, now); err != nil {
			return err
		}
		u, err = tx.Users().Create(ctx, identity.CreateUserInput{
			Username:       in.Username,
			Email:          in.Email,
			PasswordDigest: digest,
			Role:           inv.Role,
			Now:            now,
		})
		return err
	})
	if err != nil {
		return identity.User{}, err
	}

	s.log.Info("invite.redeemed", "invite_id", inv.ID, "user_id", u.ID, "role", string(u.Role))
	return u, nil
}

// RecordEmailSent stamps last_email_sent on a pending invite. A second call
// inside the resend interval reports ConflictError.
func (s *Service) RecordEmailSent(ctx context.Context, id string, now time.Time) (Invite, error) {
	const op = "invite.RecordEmailSent"
	if now.IsZero() {
		now = time.Now().UTC()
	}
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Invite{}, err
	}
	if !inv.Pending(now) {
		return Invite{}, identity.InviteInvalid(op)
	}
	if !CanResend(inv, now, s.resendInterval) {
		return Invite{}, identity.ConflictError{Op: op, Field: "last_email_sent"}
	}
	// The store re-checks the interval so concurrent senders stamp once.
	return s.store.SetLastEmailSent(ctx, id, now, now.Add(-s.resendInterval))
}

// ListPending lists invites that are neither used nor expired at now.
func (s *Service) ListPending(ctx context.Context, now time.Time, limit int) ([]Invite, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.ListPending(ctx, now, limit)
}

// lookup maps a missing or malformed code to ErrInviteInvalid.
func (s *Service) lookup(ctx context.Context, op string, st Store, code string) (Invite, error) {
	inv, err := st.GetByCode(ctx, code)
	switch {
	case err == nil:
		return inv, nil
	case identity.IsNotFound(err), identity.IsInvalidInput(err):
		return Invite{}, identity.InviteInvalid(op)
	default:
		return Invite{}, err
	}
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/bearer"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/permission"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/revocation"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/session"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/invite"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage"
)

// Auditor records security events. Failures are logged, never returned.
type Auditor interface {
	Record(ctx context.Context, e storage.Entry) error
}

// Config tunes the Service.
type Config struct {
	// SessionTTL is the lifetime of session rows created at login.
	SessionTTL time.Duration
	// StrictSessions makes every authenticated request also require a live
	// session row, not only the session-management endpoints.
	StrictSessions bool
}

// Deps are the collaborators of a Service. Audit, Metrics, Log and Now are
// optional.
type Deps struct {
	Users    identity.Store
	Sessions session.Store
	Tokens   bearer.Manager
	Hasher   identity.Hasher
	Tx       revocation.Transactor
	Revoker  *revocation.Controller
	Invites  *invite.Service
	Audit    Auditor
	Metrics  *Metrics
	Log      *slog.Logger
	Now      func() time.Time
}

// Service is the auth facade.
type Service struct {
	cfg      Config
	users    identity.Store
	sessions session.Store
	tokens   bearer.Manager
	hasher   identity.Hasher
	tx       revocation.Transactor
	revoker  *revocation.Controller
	invites  *invite.Service
	audit    Auditor
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time

	// dummyDigest is verified for unknown identifiers so both paths cost
	// one hash verification.
	dummyDigest string
}

// NewService validates deps and builds a Service.
func NewService(cfg Config, d Deps) (*Service, error) {
	if d.Users == nil || d.Sessions == nil || d.Tokens == nil || d.Hasher == nil ||
		d.Tx == nil || d.Revoker == nil || d.Invites == nil {
		return nil, fmt.Errorf("auth: missing dependency")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = session.DefaultTTL
	}
	if cfg.SessionTTL > session.MaxTTL {
		return nil, fmt.Errorf("auth: session ttl above %s", session.MaxTTL)
	}
	s := &Service{
		cfg:      cfg,
		users:    d.Users,
		sessions: d.Sessions,
		tokens:   d.Tokens,
		hasher:   d.Hasher,
		tx:       d.Tx,
		revoker:  d.Revoker,
		invites:  d.Invites,
		audit:    d.Audit,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      d.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	digest, err := d.Hasher.Hash("espaco-dummy-credential")
	if err != nil {
		return nil, fmt.Errorf("auth: dummy digest: %w", err)
	}
	s.dummyDigest = digest
	return s, nil
}

// LoginInput carries the credentials and the client's device context.
type LoginInput struct {
	Identifier string
	Password   string
	Device     session.DeviceContext
}

// LoginResult is returned once per successful login. SessionToken is the
// only copy of the plaintext session token.
type LoginResult struct {
	User         identity.User
	BearerToken  string
	Claims       bearer.Claims
	Session      session.Session
	SessionToken string
}

// Login checks the credentials, records a session and mints a bearer token
// bound to it. Unknown identifiers and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, in LoginInput) (res LoginResult, err error) {
	const op = "auth.Login"
	defer func() { s.metrics.loggedIn(err) }()

	ident := strings.TrimSpace(in.Identifier)
	if ident == "" || in.Password == "" {
		return LoginResult{}, identity.Invalid(op, "identifier and password are required")
	}

	u, err := s.users.FindByUsernameOrEmail(ctx, ident)
	switch {
	case identity.IsNotFound(err) || identity.IsInvalidInput(err):
		_, _ = s.hasher.Verify(s.dummyDigest, in.Password)
		s.record(ctx, storage.Entry{Action: "auth.login.failed", IP: in.Device.IP, UserAgent: in.Device.UserAgent,
			Meta: map[string]any{"reason": "unknown_identifier"}})
		return LoginResult{}, identity.Unauthenticated(op)
	case err != nil:
		return LoginResult{}, err
	}
	if !identity.VerifyCredential(ctx, s.hasher, u, in.Password) {
		s.record(ctx, storage.Entry{Action: "auth.login.failed", UserID: &u.ID, IP: in.Device.IP, UserAgent: in.Device.UserAgent,
			Meta: map[string]any{"reason": "bad_password"}})
		return LoginResult{}, identity.Unauthenticated(op)
	}

	now := s.now()
	err = s.tx.InTx(ctx, func(tx revocation.Tx) error {
		// The row lock keeps a concurrent logout-all from slipping between
		// reading the token version and committing the session.
		locked, err := tx.Users().LockByID(ctx, u.ID)
		if err != nil {
			return err
		}
		created, err := tx.Sessions().Create(ctx, session.CreateInput{
			UserID: locked.ID,
			TTL:    s.cfg.SessionTTL,
			Device: in.Device,
			Now:    now,
		})
		if err != nil {
			return err
		}
		raw, claims, err := s.tokens.Issue(bearer.Subject{
			UserID:       locked.ID,
			Role:         locked.Role,
			TokenVersion: locked.TokenVersion,
			SessionID:    created.Session.ID,
		}, now)
		if err != nil {
			return err
		}
		res = LoginResult{
			User:         locked,
			BearerToken:  raw,
			Claims:       claims,
			Session:      created.Session,
			SessionToken: created.Token,
		}
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}

	s.rehash(ctx, u, in.Password, now)
	s.log.Info("auth.login.ok", "user_id", res.User.ID, "session_id", res.Session.ID)
	s.record(ctx, storage.Entry{Action: "auth.login.success", UserID: &res.User.ID, SessionID: &res.Session.ID,
		IP: in.Device.IP, UserAgent: in.Device.UserAgent})
	return res, nil
}

// rehash upgrades a legacy or weaker digest after a verified login. Failures
// leave the old digest in place.
func (s *Service) rehash(ctx context.Context, u identity.User, plain string, now time.Time) {
	rh, ok := s.hasher.(identity.Rehasher)
	if !ok || !rh.NeedsRehash(u.PasswordDigest) {
		return
	}
	digest, err := identity.HashPassword("auth.rehash", s.hasher, plain)
	if err != nil {
		s.log.Debug("auth.rehash.skip", "user_id", u.ID, "err", err)
		return
	}
	swapped, err := s.users.RehashDigest(ctx, u.ID, u.PasswordDigest, digest, now)
	if err != nil {
		s.log.Warn("auth.rehash.fail", "user_id", u.ID, "err", err)
		return
	}
	if swapped {
		s.log.Info("auth.rehash.ok", "user_id", u.ID)
	}
}

// Authenticate verifies a bearer token and re-checks its token version
// against the live user. A stale version fails with identity.RevokedError.
func (s *Service) Authenticate(ctx context.Context, raw string) (ac AuthContext, err error) {
	const op = "auth.Authenticate"
	defer func() { s.metrics.authenticated(err) }()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AuthContext{}, identity.Unauthenticated(op)
	}
	claims, err := s.tokens.Verify(raw, s.now())
	if err != nil {
		return AuthContext{}, err
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return AuthContext{}, identity.Unauthenticated(op)
		}
		return AuthContext{}, err
	}
	if u.TokenVersion != claims.TokenVersion {
		return AuthContext{}, identity.RevokedError{Op: op, UserID: u.ID}
	}

	return AuthContext{
		UserID:       u.ID,
		Role:         u.Role,
		TokenVersion: u.TokenVersion,
		SessionID:    claims.SessionID,
		TokenID:      claims.TokenID,
		ExpiresAt:    claims.ExpiresAt,
	}, nil
}

// AuthenticateSession is Authenticate plus a check that the session the
// token was minted with still exists.
func (s *Service) AuthenticateSession(ctx context.Context, raw string) (AuthContext, error) {
	const op = "auth.AuthenticateSession"

	ac, err := s.Authenticate(ctx, raw)
	if err != nil {
		return AuthContext{}, err
	}
	if ac.SessionID == "" {
		return AuthContext{}, identity.Unauthenticated(op)
	}
	sess, err := s.sessions.GetByID(ctx, ac.SessionID, s.now())
	if err != nil {
		if identity.IsNotFound(err) {
			return AuthContext{}, identity.Unauthenticated(op)
		}
		return AuthContext{}, err
	}
	if sess.UserID != ac.UserID {
		return AuthContext{}, identity.Unauthenticated(op)
	}
	return ac, nil
}

// Can reports whether ac's role may perform action on resource.
func (s *Service) Can(ac AuthContext, res permission.Resource, act permission.Action) bool {
	if permission.Authorize(ac.Role, res, act) {
		return true
	}
	s.metrics.deniedFor(ac.Role, res, act)
	return false
}

// Authorize is Can as an error: ErrForbidden when the role lacks the grant.
func (s *Service) Authorize(ac AuthContext, res permission.Resource, act permission.Action) error {
	if ac.UserID == "" {
		return identity.Unauthenticated("auth.Authorize")
	}
	if !s.Can(ac, res, act) {
		return identity.Forbidden("auth.Authorize", string(res)+":"+string(act))
	}
	return nil
}

// Me returns the current user.
func (s *Service) Me(ctx context.Context, ac AuthContext) (identity.User, error) {
	return s.users.GetByID(ctx, ac.UserID)
}

// LogoutOne ends the session identified by its session token.
func (s *Service) LogoutOne(ctx context.Context, sessionToken string, dev session.DeviceContext) (bool, error) {
	ok, err := s.revoker.LogoutOne(ctx, sessionToken)
	if err != nil {
		return false, err
	}
	if ok {
		s.metrics.loggedOut("one")
		s.record(ctx, storage.Entry{Action: "auth.logout", IP: dev.IP, UserAgent: dev.UserAgent})
	}
	return ok, nil
}

// LogoutAll invalidates every bearer token and session of the caller.
func (s *Service) LogoutAll(ctx context.Context, ac AuthContext, dev session.DeviceContext) (revocation.Result, error) {
	res, err := s.revoker.LogoutAll(ctx, ac.UserID, s.now())
	if err != nil {
		return revocation.Result{}, err
	}
	s.metrics.loggedOut("all")
	s.record(ctx, storage.Entry{Action: "auth.logout_all", UserID: &ac.UserID, IP: dev.IP, UserAgent: dev.UserAgent,
		Meta: map[string]any{"sessions_deleted": res.SessionsDeleted}})
	return res, nil
}

// ListSessions lists the caller's live sessions.
func (s *Service) ListSessions(ctx context.Context, ac AuthContext) ([]session.Session, error) {
	return s.sessions.ListByUserID(ctx, ac.UserID, s.now())
}

// RevokeSession ends one of the caller's sessions by id.
func (s *Service) RevokeSession(ctx context.Context, ac AuthContext, sessionID string, dev session.DeviceContext) (bool, error) {
	if !identity.ValidID(sessionID) {
		return false, nil
	}
	ok, err := s.revoker.RevokeSession(ctx, ac.UserID, sessionID)
	if err != nil {
		return false, err
	}
	if ok {
		s.metrics.loggedOut("device")
		s.record(ctx, storage.Entry{Action: "auth.session.revoked", UserID: &ac.UserID, SessionID: &sessionID,
			IP: dev.IP, UserAgent: dev.UserAgent})
	}
	return ok, nil
}

// ChangePassword replaces the caller's password after re-checking the
// current one, then logs them out everywhere.
func (s *Service) ChangePassword(ctx context.Context, ac AuthContext, current, next string) (revocation.Result, error) {
	const op = "auth.ChangePassword"

	u, err := s.users.GetByID(ctx, ac.UserID)
	if err != nil {
		return revocation.Result{}, err
	}
	if !identity.VerifyCredential(ctx, s.hasher, u, current) {
		return revocation.Result{}, identity.Unauthenticated(op)
	}
	digest, err := identity.HashPassword(op, s.hasher, next)
	if err != nil {
		return revocation.Result{}, err
	}
	res, err := s.revoker.ChangePassword(ctx, u.ID, digest, s.now())
	if err != nil {
		return revocation.Result{}, err
	}
	s.record(ctx, storage.Entry{Action: "auth.password.changed", UserID: &u.ID})
	return res, nil
}

// ChangeRole assigns role to userID. The caller needs usuarios:update and
// may not change their own role.
func (s *Service) ChangeRole(ctx context.Context, ac AuthContext, userID string, role identity.Role) (revocation.Result, error) {
	const op = "auth.ChangeRole"

	if err := s.Authorize(ac, permission.Usuarios, permission.Update); err != nil {
		return revocation.Result{}, err
	}
	if strings.TrimSpace(userID) == ac.UserID {
		return revocation.Result{}, identity.Invalid(op, "cannot change own role")
	}
	if !identity.ValidID(userID) {
		return revocation.Result{}, identity.NotFoundError{Op: op, Resource: "user"}
	}
	res, err := s.revoker.ChangeRole(ctx, userID, role, s.now())
	if err != nil {
		return revocation.Result{}, err
	}
	s.record(ctx, storage.Entry{Action: "auth.role.changed", UserID: &res.UserID,
		Meta: map[string]any{"role": string(role), "by": ac.UserID}})
	return res, nil
}

// IssueInviteInput describes an invite requested over the API.
type IssueInviteInput struct {
	Role  identity.Role
	Email *string
	TTL   time.Duration
	Code  string
}

// IssueInvite creates an invite on behalf of ac (convites:create).
func (s *Service) IssueInvite(ctx context.Context, ac AuthContext, in IssueInviteInput) (invite.Invite, error) {
	if err := s.Authorize(ac, permission.Convites, permission.Create); err != nil {
		return invite.Invite{}, err
	}
	createdBy := ac.UserID
	inv, err := s.invites.Issue(ctx, invite.IssueInput{
		Role:      in.Role,
		Email:     in.Email,
		TTL:       in.TTL,
		Code:      in.Code,
		CreatedBy: &createdBy,
		Now:       s.now(),
	})
	if err != nil {
		return invite.Invite{}, err
	}
	s.record(ctx, storage.Entry{Action: "auth.invite.created", UserID: &createdBy,
		Meta: map[string]any{"invite_id": inv.ID, "role": string(inv.Role)}})
	return inv, nil
}

// ListInvites lists pending invites (convites:list).
func (s *Service) ListInvites(ctx context.Context, ac AuthContext, limit int) ([]invite.Invite, error) {
	if err := s.Authorize(ac, permission.Convites, permission.List); err != nil {
		return nil, err
	}
	return s.invites.ListPending(ctx, s.now(), limit)
}

// RecordInviteEmailSent stamps a reminder send (convites:update).
func (s *Service) RecordInviteEmailSent(ctx context.Context, ac AuthContext, inviteID string) (invite.Invite, error) {
	if err := s.Authorize(ac, permission.Convites, permission.Update); err != nil {
		return invite.Invite{}, err
	}
	return s.invites.RecordEmailSent(ctx, inviteID, s.now())
}

// ValidateInvite peeks at an invite without consuming it.
func (s *Service) ValidateInvite(ctx context.Context, code, email string) (invite.Invite, error) {
	return s.invites.Validate(ctx, code, email, s.now())
}

// SignupInput carries the fields of an invite-gated signup.
type SignupInput struct {
	Code     string
	Username string
	Email    string
	Password string
	IP       net.IP
}

// RedeemInvite creates an account from an invite.
func (s *Service) RedeemInvite(ctx context.Context, in SignupInput) (u identity.User, err error) {
	defer func() { s.metrics.redeemed(err) }()

	u, err = s.invites.Redeem(ctx, invite.RedeemInput{
		Code:     in.Code,
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
		Now:      s.now(),
	})
	if err != nil {
		var ce identity.ConflictError
		if !errors.As(err, &ce) && !identity.IsInviteInvalid(err) && !identity.IsInvalidInput(err) {
			s.log.Error("auth.signup.fail", "err", err)
		}
		return identity.User{}, err
	}
	s.record(ctx, storage.Entry{Action: "auth.invite.consumed", UserID: &u.ID, IP: in.IP})
	return u, nil
}

func (s *Service) record(ctx context.Context, e storage.Entry) {
	if s.audit == nil {
		return
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.log.Warn("auth.audit.fail", "action", e.Action, "err", err)
	}
}

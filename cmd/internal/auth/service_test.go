package auth

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/bearer"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/permission"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/revocation"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/session"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/invite"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage"
)

type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error)    { return "plain:" + p, nil }
func (plainHasher) Verify(d, p string) (bool, error) { return d == "plain:"+p, nil }

// upgradingHasher also accepts "legacy:" digests and asks for them to be
// replaced.
type upgradingHasher struct{ plainHasher }

func (h upgradingHasher) Verify(d, p string) (bool, error) {
	if d == "legacy:"+p {
		return true, nil
	}
	return h.plainHasher.Verify(d, p)
}

func (upgradingHasher) NeedsRehash(d string) bool { return strings.HasPrefix(d, "legacy:") }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc     *Service
	backend *storage.SQLite
	clock   *testClock
	metrics *Metrics
}

func mustFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	return mustFixtureWithHasher(t, cfg, plainHasher{})
}

func mustFixtureWithHasher(t *testing.T, cfg Config, hasher identity.Hasher) fixture {
	t.Helper()

	f, err := os.CreateTemp("", "auth-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	path := f.Name()
	_ = f.Close()
	t.Cleanup(func() { _ = os.Remove(path) })

	db, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	b, err := storage.NewSQLite(db, storage.Options{})
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	t.Cleanup(b.Close)
	if err := b.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}

	bcfg := bearer.DefaultConfig()
	bcfg.TTL = time.Hour
	bcfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	tokens, err := bearer.New(bcfg)
	if err != nil {
		t.Fatalf("bearer: %v", err)
	}

	invites, err := invite.NewService(b.Invites(), storage.InviteTransactor(b), plainHasher{})
	if err != nil {
		t.Fatalf("invites: %v", err)
	}

	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	metrics := NewMetrics(prometheus.NewRegistry())
	svc, err := NewService(cfg, Deps{
		Users:    b.Users(),
		Sessions: b.Sessions(),
		Tokens:   tokens,
		Hasher:   hasher,
		Tx:       storage.RevocationTransactor(b),
		Revoker:  revocation.NewController(storage.RevocationTransactor(b), b.Sessions(), nil),
		Invites:  invites,
		Audit:    b.Audit(),
		Metrics:  metrics,
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return fixture{svc: svc, backend: b, clock: clock, metrics: metrics}
}

func (fx fixture) mustUser(t *testing.T, name, pw string, role identity.Role) identity.User {
	t.Helper()

	u, err := fx.backend.Users().Create(context.Background(), identity.CreateUserInput{
		Username:       name,
		Email:          name + "@example.com",
		PasswordDigest: "plain:" + pw,
		Role:           role,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func (fx fixture) mustLogin(t *testing.T, ident, pw string) LoginResult {
	t.Helper()

	res, err := fx.svc.Login(context.Background(), LoginInput{Identifier: ident, Password: pw})
	if err != nil {
		t.Fatalf("login %s: %v", ident, err)
	}
	return res
}

func TestService_LoginAuthenticateRoundTrip(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, Config{})
	u := fx.mustUser(t, "renata", "pw-renata", identity.RoleTerapeuta)

	res := fx.mustLogin(t, "Renata@Example.com", "pw-renata")
	if res.BearerToken == "" || res.SessionToken == "" || res.Claims.SessionID != res.Session.ID {
		t.Fatalf("unexpected login result: %+v", res)
	}

	ac, err := fx.svc.Authenticate(context.Background(), res.BearerToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ac.UserID != u.ID || ac.Role != identity.RoleTerapeuta || ac.SessionID != res.Session.ID {
		t.Fatalf("unexpected auth context: %+v", ac)
	}
	if got := testutil.ToFloat64(fx.metrics.login.WithLabelValues("ok")); got != 1 {
		t.Fatalf("login ok counter = %v", got)
	}
}

func TestService_Login_UpgradesLegacyDigest(t *testing.T) {
	t.Parallel()

	fx := mustFixtureWithHasher(t, Config{}, upgradingHasher{})
	ctx := context.Background()
	u, err := fx.backend.Users().Create(ctx, identity.CreateUserInput{
		Username:       "lucia",
		Email:          "lucia@example.com",
		PasswordDigest: "legacy:pw-lucia",
		Role:           identity.RoleTerapeuta,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	res := fx.mustLogin(t, "lucia", "pw-lucia")

	got, err := fx.backend.Users().GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.PasswordDigest != "plain:pw-lucia" {
		t.Fatalf("digest not upgraded: %q", got.PasswordDigest)
	}
	if got.TokenVersion != u.TokenVersion {
		t.Fatalf("rehash must not bump token version: %d -> %d", u.TokenVersion, got.TokenVersion)
	}
	if _, err := fx.svc.Authenticate(ctx, res.BearerToken); err != nil {
		t.Fatalf("token issued before rehash should stay valid: %v", err)
	}
	fx.mustLogin(t, "lucia", "pw-lucia")

	swapped, err := fx.backend.Users().RehashDigest(ctx, u.ID, "legacy:pw-lucia", "plain:other", time.Now())
	if err != nil || swapped {
		t.Fatalf("stale swap should be a no-op: swapped=%v err=%v", swapped, err)
	}
}

func TestService_Login_UniformFailure(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, Config{})
	fx.mustUser(t, "marcos", "pw-marcos", identity.RoleSecretaria)
	ctx := context.Background()

	_, errWrong := fx.svc.Login(ctx, LoginInput{Identifier: "marcos", Password: "nope"})
	_, errUnknown := fx.svc.Login(ctx, LoginInput{Identifier: "ghost", Password: "nope"})

	for _, err := range []error{errWrong, errUnknown} {
		if !identity.IsUnauthenticated(err) || identity.IsRevoked(err) {
			t.Fatalf("expected plain authentication failure, got %v", err)
		}
	}
	if errWrong.Error() != errUnknown.Error() || ErrorCode(errWrong) != ErrorCode(errUnknown) {
		t.Fatalf("failures must be indistinguishable: %q vs %q", errWrong, errUnknown)
	}
	if got := testutil.ToFloat64(fx.metrics.login.WithLabelValues("unauthenticated")); got != 2 {
		t.Fatalf("login failure counter = %v", got)
	}

	if _, err := fx.svc.Login(ctx, LoginInput{Identifier: " ", Password: "x"}); !identity.IsInvalidInput(err) {
		t.Fatalf("expected invalid input for blank identifier, got %v", err)
	}
}

func TestService_LogoutAll_InvalidatesEveryToken(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, Config{})
	ctx := context.Background()
	fx.mustUser(t, "paula", "pw-paula", identity.RoleTerapeuta)

	a := fx.mustLogin(t, "paula", "pw-paula")
	b := fx.mustLogin(t, "paula", "pw-paula")

	ac, err := fx.svc.Authenticate(ctx, a.BearerToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	res, err := fx.svc.LogoutAll(ctx, ac, session.DeviceContext{})
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if res.SessionsDeleted != 2 {
		t.Fatalf("expected 2 sessions deleted, got %d", res.SessionsDeleted)
	}

	for _, tok := range []string{a.BearerToken, b.BearerToken} {
		_, err := fx.svc.Authenticate(ctx, tok)
		if !identity.IsRevoked(err) || !identity.IsUnauthenticated(err) {
			t.Fatalf("expected revoked token, got %v", err)
		}
	}
	list, err := fx.svc.ListSessions(ctx, ac)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no sessions, got %d", len(list))
	}
	if got := testutil.ToFloat64(fx.metrics.authenticate.WithLabelValues("revoked")); got != 2 {
		t.Fatalf("revoked counter = %v", got)
	}

	c := fx.mustLogin(t, "paula", "pw-paula")
	if _, err := fx.svc.Authenticate(ctx, c.BearerToken); err != nil {
		t.Fatalf("fresh login after logout-all: %v", err)
	}
}

func TestService_Authenticate_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, Config{})
	fx.mustUser(t, "iris", "pw-iris", identity.RoleSecretaria)
	res := fx.mustLogin(t, "iris", "pw-iris")

	fx.clock.Set(res.Claims.ExpiresAt.Add(-time.Second))
	if _, err := fx.svc.Authenticate(context.Background(), res.BearerToken); err != nil {
		t.Fatalf("token should be valid just before expiry: %v", err)
	}
	fx.clock.Set(res.Claims.ExpiresAt)
	if _, err := fx.svc.Authenticate(context.Background(), res.BearerToken); !identity.IsUnauthenticated(err) {
		t.Fatalf("token at expiry should fail, got %v", err)
	}
}

func TestService_LogoutOne_KeepsBearerButEndsSession(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, Config{})
	ctx := context.Background()
	fx.mustUser(t, "nina", "pw-nina", identity.RoleTerapeuta)
	a := fx.mustLogin(t, "nina", "pw-nina")
	b := fx.mustLogin(t, "nina", "pw-nina")

	ok, err := fx.svc.LogoutOne(ctx, a.SessionToken, session.DeviceContext{})
	if err != nil || !ok {
		t.Fatalf("logout one: ok=%v err=%v", ok, err)
	}

	if _, err := fx.svc.Authenticate(ctx, a.BearerToken); err != nil {
		t.Fatalf("bearer stays valid until expiry: %v", err)
	}
	if _, err := fx.svc.AuthenticateSession(ctx, a.BearerToken); !identity.IsUnauthenticated(err) {
		t.Fatalf("strict check should fail without the session row, got %v", err)
	}
	if _, err := fx.svc.AuthenticateSession(ctx, b.BearerToken); err != nil {
		t.Fatalf("other device should be unaffected: %v", err)
	}
}

func TestService_RevokeSession(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, Config{})
	ctx := context.Background()
	fx.mustUser(t, "otto", "pw-otto", identity.RoleTerapeuta)
	fx.mustUser(t, "vera", "pw-vera", identity.RoleTerapeuta)
	a := fx.mustLogin(t, "otto", "pw-otto")
	v := fx.mustLogin(t, "vera", "pw-vera")

	ac, err := fx.svc.AuthenticateSession(ctx, a.BearerToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ok, err := fx.svc.RevokeSession(ctx, ac, v.Session.ID, session.DeviceContext{}); err != nil || ok {
		t.Fatalf("must not revoke another user's session: ok=%v err=%v", ok, err)
	}
	if ok, err := fx.svc.RevokeSession(ctx, ac, "../not-a-ulid", session.DeviceContext{}); err != nil || ok {
		t.Fatalf("malformed id should report no session: ok=%v err=%v", ok, err)
	}
	if ok, err := fx.svc.RevokeSession(ctx, ac, a.Session.ID, session.DeviceContext{}); err != nil || !ok {
		t.Fatalf("revoke own session: ok=%v err=%v", ok, err)
	}
	if _, err := fx.svc.AuthenticateSession(ctx, a.BearerToken); !identity.IsUnauthenticated(err) {
		t.Fatalf("revoked device should fail strict auth, got %v", err)
	}
}

func TestService_ChangeRole(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, Config{})
	ctx := context.Background()
	fx.mustUser(t, "root", "pw-root", identity.RoleAdmin)
	ter := fx.mustUser(t, "tania", "pw-tania", identity.RoleTerapeuta)

	admin := fx.mustLogin(t, "root", "pw-root")
	tania := fx.mustLogin(t, "tania", "pw-tania")
	adminAC, err := fx.svc.Authenticate(ctx, admin.BearerToken)
	if err != nil {
		t.Fatalf("authenticate admin: %v", err)
	}
	taniaAC, err := fx.svc.Authenticate(ctx, tania.BearerToken)
	if err != nil {
		t.Fatalf("authenticate tania: %v", err)
	}

	if _, err := fx.svc.ChangeRole(ctx, taniaAC, adminAC.UserID, identity.RoleSecretaria); !identity.IsForbidden(err) {
		t.Fatalf("terapeuta must not manage usuarios, got %v", err)
	}
	if _, err := fx.svc.ChangeRole(ctx, adminAC, adminAC.UserID, identity.RoleSecretaria); !identity.IsInvalidInput(err) {
		t.Fatalf("self role change should be rejected, got %v", err)
	}

	if _, err := fx.svc.ChangeRole(ctx, adminAC, "nobody", identity.RoleSecretaria); !identity.IsNotFound(err) {
		t.Fatalf("malformed user id should be not found, got %v", err)
	}

	if _, err := fx.svc.ChangeRole(ctx, adminAC, ter.ID, identity.RoleSecretaria); err != nil {
		t.Fatalf("change role: %v", err)
	}
	if _, err := fx.svc.Authenticate(ctx, tania.BearerToken); !identity.IsRevoked(err) {
		t.Fatalf("token with the old role should be revoked, got %v", err)
	}
	again := fx.mustLogin(t, "tania", "pw-tania")
	ac, err := fx.svc.Authenticate(ctx, again.BearerToken)
	if err != nil {
		t.Fatalf("authenticate after role change: %v", err)
	}
	if ac.Role != identity.RoleSecretaria {
		t.Fatalf("expected new role, got %q", ac.Role)
	}
}

func TestService_ChangePassword(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, Config{})
	ctx := context.Background()
	fx.mustUser(t, "gil", "pw-old", identity.RoleSecretaria)
	res := fx.mustLogin(t, "gil", "pw-old")
	ac, err := fx.svc.Authenticate(ctx, res.BearerToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if _, err := fx.svc.ChangePassword(ctx, ac, "wrong", "pw-new"); !identity.IsUnauthenticated(err) {
		t.Fatalf("wrong current password should fail, got %v", err)
	}
	if _, err := fx.svc.ChangePassword(ctx, ac, "pw-old", "pw-new"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := fx.svc.Authenticate(ctx, res.BearerToken); !identity.IsRevoked(err) {
		t.Fatalf("old token should be revoked, got %v", err)
	}
	if _, err := fx.svc.Login(ctx, LoginInput{Identifier: "gil", Password: "pw-old"}); !identity.IsUnauthenticated(err) {
		t.Fatalf("old password should no longer work, got %v", err)
	}
	fx.mustLogin(t, "gil", "pw-new")
}

func TestService_InviteSignupFlow(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, Config{})
	ctx := context.Background()
	fx.mustUser(t, "boss", "pw-boss", identity.RoleAdmin)
	fx.mustUser(t, "sec", "pw-sec", identity.RoleSecretaria)

	adminAC, err := fx.svc.Authenticate(ctx, fx.mustLogin(t, "boss", "pw-boss").BearerToken)
	if err != nil {
		t.Fatalf("authenticate admin: %v", err)
	}
	secAC, err := fx.svc.Authenticate(ctx, fx.mustLogin(t, "sec", "pw-sec").BearerToken)
	if err != nil {
		t.Fatalf("authenticate secretaria: %v", err)
	}

	if _, err := fx.svc.IssueInvite(ctx, secAC, IssueInviteInput{Role: identity.RoleTerapeuta}); !identity.IsForbidden(err) {
		t.Fatalf("secretaria must not issue invites, got %v", err)
	}

	inv, err := fx.svc.IssueInvite(ctx, adminAC, IssueInviteInput{Role: identity.RoleTerapeuta, TTL: 24 * time.Hour, Code: "TEST-1"})
	if err != nil {
		t.Fatalf("issue invite: %v", err)
	}
	if inv.CreatedBy == nil || *inv.CreatedBy != adminAC.UserID {
		t.Fatalf("invite should record its creator: %+v", inv)
	}
	if _, err := fx.svc.ValidateInvite(ctx, "TEST-1", "anyone@example.com"); err != nil {
		t.Fatalf("validate: %v", err)
	}

	u, err := fx.svc.RedeemInvite(ctx, SignupInput{Code: "TEST-1", Username: "nova", Email: "nova@example.com", Password: "pw-nova"})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if u.Role != identity.RoleTerapeuta {
		t.Fatalf("expected terapeuta, got %q", u.Role)
	}
	_, err = fx.svc.RedeemInvite(ctx, SignupInput{Code: "TEST-1", Username: "nova2", Email: "nova2@example.com", Password: "pw-nova"})
	if !identity.IsInviteInvalid(err) {
		t.Fatalf("second signup should be invite-invalid, got %v", err)
	}
	if got := testutil.ToFloat64(fx.metrics.redeem.WithLabelValues("invite_invalid")); got != 1 {
		t.Fatalf("redeem failure counter = %v", got)
	}

	fx.mustLogin(t, "nova", "pw-nova")

	list, err := fx.svc.ListInvites(ctx, adminAC, 0)
	if err != nil {
		t.Fatalf("list invites: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("redeemed invite should not be pending, got %d", len(list))
	}
}

func TestService_Authorize(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, Config{})
	sec := AuthContext{UserID: "u1", Role: identity.RoleSecretaria}

	if err := fx.svc.Authorize(sec, permission.Pacientes, permission.Create); err != nil {
		t.Fatalf("secretaria should create pacientes: %v", err)
	}
	if err := fx.svc.Authorize(sec, permission.Usuarios, permission.List); !identity.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := fx.svc.Authorize(AuthContext{}, permission.Pacientes, permission.List); !identity.IsUnauthenticated(err) {
		t.Fatalf("empty context should be unauthenticated, got %v", err)
	}
	if got := testutil.ToFloat64(fx.metrics.denied.WithLabelValues("secretaria", "usuarios", "list")); got != 1 {
		t.Fatalf("denied counter = %v", got)
	}
}

func TestService_Audit(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, Config{})
	u := fx.mustUser(t, "auditada", "pw-a", identity.RoleTerapeuta)
	ctx := context.Background()

	_, _ = fx.svc.Login(ctx, LoginInput{Identifier: "auditada", Password: "bad"})
	fx.mustLogin(t, "auditada", "pw-a")

	entries, err := fx.backend.Audit().ListByUserID(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
	}
	if !actions["auth.login.failed"] || !actions["auth.login.success"] {
		t.Fatalf("missing audit entries: %v", actions)
	}
}

package invite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/schema"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/security/password"
)

type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "plain:" + p, nil }
func (plainHasher) Verify(d, p string) (bool, error) {
	return d == "plain:"+p, nil
}

type sqliteTx struct {
	db      *sql.DB
	invites *SQLiteStore
	users   *identity.SQLiteStore
}

type boundTx struct {
	invites Store
	users   identity.Store
}

func (b boundTx) Invites() Store        { return b.invites }
func (b boundTx) Users() identity.Store { return b.users }

func (s *sqliteTx) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(boundTx{invites: s.invites.WithDB(tx), users: s.users.WithDB(tx)}); err != nil {
		return err
	}
	return tx.Commit()
}

type fixture struct {
	svc   *Service
	store *SQLiteStore
	users *identity.SQLiteStore
	db    *sql.DB
}

func mustOpenSQLite(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "invite-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	path := f.Name()
	_ = f.Close()
	t.Cleanup(func() { _ = os.Remove(path) })

	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if err := schema.ApplySQLite(context.Background(), db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func mustFixture(t *testing.T, hasher identity.Hasher, opts ...Option) fixture {
	t.Helper()

	db := mustOpenSQLite(t)
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("invite store: %v", err)
	}
	users, err := identity.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	svc, err := NewService(store, &sqliteTx{db: db, invites: store, users: users}, hasher, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return fixture{svc: svc, store: store, users: users, db: db}
}

func TestService_IssueRedeem_SingleUse(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{})
	ctx := context.Background()

	inv, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta, TTL: 24 * time.Hour, Code: "TEST-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if inv.Code != "TEST-1" || inv.Used || inv.Email != nil {
		t.Fatalf("unexpected invite: %+v", inv)
	}

	u, err := fx.svc.Redeem(ctx, RedeemInput{
		Code:     "test-1",
		Username: "carla",
		Email:    "carla@example.com",
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if u.Role != identity.RoleTerapeuta || u.PasswordDigest != "plain:correct horse" {
		t.Fatalf("unexpected user: %+v", u)
	}

	_, err = fx.svc.Redeem(ctx, RedeemInput{
		Code:     "TEST-1",
		Username: "carla2",
		Email:    "carla2@example.com",
		Password: "correct horse",
	})
	if !identity.IsInviteInvalid(err) {
		t.Fatalf("second redemption should be invite-invalid, got %v", err)
	}

	got, err := fx.store.GetByCode(ctx, "TEST-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Used {
		t.Fatalf("invite should be marked used")
	}
}

func TestService_Redeem_ConcurrentExactlyOnce(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{})
	ctx := context.Background()

	inv, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleSecretaria})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	before, err := fx.users.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		invalid int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fx.svc.Redeem(ctx, RedeemInput{
				Code:     inv.Code,
				Username: fmt.Sprintf("racer%d", i),
				Email:    fmt.Sprintf("racer%d@example.com", i),
				Password: "correct horse",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case identity.IsInviteInvalid(err):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 || invalid != n-1 {
		t.Fatalf("expected 1 success and %d invite-invalid, got %d/%d", n-1, ok, invalid)
	}
	after, err := fx.users.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if after != before+1 {
		t.Fatalf("expected exactly one new user, before=%d after=%d", before, after)
	}
}

func TestService_Redeem_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{})
	ctx := context.Background()
	now := time.Now().UTC()

	inv, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta, TTL: time.Hour, Now: now})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	in := RedeemInput{Code: inv.Code, Username: "late", Email: "late@example.com", Password: "correct horse", Now: inv.ExpiresAt}
	if _, err := fx.svc.Redeem(ctx, in); !identity.IsInviteInvalid(err) {
		t.Fatalf("redeem at expiry should fail, got %v", err)
	}
	if _, err := fx.svc.Validate(ctx, inv.Code, "", inv.ExpiresAt); !identity.IsInviteInvalid(err) {
		t.Fatalf("validate at expiry should fail, got %v", err)
	}

	in.Now = inv.ExpiresAt.Add(-time.Nanosecond)
	if _, err := fx.svc.Redeem(ctx, in); err != nil {
		t.Fatalf("redeem just before expiry: %v", err)
	}
}

func TestService_Redeem_EmailConstraint(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{})
	ctx := context.Background()

	email := "Dora@Clinic.com"
	inv, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleAdmin, Email: &email})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := fx.svc.Validate(ctx, inv.Code, "other@clinic.com", time.Time{}); !identity.IsInviteInvalid(err) {
		t.Fatalf("validate with wrong email should fail, got %v", err)
	}
	_, err = fx.svc.Redeem(ctx, RedeemInput{Code: inv.Code, Username: "intruder", Email: "other@clinic.com", Password: "correct horse"})
	if !identity.IsInviteInvalid(err) {
		t.Fatalf("redeem with wrong email should fail, got %v", err)
	}

	u, err := fx.svc.Redeem(ctx, RedeemInput{Code: inv.Code, Username: "dora", Email: "dora@clinic.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("redeem with matching email: %v", err)
	}
	if u.Role != identity.RoleAdmin {
		t.Fatalf("expected granted role admin, got %q", u.Role)
	}
}

func TestService_Redeem_FailedSignupKeepsInvite(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{})
	ctx := context.Background()

	if _, err := fx.users.Create(ctx, identity.CreateUserInput{
		Username: "taken", Email: "taken@example.com", PasswordDigest: "x", Role: identity.RoleAdmin,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	inv, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = fx.svc.Redeem(ctx, RedeemInput{Code: inv.Code, Username: "TAKEN", Email: "new@example.com", Password: "correct horse"})
	var ce identity.ConflictError
	if !errors.As(err, &ce) || ce.Field != "username" {
		t.Fatalf("expected username conflict, got %v", err)
	}

	if _, err := fx.svc.Validate(ctx, inv.Code, "new@example.com", time.Time{}); err != nil {
		t.Fatalf("invite should still be pending after a rolled back signup: %v", err)
	}
}

func TestService_Redeem_PasswordPolicy(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, password.DefaultConfig())
	ctx := context.Background()

	inv, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = fx.svc.Redeem(ctx, RedeemInput{Code: inv.Code, Username: "weak", Email: "weak@example.com", Password: "123"})
	if !identity.IsInvalidInput(err) || !password.IsPolicyViolation(err) {
		t.Fatalf("expected policy rejection as invalid input, got %v", err)
	}
	if _, err := fx.svc.Validate(ctx, inv.Code, "", time.Time{}); err != nil {
		t.Fatalf("invite should still be pending: %v", err)
	}
}

func TestService_Redeem_UnknownCode(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{})
	for _, code := range []string{"", "   ", "NOPE-NOPE"} {
		_, err := fx.svc.Redeem(context.Background(), RedeemInput{Code: code, Username: "x_user", Email: "x@example.com", Password: "correct horse"})
		if !identity.IsInviteInvalid(err) {
			t.Fatalf("code %q: expected invite-invalid, got %v", code, err)
		}
	}
}

func TestService_Issue_GeneratedCodeCollisionRetriesOnce(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{})
	ctx := context.Background()

	if _, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta, Code: "AAAA-AAAA"}); err != nil {
		t.Fatalf("seed invite: %v", err)
	}

	codes := []string{"AAAA-AAAA", "BBBB-BBBB"}
	fx.svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	inv, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta})
	if err != nil {
		t.Fatalf("issue after collision: %v", err)
	}
	if inv.Code != "BBBB-BBBB" {
		t.Fatalf("expected retried code, got %q", inv.Code)
	}

	fx.svc.newCode = func() (string, error) { return "AAAA-AAAA", nil }
	if _, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta}); !identity.IsConflict(err) {
		t.Fatalf("expected conflict after two collisions, got %v", err)
	}

	if _, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta, Code: "aaaa-aaaa"}); !identity.IsConflict(err) {
		t.Fatalf("custom code collision should be a conflict, got %v", err)
	}
}

func TestService_Issue_Validation(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{}, WithTTL(time.Hour, 48*time.Hour))
	ctx := context.Background()
	now := time.Now().UTC()

	inv, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleSecretaria, Now: now})
	if err != nil {
		t.Fatalf("issue default ttl: %v", err)
	}
	if !inv.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("default ttl not applied: %v", inv.ExpiresAt.Sub(now))
	}

	inv, err = fx.svc.Issue(ctx, IssueInput{Role: identity.RoleSecretaria, TTL: 48 * time.Hour, Now: now})
	if err != nil {
		t.Fatalf("issue max ttl: %v", err)
	}
	if !inv.ExpiresAt.Equal(now.Add(48 * time.Hour)) {
		t.Fatalf("expires_at should be now+ttl: %v", inv.ExpiresAt.Sub(now))
	}

	if _, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleSecretaria, TTL: 48*time.Hour + time.Second, Now: now}); !identity.IsInvalidInput(err) {
		t.Fatalf("ttl above max should be rejected, got %v", err)
	}
	list, err := fx.svc.ListPending(ctx, now, 0)
	if err != nil || len(list) != 2 {
		t.Fatalf("rejected issue must not create an invite: n=%d err=%v", len(list), err)
	}

	bad := "not-an-email"
	for name, in := range map[string]IssueInput{
		"role":  {Role: identity.Role("root")},
		"ttl":   {Role: identity.RoleAdmin, TTL: -time.Second},
		"email": {Role: identity.RoleAdmin, Email: &bad},
		"code":  {Role: identity.RoleAdmin, Code: "!!"},
	} {
		if _, err := fx.svc.Issue(ctx, in); !identity.IsInvalidInput(err) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
}

func TestService_RecordEmailSent_Throttle(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{}, WithResendInterval(time.Hour))
	ctx := context.Background()
	now := time.Now().UTC()

	inv, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta, Now: now})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := fx.svc.RecordEmailSent(ctx, inv.ID, now)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	if got.LastEmailSent == nil || !got.LastEmailSent.Equal(now) {
		t.Fatalf("last_email_sent not stamped: %+v", got.LastEmailSent)
	}

	if _, err := fx.svc.RecordEmailSent(ctx, inv.ID, now.Add(10*time.Minute)); !identity.IsConflict(err) {
		t.Fatalf("send inside interval should conflict, got %v", err)
	}
	if _, err := fx.svc.RecordEmailSent(ctx, inv.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("send after interval: %v", err)
	}

	if _, err := fx.svc.RecordEmailSent(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", now); !identity.IsNotFound(err) {
		t.Fatalf("unknown invite should be not found, got %v", err)
	}
}

// The store keeps the interval guard for racing senders even when the
// service-level check has already passed.
func TestSQLiteStore_SetLastEmailSent_GuardsInterval(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{})
	ctx := context.Background()
	now := time.Now().UTC()

	inv, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta, Now: now})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := fx.store.SetLastEmailSent(ctx, inv.ID, now, now.Add(-time.Hour)); err != nil {
		t.Fatalf("first stamp: %v", err)
	}
	later := now.Add(time.Minute)
	if _, err := fx.store.SetLastEmailSent(ctx, inv.ID, later, later.Add(-time.Hour)); !identity.IsConflict(err) {
		t.Fatalf("stamp inside interval should conflict, got %v", err)
	}
}

func TestSQLiteStore_CanceledContextIsUnavailable(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{})
	inv, err := fx.svc.Issue(context.Background(), IssueInput{Role: identity.RoleTerapeuta})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := fx.store.MarkUsed(ctx, inv.ID, time.Now()); !identity.IsUnavailable(err) || !errors.Is(err, context.Canceled) {
		t.Fatalf("MarkUsed: expected unavailable wrapping context.Canceled, got %v", err)
	}
	if _, err := fx.store.GetByCode(ctx, inv.Code); !identity.IsUnavailable(err) {
		t.Fatalf("GetByCode: expected unavailable, got %v", err)
	}
	if _, err := fx.store.ListPending(ctx, time.Now(), 10); !identity.IsUnavailable(err) {
		t.Fatalf("ListPending: expected unavailable, got %v", err)
	}
	if _, err := fx.users.GetByID(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ"); !identity.IsUnavailable(err) {
		t.Fatalf("users.GetByID: expected unavailable, got %v", err)
	}
}

func TestService_ListPending(t *testing.T) {
	t.Parallel()

	fx := mustFixture(t, plainHasher{})
	ctx := context.Background()
	now := time.Now().UTC()

	pending, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta, TTL: time.Hour, Now: now})
	if err != nil {
		t.Fatalf("issue pending: %v", err)
	}
	if _, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleTerapeuta, TTL: time.Minute, Now: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	used, err := fx.svc.Issue(ctx, IssueInput{Role: identity.RoleSecretaria, TTL: time.Hour, Now: now})
	if err != nil {
		t.Fatalf("issue used: %v", err)
	}
	if _, err := fx.svc.Redeem(ctx, RedeemInput{Code: used.Code, Username: "eva", Email: "eva@example.com", Password: "correct horse", Now: now}); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	list, err := fx.svc.ListPending(ctx, now, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != pending.ID {
		ids := make([]string, 0, len(list))
		for _, inv := range list {
			ids = append(ids, inv.Code)
		}
		t.Fatalf("expected only the pending invite, got [%s]", strings.Join(ids, ", "))
	}
}

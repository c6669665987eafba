package revocation

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/session"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/schema"
)

// sqliteTx is a minimal Transactor over one *sql.DB.
type sqliteTx struct {
	db           *sql.DB
	users        *identity.SQLiteStore
	sessions     *session.SQLiteStore
	failSessions bool
}

type boundTx struct {
	users    identity.Store
	sessions session.Store
}

func (b boundTx) Users() identity.Store    { return b.users }
func (b boundTx) Sessions() session.Store { return b.sessions }

type failingSessions struct{ session.Store }

func (failingSessions) DeleteAllByUserID(context.Context, string) (int64, error) {
	return 0, errors.New("boom")
}

func (s *sqliteTx) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var sessions session.Store = s.sessions.WithDB(tx)
	if s.failSessions {
		sessions = failingSessions{sessions}
	}
	if err := fn(boundTx{users: s.users.WithDB(tx), sessions: sessions}); err != nil {
		return err
	}
	return tx.Commit()
}

func mustFixture(t *testing.T) (*sqliteTx, identity.User) {
	t.Helper()

	f, err := os.CreateTemp("", "revocation-test-*.db")
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

	users, err := identity.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	sessions, err := session.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}

	u, err := users.Create(context.Background(), identity.CreateUserInput{
		Username:       "marta",
		Email:          "marta@example.com",
		PasswordDigest: "old-digest",
		Role:           identity.RoleSecretaria,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &sqliteTx{db: db, users: users, sessions: sessions}, u
}

func mustSessions(t *testing.T, fx *sqliteTx, userID string, n int) []session.Created {
	t.Helper()

	out := make([]session.Created, 0, n)
	for i := 0; i < n; i++ {
		c, err := fx.sessions.Create(context.Background(), session.CreateInput{UserID: userID, TTL: time.Hour})
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
		out = append(out, c)
	}
	return out
}

func TestController_LogoutOne_KeepsOtherDevices(t *testing.T) {
	t.Parallel()

	fx, u := mustFixture(t)
	c := NewController(fx, fx.sessions, nil)
	ctx := context.Background()
	ss := mustSessions(t, fx, u.ID, 2)

	ok, err := c.LogoutOne(ctx, ss[0].Token)
	if err != nil || !ok {
		t.Fatalf("logout one: ok=%v err=%v", ok, err)
	}
	ok, err = c.LogoutOne(ctx, ss[0].Token)
	if err != nil || ok {
		t.Fatalf("second logout should be a no-op: ok=%v err=%v", ok, err)
	}

	if _, err := fx.sessions.FindByToken(ctx, ss[1].Token, time.Now()); err != nil {
		t.Fatalf("other session should survive: %v", err)
	}
	got, err := fx.users.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.TokenVersion != 0 {
		t.Fatalf("single logout must not bump the token version, got %d", got.TokenVersion)
	}
}

func TestController_LogoutAll(t *testing.T) {
	t.Parallel()

	fx, u := mustFixture(t)
	c := NewController(fx, fx.sessions, nil)
	ctx := context.Background()
	mustSessions(t, fx, u.ID, 3)

	res, err := c.LogoutAll(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if res.TokenVersion != 1 || res.SessionsDeleted != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	list, err := fx.sessions.ListByUserID(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no sessions, got %d", len(list))
	}

	res, err = c.LogoutAll(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("second logout all: %v", err)
	}
	if res.TokenVersion != 2 || res.SessionsDeleted != 0 {
		t.Fatalf("unexpected second result: %+v", res)
	}
}

func TestController_LogoutAll_UnknownUser(t *testing.T) {
	t.Parallel()

	fx, _ := mustFixture(t)
	c := NewController(fx, fx.sessions, nil)

	if _, err := c.LogoutAll(context.Background(), "01HZZZZZZZZZZZZZZZZZZZZZZZ", time.Now()); !identity.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := c.LogoutAll(context.Background(), "  ", time.Now()); !identity.IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestController_RollsBackBumpWhenSessionDeleteFails(t *testing.T) {
	t.Parallel()

	fx, u := mustFixture(t)
	fx.failSessions = true
	c := NewController(fx, fx.sessions, nil)
	ctx := context.Background()

	if _, err := c.LogoutAll(ctx, u.ID, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
	got, err := fx.users.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.TokenVersion != 0 {
		t.Fatalf("bump must roll back with the failed delete, got version %d", got.TokenVersion)
	}
}

func TestController_ChangePasswordAndRole(t *testing.T) {
	t.Parallel()

	fx, u := mustFixture(t)
	c := NewController(fx, fx.sessions, nil)
	ctx := context.Background()
	mustSessions(t, fx, u.ID, 1)

	res, err := c.ChangePassword(ctx, u.ID, "new-digest", time.Now())
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	if res.TokenVersion != 1 || res.SessionsDeleted != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = c.ChangeRole(ctx, u.ID, identity.RoleTerapeuta, time.Now())
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if res.TokenVersion != 2 {
		t.Fatalf("unexpected version: %d", res.TokenVersion)
	}

	got, err := fx.users.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.PasswordDigest != "new-digest" || got.Role != identity.RoleTerapeuta || got.TokenVersion != 2 {
		t.Fatalf("unexpected user after changes: %+v", got)
	}

	if _, err := c.ChangeRole(ctx, u.ID, identity.Role("root"), time.Now()); !identity.IsInvalidInput(err) {
		t.Fatalf("expected invalid role, got %v", err)
	}
}

func TestController_RevokeSession(t *testing.T) {
	t.Parallel()

	fx, u := mustFixture(t)
	c := NewController(fx, fx.sessions, nil)
	ctx := context.Background()
	ss := mustSessions(t, fx, u.ID, 2)

	ok, err := c.RevokeSession(ctx, "someone-else", ss[0].Session.ID)
	if err != nil || ok {
		t.Fatalf("revoking another user's session must not delete it: ok=%v err=%v", ok, err)
	}
	ok, err = c.RevokeSession(ctx, u.ID, ss[0].Session.ID)
	if err != nil || !ok {
		t.Fatalf("revoke: ok=%v err=%v", ok, err)
	}
	if _, err := fx.sessions.FindByToken(ctx, ss[0].Token, time.Now()); !identity.IsNotFound(err) {
		t.Fatalf("expected revoked session to be gone, got %v", err)
	}
}

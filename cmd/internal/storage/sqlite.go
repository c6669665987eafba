package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/session"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/invite"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/dbtx"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/schema"
)

// OpenSQLite opens (creating if needed) the database at path.
//
// One connection serializes every writer; _txlock=immediate makes each
// transaction take the write lock at BEGIN so conditional updates never race.
func OpenSQLite(path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage: empty sqlite path")
	}
	dsn := "file:" + path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// SQLite is a Backend over one SQLite database, owned by the backend.
type SQLite struct {
	db *sql.DB

	users    *identity.SQLiteStore
	sessions *session.SQLiteStore
	invites  *invite.SQLiteStore
	audit    *SQLiteAudit
}

// NewSQLite builds the stores over db.
func NewSQLite(db *sql.DB, opts Options) (*SQLite, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: nil db")
	}
	users, err := identity.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewSQLiteStore(db, session.WithTokenHasher(opts.TokenHasher))
	if err != nil {
		return nil, err
	}
	invites, err := invite.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return &SQLite{
		db:       db,
		users:    users,
		sessions: sessions,
		invites:  invites,
		audit:    &SQLiteAudit{db: db},
	}, nil
}

func (s *SQLite) Users() identity.Store   { return s.users }
func (s *SQLite) Sessions() session.Store { return s.sessions }
func (s *SQLite) Invites() invite.Store   { return s.invites }
func (s *SQLite) Audit() AuditLog         { return s.audit }
func (s *SQLite) Kind() string            { return KindSQLite }

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.Unavailable("storage.InTx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(s.bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return identity.Unavailable("storage.InTx", err)
	}
	return nil
}

func (s *SQLite) bind(db dbtx.SQL) stores {
	return stores{
		users:    s.users.WithDB(db),
		sessions: s.sessions.WithDB(db),
		invites:  s.invites.WithDB(db),
		audit:    &SQLiteAudit{db: db},
	}
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	return schema.ApplySQLite(ctx, s.db)
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() { _ = s.db.Close() }

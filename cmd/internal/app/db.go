package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/security/token"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// OpenBackend opens the configured database (Postgres when DatabaseURL is
// set, SQLite otherwise) and applies the schema when AutoMigrate is on.
// The caller owns the returned backend and must Close it.
func OpenBackend(ctx context.Context, cfg Config, hasher token.Hasher, log Logger) (storage.Backend, error) {
	opts := storage.Options{Schema: cfg.DBSchema, TokenHasher: hasher}

	var (
		b   storage.Backend
		err error
	)
	if cfg.DatabaseURL != "" {
		pool, perr := NewDBPool(ctx, cfg)
		if perr != nil {
			return nil, fmt.Errorf("db: connect postgres: %w", perr)
		}
		b, err = storage.NewPostgres(pool, opts)
		if err != nil {
			pool.Close()
			return nil, err
		}
	} else {
		db, oerr := storage.OpenSQLite(cfg.SQLitePath)
		if oerr != nil {
			return nil, fmt.Errorf("db: open sqlite: %w", oerr)
		}
		b, err = storage.NewSQLite(db, opts)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if cfg.AutoMigrate {
		if err := b.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, err
		}
		log.Info("db.schema.applied", "kind", b.Kind())
	}
	log.Info("db.enabled", "kind", b.Kind(), "token_hmac", hasher.Keyed())
	return b, nil
}

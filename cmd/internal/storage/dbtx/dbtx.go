// Package dbtx defines the querier contracts shared by the Postgres and SQLite
// stores, plus driver error classification and time encoding helpers.
//
// Stores accept a querier instead of a pool so the same code runs against a
// pool, a *sql.DB or an open transaction.
package dbtx

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type PG interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SQL is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type SQL interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PGIdent quotes a schema-qualified identifier: "schema"."name".
func PGIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

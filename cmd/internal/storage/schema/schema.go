// Package schema holds the DDL for the auth tables and applies it to a database.
//
// The Postgres flavor is rendered for a caller-chosen schema; the SQLite flavor
// lives in the main database.
package schema

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed postgres.sql
var postgresDDL string

//go:embed sqlite.sql
var sqliteDDL string

// DefaultPostgresSchema is used when no schema is configured.
const DefaultPostgresSchema = "espaco"

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidSchema is returned for schema names that are not plain identifiers.
var ErrInvalidSchema = errors.New("schema: invalid schema identifier")

// ValidIdent reports whether s is a plain SQL identifier.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Postgres renders the Postgres DDL for the given schema.
func Postgres(schemaName string) (string, error) {
	schemaName = strings.TrimSpace(schemaName)
	if !ValidIdent(schemaName) {
		return "", ErrInvalidSchema
	}
	return strings.ReplaceAll(postgresDDL, "{{schema}}", pgx.Identifier{schemaName}.Sanitize()), nil
}

// SQLite returns the SQLite DDL.
func SQLite() string { return sqliteDDL }

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ApplyPostgres creates the tables in schemaName if they do not exist.
func ApplyPostgres(ctx context.Context, db pgExecer, schemaName string) error {
	ddl, err := Postgres(schemaName)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("schema: apply postgres: %w", err)
	}
	return nil
}

// ApplySQLite creates the tables if they do not exist.
func ApplySQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteDDL); err != nil {
		return fmt.Errorf("schema: apply sqlite: %w", err)
	}
	return nil
}

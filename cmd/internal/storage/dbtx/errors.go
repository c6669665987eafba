package dbtx

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PGUniqueViolation reports whether err is a unique_violation and returns the
// lower-cased constraint name.
func PGUniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(pgErr.ConstraintName)), true
}

// PGForeignKeyViolation reports whether err is a foreign_key_violation.
func PGForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// SQLiteUniqueViolation reports whether err is a UNIQUE constraint failure and
// returns the offending "table.column" list from the driver message, lower-cased.
func SQLiteUniqueViolation(err error) (columns string, ok bool) {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return "", false
	}
	if sqErr.ExtendedCode != sqlite3.ErrConstraintUnique && sqErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return "", false
	}
	msg := strings.ToLower(sqErr.Error())
	if i := strings.Index(msg, "failed:"); i >= 0 {
		msg = strings.TrimSpace(msg[i+len("failed:"):])
	}
	return msg, true
}

// SQLiteForeignKeyViolation reports whether err is a FOREIGN KEY constraint failure.
func SQLiteForeignKeyViolation(err error) bool {
	var sqErr sqlite3.Error
	return errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

package dbtx

import (
	"database/sql"
	"time"
)

// sqliteTimeLayout is fixed width so TEXT comparisons order like instants.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime encodes t for a SQLite TEXT column.
func FormatTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

// ParseTime decodes a value written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(sqliteTimeLayout, s, time.UTC)
}

// FormatTimePtr encodes an optional time; nil stays NULL.
func FormatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

// ParseNullTime decodes an optional time column.
func ParseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// NullString converts an optional string column to a pointer.
func NullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

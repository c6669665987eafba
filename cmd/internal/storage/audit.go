package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage/dbtx"
)

// Entry is one audit_log row. Meta must never hold secrets.
type Entry struct {
	ID        string
	Action    string
	UserID    *string
	SessionID *string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// AuditLog is an append-only record of security-relevant events.
type AuditLog interface {
	Record(ctx context.Context, e Entry) error
	ListByUserID(ctx context.Context, userID string, limit int) ([]Entry, error)
}

const (
	maxAuditUserAgentLen = 512
	defaultAuditLimit    = 50
)

func (e Entry) normalize(op string) (Entry, []byte, error) {
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		return e, nil, identity.Invalid(op, "missing action")
	}
	e.UserAgent = strings.TrimSpace(e.UserAgent)
	if len(e.UserAgent) > maxAuditUserAgentLen {
		e.UserAgent = e.UserAgent[:maxAuditUserAgentLen]
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	e.At = e.At.UTC()

	meta := []byte("{}")
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return e, nil, identity.Invalid(op, "meta is not JSON-encodable")
		}
		meta = b
	}

	id, err := identity.NewULID(e.At)
	if err != nil {
		return e, nil, identity.Unavailable(op, err)
	}
	e.ID = id
	return e, meta, nil
}

func auditLimit(n int) int {
	if n <= 0 || n > defaultAuditLimit*10 {
		return defaultAuditLimit
	}
	return n
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ipString(ip net.IP) *string {
	if len(ip) == 0 {
		return nil
	}
	s := ip.String()
	return &s
}

// PostgresAudit writes to <schema>.audit_log.
type PostgresAudit struct {
	db     dbtx.PG
	schema string
}

func (a *PostgresAudit) Record(ctx context.Context, e Entry) error {
	const op = "audit.Record"
	e, meta, err := e.normalize(op)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(ctx,
		`INSERT INTO `+dbtx.PGIdent(a.schema, "audit_log")+` (id, action, user_id, session_id, ip, user_agent, meta, created_at)
		 VALUES ($1, $2, $3, $4, $5::inet, $6, $7::jsonb, $8)`,
		e.ID, e.Action, e.UserID, e.SessionID, ipString(e.IP), nonEmpty(e.UserAgent), string(meta), e.At,
	)
	if err != nil {
		return identity.Unavailable(op, err)
	}
	return nil
}

func (a *PostgresAudit) ListByUserID(ctx context.Context, userID string, limit int) ([]Entry, error) {
	const op = "audit.ListByUserID"
	rows, err := a.db.Query(ctx,
		`SELECT id, action, user_id, session_id, host(ip), user_agent, meta::text, created_at
		   FROM `+dbtx.PGIdent(a.schema, "audit_log")+`
		  WHERE user_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		userID, auditLimit(limit),
	)
	if err != nil {
		return nil, identity.Unavailable(op, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			ip, ua   *string
			metaText string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.UserID, &e.SessionID, &ip, &ua, &metaText, &e.At); err != nil {
			return nil, identity.Unavailable(op, err)
		}
		fillEntry(&e, ip, ua, metaText)
		e.At = e.At.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, identity.Unavailable(op, err)
	}
	return out, nil
}

// SQLiteAudit writes to audit_log in a SQLite database.
type SQLiteAudit struct {
	db dbtx.SQL
}

func (a *SQLiteAudit) Record(ctx context.Context, e Entry) error {
	const op = "audit.Record"
	e, meta, err := e.normalize(op)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, user_id, session_id, ip, user_agent, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.UserID, e.SessionID, ipString(e.IP), nonEmpty(e.UserAgent), string(meta), dbtx.FormatTime(e.At),
	)
	if err != nil {
		return identity.Unavailable(op, err)
	}
	return nil
}

func (a *SQLiteAudit) ListByUserID(ctx context.Context, userID string, limit int) ([]Entry, error) {
	const op = "audit.ListByUserID"
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, action, user_id, session_id, ip, user_agent, meta, created_at
		   FROM audit_log
		  WHERE user_id = ?
		  ORDER BY created_at DESC, id DESC
		  LIMIT ?`,
		userID, auditLimit(limit),
	)
	if err != nil {
		return nil, identity.Unavailable(op, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                   Entry
			uid, sid, ip, ua    sql.NullString
			metaText, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Action, &uid, &sid, &ip, &ua, &metaText, &createdAt); err != nil {
			return nil, identity.Unavailable(op, err)
		}
		e.UserID = dbtx.NullString(uid)
		e.SessionID = dbtx.NullString(sid)
		fillEntry(&e, dbtx.NullString(ip), dbtx.NullString(ua), metaText)
		if e.At, err = dbtx.ParseTime(createdAt); err != nil {
			return nil, identity.Unavailable(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, identity.Unavailable(op, err)
	}
	return out, nil
}

func fillEntry(e *Entry, ip, ua *string, metaText string) {
	if ip != nil {
		e.IP = net.ParseIP(*ip)
	}
	if ua != nil {
		e.UserAgent = *ua
	}
	if metaText != "" && metaText != "{}" {
		_ = json.Unmarshal([]byte(metaText), &e.Meta)
	}
}

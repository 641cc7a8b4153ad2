package audit

import (
	"context"
	"database/sql"
	"time"
)

// PostgresLogger writes audit entries to PostgreSQL.
type PostgresLogger struct {
	db *sql.DB
}

// NewPostgresLogger creates an audit logger backed by PostgreSQL.
func NewPostgresLogger(db *sql.DB) *PostgresLogger {
	return &PostgresLogger{db: db}
}

func (l *PostgresLogger) Log(ctx context.Context, entry *Entry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor_type, actor_id, action, resource, resource_id, metadata, risk_level, request_id, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7, $8, $9, NOW())
	`, entry.ActorType, entry.ActorID, entry.Action, entry.Resource, entry.ResourceID,
		nullIfEmpty(entry.Metadata), string(entry.RiskLevel), entry.RequestID, entry.IPAddress)
	return err
}

func (l *PostgresLogger) Query(ctx context.Context, resource, resourceID string, from, to time.Time, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	if to.IsZero() {
		to = time.Now()
	}

	var rows *sql.Rows
	var err error
	if resourceID != "" {
		rows, err = l.db.QueryContext(ctx, `
			SELECT id, actor_type, COALESCE(actor_id, ''), action, resource, resource_id,
				COALESCE(metadata::TEXT, ''), risk_level, COALESCE(request_id, ''), COALESCE(ip_address, ''), created_at
			FROM audit_log
			WHERE resource = $1 AND resource_id = $2 AND created_at >= $3 AND created_at <= $4
			ORDER BY created_at DESC LIMIT $5
		`, resource, resourceID, from, to, limit)
	} else {
		rows, err = l.db.QueryContext(ctx, `
			SELECT id, actor_type, COALESCE(actor_id, ''), action, resource, resource_id,
				COALESCE(metadata::TEXT, ''), risk_level, COALESCE(request_id, ''), COALESCE(ip_address, ''), created_at
			FROM audit_log
			WHERE resource = $1 AND created_at >= $2 AND created_at <= $3
			ORDER BY created_at DESC LIMIT $4
		`, resource, from, to, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var level string
		if err := rows.Scan(&e.ID, &e.ActorType, &e.ActorID, &e.Action, &e.Resource, &e.ResourceID,
			&e.Metadata, &level, &e.RequestID, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RiskLevel = RiskLevel(level)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

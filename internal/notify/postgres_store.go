package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists notifications in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed notification store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, n *Notification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient, order_id, type, title, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::JSONB, $8)`,
		n.ID, n.Recipient, nullIfEmpty(n.OrderID), string(n.Type), n.Title, n.Message, meta, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListByRecipient(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, recipient, order_id, type, title, message, metadata, read_at, created_at
		FROM notifications
		WHERE recipient = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var result []*Notification
	for rows.Next() {
		var (
			n       Notification
			orderID sql.NullString
			meta    []byte
			readAt  sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.Recipient, &orderID, &n.Type, &n.Title, &n.Message, &meta, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.OrderID = orderID.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		result = append(result, &n)
	}
	return result, rows.Err()
}

func (p *PostgresStore) MarkRead(ctx context.Context, id, recipient string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = $1
		WHERE id = $2 AND recipient = $3 AND read_at IS NULL`,
		time.Now(), id, recipient,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Either missing, someone else's, or already read. Distinguish the
		// already-read case so repeat calls stay idempotent.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1 AND recipient = $2)`,
			id, recipient,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check notification: %w", err)
		}
		if !exists {
			return ErrNotificationNotFound
		}
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists escrow holds in PostgreSQL. A partial unique index
// on (order_id) over fund-holding statuses backs the one-active-hold rule.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed hold store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const holdColumns = `id, order_id, transaction_id, amount, remaining, currency, status,
	auto_release_at, release_reason, released_by, released_at, disputed_at,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, h *Hold) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_holds (`+holdColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		h.ID, h.OrderID, h.TransactionID, h.Amount.String(), h.Remaining.String(), h.Currency, string(h.Status),
		h.AutoReleaseAt, h.ReleaseReason, h.ReleasedBy, h.ReleasedAt, h.DisputedAt,
		h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "idx_escrow_holds_active_order") {
			return ErrHoldExists
		}
		return fmt.Errorf("insert hold: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Hold, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM escrow_holds WHERE id = $1`, id)
	return scanHold(row)
}

func (p *PostgresStore) GetByOrder(ctx context.Context, orderID string) (*Hold, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+holdColumns+` FROM escrow_holds
		WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID)
	return scanHold(row)
}

func (p *PostgresStore) Update(ctx context.Context, h *Hold, expected Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE escrow_holds SET
			remaining = $1, status = $2, auto_release_at = $3,
			release_reason = $4, released_by = $5, released_at = $6, disputed_at = $7,
			updated_at = $8
		WHERE id = $9 AND status = $10`,
		h.Remaining.String(), string(h.Status), h.AutoReleaseAt,
		h.ReleaseReason, h.ReleasedBy, h.ReleasedAt, h.DisputedAt,
		h.UpdatedAt, h.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update hold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM escrow_holds WHERE id = $1)`, h.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check hold: %w", err)
		}
		if !exists {
			return ErrHoldNotFound
		}
		return ErrStaleHold
	}
	return nil
}

func (p *PostgresStore) SumHeld(ctx context.Context) (decimal.Decimal, error) {
	var sum string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(remaining), 0) FROM escrow_holds
		WHERE status IN ('held', 'partial_release', 'disputed')`).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum held funds: %w", err)
	}
	d, err := decimal.NewFromString(sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse held sum: %w", err)
	}
	return d, nil
}

func (p *PostgresStore) ListAutoReleasable(ctx context.Context, before time.Time, limit int) ([]*Hold, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+holdColumns+` FROM escrow_holds
		WHERE status IN ('held', 'partial_release') AND auto_release_at IS NOT NULL AND auto_release_at <= $1
		ORDER BY auto_release_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list auto-releasable holds: %w", err)
	}
	defer rows.Close()

	var result []*Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHold(row rowScanner) (*Hold, error) {
	var (
		h                 Hold
		amount, remaining string
		status            string
		autoRelease       sql.NullTime
		releasedAt        sql.NullTime
		disputedAt        sql.NullTime
	)
	err := row.Scan(&h.ID, &h.OrderID, &h.TransactionID, &amount, &remaining, &h.Currency, &status,
		&autoRelease, &h.ReleaseReason, &h.ReleasedBy, &releasedAt, &disputedAt,
		&h.CreatedAt, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan hold: %w", err)
	}
	if h.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse hold amount: %w", err)
	}
	if h.Remaining, err = decimal.NewFromString(remaining); err != nil {
		return nil, fmt.Errorf("parse hold remaining: %w", err)
	}
	h.Status = Status(status)
	if autoRelease.Valid {
		ts := autoRelease.Time
		h.AutoReleaseAt = &ts
	}
	if releasedAt.Valid {
		ts := releasedAt.Time
		h.ReleasedAt = &ts
	}
	if disputedAt.Valid {
		ts := disputedAt.Time
		h.DisputedAt = &ts
	}
	return &h, nil
}

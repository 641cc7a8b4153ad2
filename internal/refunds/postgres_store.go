package refunds

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PostgresStore persists refunds in PostgreSQL. A partial unique index on
// (order_id) over pending rows backs the one-pending-refund rule.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed refund store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const refundColumns = `id, order_id, transaction_id, refund_txn_id, amount, currency,
	reason, requested_by, request_notes, status, processed_by, processing_notes,
	requested_at, processed_at, completed_at`

func (p *PostgresStore) Create(ctx context.Context, r *Refund) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.OrderID, r.TransactionID, r.RefundTxnID, r.Amount.String(), r.Currency,
		r.Reason, r.RequestedBy, r.RequestNotes, string(r.Status), r.ProcessedBy, r.ProcessingNotes,
		r.RequestedAt, r.ProcessedAt, r.CompletedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "idx_refunds_pending_order") {
			return ErrRefundPendingExists
		}
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Refund, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id)
	return scanRefund(row)
}

func (p *PostgresStore) ListByOrder(ctx context.Context, orderID string) ([]*Refund, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+refundColumns+` FROM refunds
		WHERE order_id = $1 ORDER BY requested_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var result []*Refund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, r *Refund, expected Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE refunds SET
			refund_txn_id = $1, status = $2, processed_by = $3, processing_notes = $4,
			processed_at = $5, completed_at = $6
		WHERE id = $7 AND status = $8`,
		r.RefundTxnID, string(r.Status), r.ProcessedBy, r.ProcessingNotes,
		r.ProcessedAt, r.CompletedAt, r.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM refunds WHERE id = $1)`, r.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check refund: %w", err)
		}
		if !exists {
			return ErrRefundNotFound
		}
		return ErrStaleRefund
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefund(row rowScanner) (*Refund, error) {
	var (
		r           Refund
		amount      string
		status      string
		refundTxn   sql.NullString
		processedAt sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.OrderID, &r.TransactionID, &refundTxn, &amount, &r.Currency,
		&r.Reason, &r.RequestedBy, &r.RequestNotes, &status, &r.ProcessedBy, &r.ProcessingNotes,
		&r.RequestedAt, &processedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRefundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan refund: %w", err)
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse refund amount: %w", err)
	}
	r.Status = Status(status)
	r.RefundTxnID = refundTxn.String
	if processedAt.Valid {
		ts := processedAt.Time
		r.ProcessedAt = &ts
	}
	if completedAt.Valid {
		ts := completedAt.Time
		r.CompletedAt = &ts
	}
	return &r, nil
}

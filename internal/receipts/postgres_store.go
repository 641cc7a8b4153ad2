package receipts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists receipts in PostgreSQL. Receipts are write-once;
// there is no update path.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const receiptColumns = `id, order_id, kind, transaction_id, buyer_id, seller_id,
	amount, currency, backend, payload_hash, signature, issued_at, expires_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.OrderID, string(r.Kind), r.TransactionID, r.BuyerID, r.SellerID,
		r.Amount, r.Currency, r.Backend, r.PayloadHash, r.Signature,
		r.IssuedAt, r.ExpiresAt, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	return scanReceipt(row)
}

func (p *PostgresStore) ListByOrder(ctx context.Context, orderID string) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE order_id = $1 ORDER BY issued_at DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var r Receipt
	var kind string
	err := row.Scan(
		&r.ID, &r.OrderID, &kind, &r.TransactionID, &r.BuyerID, &r.SellerID,
		&r.Amount, &r.Currency, &r.Backend, &r.PayloadHash, &r.Signature,
		&r.IssuedAt, &r.ExpiresAt, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("scan receipt: %w", err)
	}
	r.Kind = Kind(kind)
	return &r, nil
}

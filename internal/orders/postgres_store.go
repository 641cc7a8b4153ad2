package orders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists orders in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, order_number, buyer_id, seller_id, listing_id, quantity,
	unit_price, total_amount, currency, platform_fee, processing_fee, seller_amount,
	status, payment_status, delivery_status, expires_at,
	buyer_notes, seller_notes, dispute_reason, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		o.ID, o.OrderNumber, o.BuyerID, o.SellerID, o.ListingID, o.Quantity,
		o.UnitPrice.String(), o.TotalAmount.String(), o.Currency,
		o.PlatformFee.String(), o.ProcessingFee.String(), o.SellerAmount.String(),
		string(o.Status), string(o.PaymentStatus), string(o.DeliveryStatus), o.ExpiresAt,
		o.BuyerNotes, o.SellerNotes, o.DisputeReason, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (p *PostgresStore) Update(ctx context.Context, o *Order, expected Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, payment_status = $2, delivery_status = $3,
			buyer_notes = $4, seller_notes = $5, dispute_reason = $6,
			updated_at = $7
		WHERE id = $8 AND status = $9`,
		string(o.Status), string(o.PaymentStatus), string(o.DeliveryStatus),
		o.BuyerNotes, o.SellerNotes, o.DisputeReason,
		o.UpdatedAt, o.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, o.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check order: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStaleOrder
	}
	return nil
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o                                                               Order
		unitPrice, totalAmount, platformFee, processingFee, sellerAmt   string
		status, paymentStatus, deliveryStatus                           string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.BuyerID, &o.SellerID, &o.ListingID, &o.Quantity,
		&unitPrice, &totalAmount, &o.Currency, &platformFee, &processingFee, &sellerAmt,
		&status, &paymentStatus, &deliveryStatus, &o.ExpiresAt,
		&o.BuyerNotes, &o.SellerNotes, &o.DisputeReason, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.UnitPrice, unitPrice},
		{&o.TotalAmount, totalAmount},
		{&o.PlatformFee, platformFee},
		{&o.ProcessingFee, processingFee},
		{&o.SellerAmount, sellerAmt},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse order amount %q: %w", f.src, err)
		}
		*f.dst = d
	}
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	o.DeliveryStatus = DeliveryStatus(deliveryStatus)
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]*Order, error) {
	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

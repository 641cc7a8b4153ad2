package listings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists listings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (id, seller_id, title, unit_price, currency, quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.SellerID, l.Title, l.UnitPrice.String(), l.Currency, l.Quantity, string(l.Status), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, seller_id, title, unit_price, currency, quantity, status, created_at, updated_at
		FROM listings WHERE id = $1`, id)
	return scanListing(row)
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, seller_id, title, unit_price, currency, quantity, status, created_at, updated_at
		FROM listings WHERE seller_id = $1
		ORDER BY created_at DESC LIMIT $2`, sellerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var result []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (p *PostgresStore) DecrementQuantity(ctx context.Context, id string, qty int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE listings
		SET quantity = quantity - $1,
		    status = CASE WHEN quantity - $1 = 0 THEN 'sold_out' ELSE status END,
		    updated_at = $2
		WHERE id = $3 AND status = 'active' AND quantity >= $1`,
		qty, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("decrement quantity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Guarded update missed. Re-read to report the precise failure.
		l, getErr := p.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if l.Status != StatusActive {
			return ErrListingNotActive
		}
		return ErrInsufficientQty
	}
	return nil
}

func (p *PostgresStore) Restock(ctx context.Context, id string, qty int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE listings
		SET quantity = quantity + $1,
		    status = CASE WHEN status = 'sold_out' THEN 'active' ELSE status END,
		    updated_at = $2
		WHERE id = $3`,
		qty, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("restock listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrListingNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*Listing, error) {
	var (
		l         Listing
		unitPrice string
		status    string
	)
	err := row.Scan(&l.ID, &l.SellerID, &l.Title, &unitPrice, &l.Currency, &l.Quantity, &status, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	price, err := decimal.NewFromString(unitPrice)
	if err != nil {
		return nil, fmt.Errorf("parse unit price: %w", err)
	}
	l.UnitPrice = price
	l.Status = Status(status)
	return &l, nil
}

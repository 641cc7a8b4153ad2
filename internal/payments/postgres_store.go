package payments

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists payment transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txnColumns = `id, order_id, transaction_id, type, amount, currency, backend,
	backend_txn_id, response, status, risk_score, failure_reason,
	processed_at, settled_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.OrderID, t.TransactionID, string(t.Type), t.Amount.String(), t.Currency, t.Backend,
		t.BackendTxnID, t.Response, string(t.Status), t.RiskScore, t.FailureReason,
		t.ProcessedAt, t.SettledAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM payment_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (p *PostgresStore) ListByOrder(ctx context.Context, orderID string) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM payment_transactions
		WHERE order_id = $1 ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SumByType(ctx context.Context) (map[Type]decimal.Decimal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT type, COALESCE(SUM(amount), 0)
		FROM payment_transactions
		WHERE status = 'completed'
		GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("sum transactions: %w", err)
	}
	defer rows.Close()

	sums := make(map[Type]decimal.Decimal)
	for rows.Next() {
		var typ, sum string
		if err := rows.Scan(&typ, &sum); err != nil {
			return nil, fmt.Errorf("scan transaction sum: %w", err)
		}
		d, err := decimal.NewFromString(sum)
		if err != nil {
			return nil, fmt.Errorf("parse transaction sum: %w", err)
		}
		sums[Type(typ)] = d
	}
	return sums, rows.Err()
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to Status, settledAt *time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $1, settled_at = COALESCE($2, settled_at)
		WHERE id = $3 AND status = $4 AND status NOT IN ('completed', 'failed')`,
		string(to), settledAt, id, string(from),
	)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		stored, getErr := p.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if stored.Status.IsFinal() {
			return ErrTransactionFinal
		}
		return ErrTransactionConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		t            Transaction
		amount       string
		typ, status  string
		backendTxnID sql.NullString
		failure      sql.NullString
		processedAt  sql.NullTime
		settledAt    sql.NullTime
	)
	err := row.Scan(&t.ID, &t.OrderID, &t.TransactionID, &typ, &amount, &t.Currency, &t.Backend,
		&backendTxnID, &t.Response, &status, &t.RiskScore, &failure,
		&processedAt, &settledAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse transaction amount: %w", err)
	}
	t.Amount = d
	t.Type = Type(typ)
	t.Status = Status(status)
	t.BackendTxnID = backendTxnID.String
	t.FailureReason = failure.String
	if processedAt.Valid {
		ts := processedAt.Time
		t.ProcessedAt = &ts
	}
	if settledAt.Valid {
		ts := settledAt.Time
		t.SettledAt = &ts
	}
	return &t, nil
}

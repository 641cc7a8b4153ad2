package disputes

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore persists disputes in PostgreSQL. A partial unique index on
// (order_id) over unresolved rows backs the one-active-dispute rule.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const disputeColumns = `id, order_id, escrow_id, initiator_id, respondent_id, reason,
	description, evidence, requested_amount, status, resolution, resolution_notes,
	resolved_by, resolved_at, escalated_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		d.ID, d.OrderID, d.EscrowID, d.InitiatorID, d.RespondentID, string(d.Reason),
		d.Description, pq.Array(d.Evidence), d.RequestedAmount.String(), string(d.Status),
		string(d.Resolution), d.ResolutionNotes,
		d.ResolvedBy, d.ResolvedAt, d.EscalatedAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "idx_disputes_active_order") {
			return ErrDisputeExists
		}
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	return scanDispute(row)
}

func (p *PostgresStore) GetActiveByOrder(ctx context.Context, orderID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE order_id = $1 AND status NOT IN ('resolved', 'closed')`, orderID)
	return scanDispute(row)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE initiator_id = $1 OR respondent_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	defer rows.Close()

	var result []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute, expected Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = $1, resolution = $2, resolution_notes = $3, resolved_by = $4,
			resolved_at = $5, escalated_at = $6, updated_at = $7
		WHERE id = $8 AND status = $9`,
		string(d.Status), string(d.Resolution), d.ResolutionNotes, d.ResolvedBy,
		d.ResolvedAt, d.EscalatedAt, d.UpdatedAt, d.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM disputes WHERE id = $1)`, d.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check dispute: %w", err)
		}
		if !exists {
			return ErrDisputeNotFound
		}
		return ErrStaleDispute
	}
	return nil
}

func (p *PostgresStore) AddMessage(ctx context.Context, m *Message) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dispute_messages (id, dispute_id, sender_id, body, internal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.DisputeID, m.SenderID, m.Body, m.Internal, m.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "fk_dispute_messages_dispute") {
			return ErrDisputeNotFound
		}
		return fmt.Errorf("insert dispute message: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListMessages(ctx context.Context, disputeID string, includeInternal bool) ([]*Message, error) {
	query := `
		SELECT id, dispute_id, sender_id, body, internal, created_at
		FROM dispute_messages WHERE dispute_id = $1`
	if !includeInternal {
		query += ` AND internal = FALSE`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := p.db.QueryContext(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("list dispute messages: %w", err)
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.DisputeID, &m.SenderID, &m.Body, &m.Internal, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dispute message: %w", err)
		}
		result = append(result, &m)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispute(row rowScanner) (*Dispute, error) {
	var (
		d           Dispute
		amount      string
		status      string
		reason      string
		resolution  sql.NullString
		escrowID    sql.NullString
		resolvedAt  sql.NullTime
		escalatedAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.OrderID, &escrowID, &d.InitiatorID, &d.RespondentID, &reason,
		&d.Description, pq.Array(&d.Evidence), &amount, &status, &resolution, &d.ResolutionNotes,
		&d.ResolvedBy, &resolvedAt, &escalatedAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dispute: %w", err)
	}
	if d.RequestedAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse dispute amount: %w", err)
	}
	d.Reason = Reason(reason)
	d.Status = Status(status)
	d.Resolution = Resolution(resolution.String)
	d.EscrowID = escrowID.String
	if resolvedAt.Valid {
		ts := resolvedAt.Time
		d.ResolvedAt = &ts
	}
	if escalatedAt.Valid {
		ts := escalatedAt.Time
		d.EscalatedAt = &ts
	}
	return &d, nil
}

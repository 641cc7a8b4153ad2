package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists risk assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, assessment *Assessment) error {
	factorsJSON, err := json.Marshal(assessment.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, buyer_id, order_id, score, level, factors, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7)`,
		assessment.ID,
		assessment.BuyerID,
		assessment.OrderID,
		assessment.Score,
		string(assessment.Level),
		factorsJSON,
		assessment.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("record risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, buyer_id, order_id, score, level, factors, evaluated_at
		FROM risk_assessments
		WHERE buyer_id = $1
		ORDER BY evaluated_at DESC
		LIMIT $2`, buyerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var factorsJSON []byte
		if err := rows.Scan(&a.ID, &a.BuyerID, &a.OrderID, &a.Score, &a.Level, &factorsJSON, &a.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("scan risk assessment: %w", err)
		}
		a.Factors = make(map[string]float64)
		_ = json.Unmarshal(factorsJSON, &a.Factors)
		result = append(result, &a)
	}
	return result, rows.Err()
}

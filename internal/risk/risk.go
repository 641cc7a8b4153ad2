// Package risk implements transaction risk scoring for the custody engine.
//
// Every payment capture is evaluated against 4 weighted factors: amount
// relative to the configured transaction ceiling, buyer spend velocity,
// counterparty novelty, and the buyer's dispute history. Scores range from
// 0.0 (safe) to 1.0 (high risk) and map onto the audit trail's risk levels.
// Scoring never blocks a payment; it annotates the transaction and the
// audit entry so reviewers can triage after the fact.
package risk

import (
	"context"
	"time"
)

// Level buckets a score for the audit trail.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Default score thresholds for each level.
const (
	DefaultCriticalThreshold = 0.85
	DefaultHighThreshold     = 0.6
	DefaultMediumThreshold   = 0.3
)

// Assessment is the result of evaluating a single transaction.
type Assessment struct {
	ID          string             `json:"id"`
	BuyerID     string             `json:"buyerId"`
	OrderID     string             `json:"orderId"`
	Score       float64            `json:"score"`
	Factors     map[string]float64 `json:"factors"`
	Level       Level              `json:"level"`
	EvaluatedAt time.Time          `json:"evaluatedAt"`
}

// TransactionContext carries the data needed to score a payment.
// Populated from the order being captured, no extra DB queries.
type TransactionContext struct {
	BuyerID   string
	SellerID  string
	OrderID   string
	Amount    float64
	MaxAmount float64
}

// Store persists risk assessments for the audit trail.
type Store interface {
	Record(ctx context.Context, assessment *Assessment) error
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Assessment, error)
}

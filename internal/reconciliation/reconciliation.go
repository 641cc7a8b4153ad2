// Package reconciliation compares escrowed funds against the transaction ledger.
//
// Every capture opens a hold, and every refund or release that drains a hold
// writes a completed transaction. The books therefore obey one identity:
//
//	held = captured - refunded - chargebacks - released
//
// A drift beyond the threshold means a write was lost or double-applied
// somewhere and the platform's liability no longer matches its records.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playvault/playvault/internal/escrow"
	"github.com/playvault/playvault/internal/payments"
)

// Result is the outcome of one reconciliation run.
type Result struct {
	Match      bool            `json:"match"`
	HeldFunds  decimal.Decimal `json:"heldFunds"`
	Captured   decimal.Decimal `json:"captured"`
	Refunded   decimal.Decimal `json:"refunded"`
	Released   decimal.Decimal `json:"released"`
	Expected   decimal.Decimal `json:"expected"`
	Diff       decimal.Decimal `json:"diff"`
	CheckedAt  time.Time       `json:"checkedAt"`
	DurationMS int64           `json:"durationMs"`
}

// Service runs the books check against the hold and transaction stores.
type Service struct {
	holds     escrow.Store
	txns      payments.Store
	threshold decimal.Decimal
}

// NewService creates a reconciliation service. Mismatches up to a cent are
// tolerated; rounding on partial refunds can leave that much behind.
func NewService(holds escrow.Store, txns payments.Store) *Service {
	return &Service{
		holds:     holds,
		txns:      txns,
		threshold: decimal.RequireFromString("0.01"),
	}
}

// WithThreshold overrides the tolerated drift.
func (s *Service) WithThreshold(threshold decimal.Decimal) *Service {
	if threshold.Sign() >= 0 {
		s.threshold = threshold
	}
	return s
}

// Run performs one reconciliation pass.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	held, err := s.holds.SumHeld(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("sum held funds: %w", err)
	}
	sums, err := s.txns.SumByType(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("sum transactions: %w", err)
	}

	captured := sums[payments.TypePayment]
	refunded := sums[payments.TypeRefund].Add(sums[payments.TypeChargeback])
	released := sums[payments.TypeEscrowRelease]
	expected := captured.Sub(refunded).Sub(released)
	diff := held.Sub(expected)

	res := &Result{
		Match:      diff.Abs().LessThanOrEqual(s.threshold),
		HeldFunds:  held,
		Captured:   captured,
		Refunded:   refunded,
		Released:   released,
		Expected:   expected,
		Diff:       diff,
		CheckedAt:  start.UTC(),
		DurationMS: time.Since(start).Milliseconds(),
	}

	reconcileDuration.Observe(time.Since(start).Seconds())
	heldFundsGauge.Set(toFloat(held))
	driftGauge.Set(toFloat(diff))
	if res.Match {
		reconcileRuns.WithLabelValues("match").Inc()
	} else {
		reconcileRuns.WithLabelValues("mismatch").Inc()
	}
	return res, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

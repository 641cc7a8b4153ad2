// Package gateway abstracts payment backends behind a uniform capability
// interface. Concrete backends are a closed set: a deterministic simulator
// (always available), Stripe, and a bank-transfer stub that reports
// not-implemented as a value rather than faulting.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("gateway: transaction not found")
	ErrInvalidMethod       = errors.New("gateway: invalid payment method")
)

// Outcome classifies a gateway call result for callers to switch on.
type Outcome string

const (
	OutcomeApproved       Outcome = "approved"
	OutcomeDeclined       Outcome = "declined"
	OutcomeNotImplemented Outcome = "not_implemented"
	OutcomeError          Outcome = "error"
)

// Status mirrors the backend's view of a transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ProcessRequest carries the parameters for a payment capture.
type ProcessRequest struct {
	Amount           decimal.Decimal
	Currency         string
	PaymentMethodRef string
	OrderRef         string
	IdempotencyKey   string
	Metadata         map[string]string
}

// Result is the uniform response from any backend call.
type Result struct {
	Success       bool
	Outcome       Outcome
	TransactionID string // backend-assigned id
	Status        Status
	Message       string // provider reason, populated on declines/failures
	Raw           string // backend response payload for the transaction record
}

// Gateway is the capability interface every payment backend implements.
// All calls are synchronous and may block on network I/O; callers pass a
// context and an idempotency key so a retried call cannot double-move funds.
type Gateway interface {
	Name() string
	ProcessPayment(ctx context.Context, req ProcessRequest) (*Result, error)
	CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error)
	RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error)
	GetTransactionStatus(ctx context.Context, transactionID string) (*Result, error)
	ValidatePaymentMethod(ctx context.Context, ref string) error
}

// IdempotencyKey derives a stable key from an (order, action) pair, with
// optional qualifiers (e.g. a refund id) for actions that can repeat per
// order. Retrying the same logical action always produces the same key.
func IdempotencyKey(orderID, action string, qualifiers ...string) string {
	key := action + ":" + orderID
	for _, q := range qualifiers {
		key += ":" + q
	}
	return key
}

// notImplementedResult builds the structured failure used by stub backends.
func notImplementedResult(backend, op string) *Result {
	return &Result{
		Success: false,
		Outcome: OutcomeNotImplemented,
		Status:  StatusFailed,
		Message: fmt.Sprintf("%s backend does not implement %s", backend, op),
	}
}

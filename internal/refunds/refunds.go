// Package refunds implements the refund manager.
//
// Either party may request a refund on a refundable order; the seller
// approves or rejects. Approval executes the refund against the payment
// gateway before anything is marked completed, so a refund row can never
// claim money moved when it did not.
package refunds

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrRefundNotFound      = errors.New("refunds: refund not found")
	ErrRefundPendingExists = errors.New("refunds: order already has a pending refund")
	ErrNotRefundable       = errors.New("refunds: order status does not allow refunds")
	ErrAmountExceedsTotal  = errors.New("refunds: amount exceeds order total")
	ErrRefundNotPending    = errors.New("refunds: refund has already been resolved")
	ErrStaleRefund         = errors.New("refunds: refund changed concurrently")
	ErrInvalidDecision     = errors.New("refunds: decision must be approved or rejected")
)

// Status is the refund lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

// Refund is a request to return captured funds to the buyer.
type Refund struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"orderId"`
	TransactionID   string          `json:"transactionId"`
	RefundTxnID     string          `json:"refundTxnId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Reason          string          `json:"reason"`
	RequestedBy     string          `json:"requestedBy"`
	RequestNotes    string          `json:"requestNotes,omitempty"`
	Status          Status          `json:"status"`
	ProcessedBy     string          `json:"processedBy,omitempty"`
	ProcessingNotes string          `json:"processingNotes,omitempty"`
	RequestedAt     time.Time       `json:"requestedAt"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// Store persists refunds.
type Store interface {
	// Create inserts a refund. An existing pending refund for the same
	// order returns ErrRefundPendingExists.
	Create(ctx context.Context, r *Refund) error
	Get(ctx context.Context, id string) (*Refund, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Refund, error)

	// Update persists r only if the stored status still equals expected.
	// A mismatch returns ErrStaleRefund and writes nothing.
	Update(ctx context.Context, r *Refund, expected Status) error
}

// Package payments records money movement and drives payment capture.
//
// Every gateway interaction leaves a PaymentTransaction row. Transactions
// are immutable once completed or failed; corrections are new transactions,
// never edits. Capture is the operation that funds an order: it charges the
// buyer through the configured gateway and opens the escrow hold.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("payments: transaction not found")
	ErrTransactionFinal    = errors.New("payments: transaction is final and cannot change")
	ErrTransactionConflict = errors.New("payments: transaction changed concurrently")
	ErrOrderNotPayable     = errors.New("payments: order is not awaiting payment")
	ErrPaymentDeclined     = errors.New("payments: payment declined")
	ErrInvalidMethod       = errors.New("payments: invalid payment method")
)

// Type classifies a transaction.
type Type string

const (
	TypePayment       Type = "payment"
	TypeRefund        Type = "refund"
	TypeChargeback    Type = "chargeback"
	TypeFee           Type = "fee"
	TypeEscrowRelease Type = "escrow_release"
)

// Status is the transaction lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsFinal reports whether the status forbids further mutation.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is one money movement against an order.
type Transaction struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"orderId"`
	TransactionID string          `json:"transactionId"`
	Type          Type            `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Backend       string          `json:"backend"`
	BackendTxnID  string          `json:"backendTxnId,omitempty"`
	Response      []byte          `json:"-"`
	Status        Status          `json:"status"`
	RiskScore     float64         `json:"riskScore,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	ProcessedAt   *time.Time      `json:"processedAt,omitempty"`
	SettledAt     *time.Time      `json:"settledAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Store persists payment transactions.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Transaction, error)

	// UpdateStatus advances a transaction from one status to another,
	// stamping settledAt when given. A final stored status returns
	// ErrTransactionFinal; any other from-mismatch returns
	// ErrTransactionConflict. Nothing is written on failure.
	UpdateStatus(ctx context.Context, id string, from, to Status, settledAt *time.Time) error

	// SumByType returns the completed transaction totals grouped by type.
	SumByType(ctx context.Context) (map[Type]decimal.Decimal, error)
}

package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// BankTransfer is a placeholder backend for ACH/SEPA settlement. Every
// operation reports a structured not-implemented outcome so callers can
// pattern-match on the result instead of recovering from a fault.
type BankTransfer struct{}

// NewBankTransfer creates the bank-transfer stub backend.
func NewBankTransfer() *BankTransfer {
	return &BankTransfer{}
}

func (b *BankTransfer) Name() string { return "bank_transfer" }

func (b *BankTransfer) ProcessPayment(ctx context.Context, req ProcessRequest) (*Result, error) {
	return notImplementedResult(b.Name(), "processPayment"), nil
}

func (b *BankTransfer) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error) {
	return notImplementedResult(b.Name(), "capturePayment"), nil
}

func (b *BankTransfer) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error) {
	return notImplementedResult(b.Name(), "refundPayment"), nil
}

func (b *BankTransfer) GetTransactionStatus(ctx context.Context, transactionID string) (*Result, error) {
	return notImplementedResult(b.Name(), "getTransactionStatus"), nil
}

func (b *BankTransfer) ValidatePaymentMethod(ctx context.Context, ref string) error {
	return ErrInvalidMethod
}

package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Simulated is a deterministic in-process payment backend. It is always
// available and doubles as the automatic fallback when a real backend
// cannot be constructed.
//
// Behavior is driven by the payment method reference so tests and local
// runs can exercise failure paths without network access:
//
//	pm_declined       every ProcessPayment is declined
//	pm_insufficient   declined with an insufficient-funds reason
//	pm_invalid        ValidatePaymentMethod rejects the method
//
// Results are cached by idempotency key: retrying a call returns the
// original result without creating a second transaction.
type Simulated struct {
	mu           sync.Mutex
	transactions map[string]*simTxn
	byIdemKey    map[string]*Result
}

type simTxn struct {
	id       string
	amount   decimal.Decimal
	currency string
	status   Status
	refunded decimal.Decimal
	created  time.Time
}

// NewSimulated creates a simulator backend.
func NewSimulated() *Simulated {
	return &Simulated{
		transactions: make(map[string]*simTxn),
		byIdemKey:    make(map[string]*Result),
	}
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) ProcessPayment(ctx context.Context, req ProcessRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if cached, ok := s.byIdemKey[req.IdempotencyKey]; ok {
			cp := *cached
			return &cp, nil
		}
	}

	result := s.process(req)
	if req.IdempotencyKey != "" {
		cp := *result
		s.byIdemKey[req.IdempotencyKey] = &cp
	}
	return result, nil
}

func (s *Simulated) process(req ProcessRequest) *Result {
	switch {
	case strings.Contains(req.PaymentMethodRef, "declined"):
		return s.failure(req, "card_declined", "Your card was declined.")
	case strings.Contains(req.PaymentMethodRef, "insufficient"):
		return s.failure(req, "insufficient_funds", "Insufficient funds on the payment method.")
	case req.Amount.Sign() <= 0:
		return s.failure(req, "invalid_amount", "Amount must be positive.")
	}

	txn := &simTxn{
		id:       "sim_" + uuid.NewString(),
		amount:   req.Amount,
		currency: req.Currency,
		status:   StatusCompleted,
		created:  time.Now(),
	}
	s.transactions[txn.id] = txn

	return &Result{
		Success:       true,
		Outcome:       OutcomeApproved,
		TransactionID: txn.id,
		Status:        StatusCompleted,
		Raw:           s.rawPayload("payment", txn.id, req.Amount, req.Currency, "succeeded"),
	}
}

func (s *Simulated) failure(req ProcessRequest, code, message string) *Result {
	return &Result{
		Success: false,
		Outcome: OutcomeDeclined,
		Status:  StatusFailed,
		Message: code + ": " + message,
		Raw:     s.rawPayload("payment", "", req.Amount, req.Currency, code),
	}
}

func (s *Simulated) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if cached, ok := s.byIdemKey[idempotencyKey]; ok {
			cp := *cached
			return &cp, nil
		}
	}

	txn, ok := s.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	txn.status = StatusCompleted

	result := &Result{
		Success:       true,
		Outcome:       OutcomeApproved,
		TransactionID: txn.id,
		Status:        StatusCompleted,
		Raw:           s.rawPayload("capture", txn.id, amount, txn.currency, "succeeded"),
	}
	if idempotencyKey != "" {
		cp := *result
		s.byIdemKey[idempotencyKey] = &cp
	}
	return result, nil
}

func (s *Simulated) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if cached, ok := s.byIdemKey[idempotencyKey]; ok {
			cp := *cached
			return &cp, nil
		}
	}

	txn, ok := s.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}

	remaining := txn.amount.Sub(txn.refunded)
	if amount.GreaterThan(remaining) {
		return &Result{
			Success: false,
			Outcome: OutcomeDeclined,
			Status:  StatusFailed,
			Message: "refund_exceeds_charge: refund amount exceeds the remaining captured amount",
		}, nil
	}

	txn.refunded = txn.refunded.Add(amount)

	result := &Result{
		Success:       true,
		Outcome:       OutcomeApproved,
		TransactionID: "sim_re_" + uuid.NewString(),
		Status:        StatusCompleted,
		Raw:           s.rawPayload("refund", txn.id, amount, txn.currency, "succeeded"),
	}
	if idempotencyKey != "" {
		cp := *result
		s.byIdemKey[idempotencyKey] = &cp
	}
	return result, nil
}

func (s *Simulated) GetTransactionStatus(ctx context.Context, transactionID string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return &Result{
		Success:       txn.status == StatusCompleted,
		Outcome:       OutcomeApproved,
		TransactionID: txn.id,
		Status:        txn.status,
	}, nil
}

func (s *Simulated) ValidatePaymentMethod(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref == "" || strings.Contains(ref, "invalid") {
		return ErrInvalidMethod
	}
	return nil
}

func (s *Simulated) rawPayload(kind, id string, amount decimal.Decimal, currency, status string) string {
	payload := map[string]string{
		"object":   kind,
		"id":       id,
		"amount":   amount.StringFixed(2),
		"currency": currency,
		"status":   status,
		"provider": "simulated",
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

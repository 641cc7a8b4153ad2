package gateway

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSimulated_ProcessPayment_Success(t *testing.T) {
	g := NewSimulated()

	res, err := g.ProcessPayment(context.Background(), ProcessRequest{
		Amount:           dec("25.00"),
		Currency:         "USD",
		PaymentMethodRef: "pm_card_visa",
		OrderRef:         "ord_1",
		IdempotencyKey:   IdempotencyKey("ord_1", "pay"),
	})
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.TransactionID == "" {
		t.Error("expected a transaction id")
	}
	if res.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
}

func TestSimulated_ProcessPayment_Declined(t *testing.T) {
	g := NewSimulated()

	res, err := g.ProcessPayment(context.Background(), ProcessRequest{
		Amount:           dec("25.00"),
		Currency:         "USD",
		PaymentMethodRef: "pm_declined",
		OrderRef:         "ord_1",
	})
	if err != nil {
		t.Fatalf("ProcessPayment returned error for a decline: %v", err)
	}
	if res.Success {
		t.Fatal("expected decline")
	}
	if res.Outcome != OutcomeDeclined {
		t.Errorf("outcome = %s, want declined", res.Outcome)
	}
	if res.Message == "" {
		t.Error("expected a provider reason on the declined result")
	}
}

func TestSimulated_ProcessPayment_Idempotent(t *testing.T) {
	g := NewSimulated()
	req := ProcessRequest{
		Amount:           dec("10.00"),
		Currency:         "USD",
		PaymentMethodRef: "pm_card_visa",
		OrderRef:         "ord_2",
		IdempotencyKey:   IdempotencyKey("ord_2", "pay"),
	}

	first, err := g.ProcessPayment(context.Background(), req)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := g.ProcessPayment(context.Background(), req)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	if first.TransactionID != second.TransactionID {
		t.Errorf("retry created a new transaction: %s vs %s", first.TransactionID, second.TransactionID)
	}
}

func TestSimulated_RefundPayment(t *testing.T) {
	g := NewSimulated()
	ctx := context.Background()

	pay, _ := g.ProcessPayment(ctx, ProcessRequest{
		Amount: dec("50.00"), Currency: "USD", PaymentMethodRef: "pm_card", OrderRef: "ord_3",
	})

	res, err := g.RefundPayment(ctx, pay.TransactionID, dec("50.00"), IdempotencyKey("ord_3", "refund", "rfd_1"))
	if err != nil {
		t.Fatalf("RefundPayment failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected refund success, got %+v", res)
	}

	// A second refund for the already-refunded amount is declined, not an error.
	res2, err := g.RefundPayment(ctx, pay.TransactionID, dec("50.00"), IdempotencyKey("ord_3", "refund", "rfd_2"))
	if err != nil {
		t.Fatalf("second refund errored: %v", err)
	}
	if res2.Success {
		t.Error("over-refund should be declined")
	}
}

func TestSimulated_RefundPayment_Idempotent(t *testing.T) {
	g := NewSimulated()
	ctx := context.Background()

	pay, _ := g.ProcessPayment(ctx, ProcessRequest{
		Amount: dec("50.00"), Currency: "USD", PaymentMethodRef: "pm_card", OrderRef: "ord_4",
	})

	key := IdempotencyKey("ord_4", "refund", "rfd_1")
	first, err := g.RefundPayment(ctx, pay.TransactionID, dec("50.00"), key)
	if err != nil {
		t.Fatalf("first refund failed: %v", err)
	}
	second, err := g.RefundPayment(ctx, pay.TransactionID, dec("50.00"), key)
	if err != nil {
		t.Fatalf("retried refund failed: %v", err)
	}
	if !second.Success {
		t.Fatal("retried refund should replay the original success")
	}
	if first.TransactionID != second.TransactionID {
		t.Error("retried refund created a second refund transaction")
	}
}

func TestSimulated_UnknownTransaction(t *testing.T) {
	g := NewSimulated()

	if _, err := g.RefundPayment(context.Background(), "sim_missing", dec("1"), ""); err != ErrTransactionNotFound {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
	if _, err := g.GetTransactionStatus(context.Background(), "sim_missing"); err != ErrTransactionNotFound {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestSimulated_ValidatePaymentMethod(t *testing.T) {
	g := NewSimulated()

	if err := g.ValidatePaymentMethod(context.Background(), "pm_card_visa"); err != nil {
		t.Errorf("valid method rejected: %v", err)
	}
	if err := g.ValidatePaymentMethod(context.Background(), "pm_invalid"); err == nil {
		t.Error("invalid method accepted")
	}
	if err := g.ValidatePaymentMethod(context.Background(), ""); err == nil {
		t.Error("empty method accepted")
	}
}

func TestIdempotencyKey(t *testing.T) {
	if got := IdempotencyKey("ord_9", "pay"); got != "pay:ord_9" {
		t.Errorf("got %q", got)
	}
	if got := IdempotencyKey("ord_9", "refund", "rfd_1"); got != "refund:ord_9:rfd_1" {
		t.Errorf("got %q", got)
	}
	// Stability: the same pair always derives the same key.
	if IdempotencyKey("ord_9", "pay") != IdempotencyKey("ord_9", "pay") {
		t.Error("key is not stable")
	}
}

package receipts

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/playvault/internal/auth"
	"github.com/playvault/playvault/internal/orders"
	"github.com/playvault/playvault/internal/payments"
	"github.com/playvault/playvault/internal/refunds"
)

func testOrder() *orders.Order {
	return &orders.Order{
		ID:          "ord_1",
		OrderNumber: "PV-20260101-000001",
		BuyerID:     "user_buyer",
		SellerID:    "user_seller",
		TotalAmount: decimal.RequireFromString("21.58"),
		Currency:    "USD",
	}
}

func testTxn() *payments.Transaction {
	return &payments.Transaction{
		TransactionID: "txn_1",
		OrderID:       "ord_1",
		Amount:        decimal.RequireFromString("21.58"),
		Currency:      "USD",
		Backend:       "simulated",
	}
}

func TestSignVerifyRoundtrip(t *testing.T) {
	signer := NewSigner("test-secret")
	payload := receiptPayload{Amount: "21.58", Currency: "USD", Kind: "capture", OrderID: "ord_1"}

	sig, issuedAt, expiresAt, err := signer.Sign(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
	assert.True(t, expiresAt.After(issuedAt))

	assert.True(t, signer.Verify(payload, sig))

	tampered := payload
	tampered.Amount = "2158.00"
	assert.False(t, signer.Verify(tampered, sig))

	other := NewSigner("other-secret")
	assert.False(t, other.Verify(payload, sig))
}

func TestSignerDisabled(t *testing.T) {
	signer := NewSigner("")
	require.Nil(t, signer)

	_, _, _, err := signer.Sign(receiptPayload{})
	assert.ErrorIs(t, err, ErrSigningDisabled)
	assert.False(t, signer.Verify(receiptPayload{}, "sig"))
}

func TestIssueOnCapture(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, NewSigner("test-secret"))

	service.PaymentCaptured(context.Background(), testOrder(), testTxn())

	list, err := store.ListByOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	r := list[0]
	assert.Equal(t, KindCapture, r.Kind)
	assert.Equal(t, "txn_1", r.TransactionID)
	assert.Equal(t, "21.58", r.Amount)
	assert.Equal(t, "simulated", r.Backend)
	assert.NotEmpty(t, r.Signature)
	assert.NotEmpty(t, r.PayloadHash)
	assert.Contains(t, r.ID, "rcpt_")

	resp, err := service.Verify(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.False(t, resp.Expired)
}

func TestIssueOnRefund(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, NewSigner("test-secret"))

	service.RefundCompleted(context.Background(), testOrder(), &refunds.Refund{
		ID:          "ref_1",
		OrderID:     "ord_1",
		RefundTxnID: "txn_2",
		Amount:      decimal.RequireFromString("10.00"),
		Currency:    "USD",
	}, "simulated")

	list, err := store.ListByOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, KindRefund, list[0].Kind)
	assert.Equal(t, "10.00", list[0].Amount)
}

func TestIssueDisabledIsNoop(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, nil)
	assert.False(t, service.Enabled())

	service.PaymentCaptured(context.Background(), testOrder(), testTxn())

	list, err := store.ListByOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestVerifyDetectsTampering(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, NewSigner("test-secret"))

	service.PaymentCaptured(context.Background(), testOrder(), testTxn())
	list, err := store.ListByOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	// The stored amount is edited after issuance; the signature no
	// longer covers what the row claims.
	forged := *list[0]
	forged.Amount = "0.01"
	require.NoError(t, store.Create(context.Background(), &forged))

	resp, err := service.Verify(context.Background(), forged.ID)
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Error)
}

func TestVerifyUnknownReceipt(t *testing.T) {
	service := NewService(NewMemoryStore(), NewSigner("test-secret"))

	resp, err := service.Verify(context.Background(), "rcpt_missing")
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, ErrReceiptNotFound.Error(), resp.Error)
}

func TestGetVisibility(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, NewSigner("test-secret"))

	service.PaymentCaptured(context.Background(), testOrder(), testTxn())
	list, err := store.ListByOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	id := list[0].ID

	_, err = service.Get(context.Background(), id, "user_buyer", "")
	assert.NoError(t, err)
	_, err = service.Get(context.Background(), id, "user_seller", "")
	assert.NoError(t, err)
	_, err = service.Get(context.Background(), id, "user_other", "")
	assert.ErrorIs(t, err, orders.ErrNotParticipant)
	_, err = service.Get(context.Background(), id, "user_other", auth.RoleMediator)
	assert.NoError(t, err)

	_, err = service.ListByOrder(context.Background(), "ord_1", "user_other", "")
	assert.ErrorIs(t, err, orders.ErrNotParticipant)
}

func TestListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	for i, id := range []string{"rcpt_a", "rcpt_b", "rcpt_c"} {
		require.NoError(t, store.Create(context.Background(), &Receipt{
			ID:       id,
			OrderID:  "ord_1",
			BuyerID:  "user_buyer",
			IssuedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := store.ListByOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "rcpt_c", list[0].ID)
	assert.Equal(t, "rcpt_a", list[2].ID)
}

package reconciliation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/playvault/internal/escrow"
	"github.com/playvault/playvault/internal/payments"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedCapture(t *testing.T, holds *escrow.MemoryStore, txns *payments.MemoryStore, orderID, amount string) *escrow.Hold {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, txns.Create(ctx, &payments.Transaction{
		ID:            "txn_" + orderID,
		OrderID:       orderID,
		TransactionID: "ch_" + orderID,
		Type:          payments.TypePayment,
		Amount:        dec(amount),
		Currency:      "USD",
		Backend:       "simulated",
		Status:        payments.StatusCompleted,
		CreatedAt:     now,
	}))
	h := &escrow.Hold{
		ID:            "esc_" + orderID,
		OrderID:       orderID,
		TransactionID: "txn_" + orderID,
		Amount:        dec(amount),
		Remaining:     dec(amount),
		Currency:      "USD",
		Status:        escrow.StatusHeld,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, holds.Create(ctx, h))
	return h
}

func TestRunMatchesBalancedBooks(t *testing.T) {
	holds := escrow.NewMemoryStore()
	txns := payments.NewMemoryStore()
	seedCapture(t, holds, txns, "ord_1", "21.58")
	seedCapture(t, holds, txns, "ord_2", "107.90")

	res, err := NewService(holds, txns).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Match)
	assert.True(t, res.HeldFunds.Equal(dec("129.48")))
	assert.True(t, res.Captured.Equal(dec("129.48")))
	assert.True(t, res.Diff.IsZero())
}

func TestRunMatchesAfterPartialRefund(t *testing.T) {
	ctx := context.Background()
	holds := escrow.NewMemoryStore()
	txns := payments.NewMemoryStore()
	h := seedCapture(t, holds, txns, "ord_1", "21.58")

	// A 10.00 refund drains the hold and writes a refund transaction.
	require.NoError(t, txns.Create(ctx, &payments.Transaction{
		ID:            "txn_refund_1",
		OrderID:       "ord_1",
		TransactionID: "rf_1",
		Type:          payments.TypeRefund,
		Amount:        dec("10.00"),
		Currency:      "USD",
		Backend:       "simulated",
		Status:        payments.StatusCompleted,
		CreatedAt:     time.Now().UTC(),
	}))
	h.Remaining = dec("11.58")
	h.Status = escrow.StatusPartialRelease
	require.NoError(t, holds.Update(ctx, h, escrow.StatusHeld))

	res, err := NewService(holds, txns).Run(ctx)
	require.NoError(t, err)

	assert.True(t, res.Match)
	assert.True(t, res.HeldFunds.Equal(dec("11.58")))
	assert.True(t, res.Refunded.Equal(dec("10.00")))
}

func TestRunFlagsDrift(t *testing.T) {
	ctx := context.Background()
	holds := escrow.NewMemoryStore()
	txns := payments.NewMemoryStore()
	h := seedCapture(t, holds, txns, "ord_1", "21.58")

	// Drain the hold without a matching transaction.
	h.Remaining = dec("1.58")
	require.NoError(t, holds.Update(ctx, h, escrow.StatusHeld))

	res, err := NewService(holds, txns).Run(ctx)
	require.NoError(t, err)

	assert.False(t, res.Match)
	assert.True(t, res.Diff.Equal(dec("-20.00")))
}

func TestRunToleratesRoundingWithinThreshold(t *testing.T) {
	ctx := context.Background()
	holds := escrow.NewMemoryStore()
	txns := payments.NewMemoryStore()
	h := seedCapture(t, holds, txns, "ord_1", "21.58")

	h.Remaining = dec("21.57")
	require.NoError(t, holds.Update(ctx, h, escrow.StatusHeld))

	res, err := NewService(holds, txns).Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Match)

	strict, err := NewService(holds, txns).WithThreshold(decimal.Zero).Run(ctx)
	require.NoError(t, err)
	assert.False(t, strict.Match)
}

func TestTimerRunsAndStops(t *testing.T) {
	holds := escrow.NewMemoryStore()
	txns := payments.NewMemoryStore()
	timer := NewTimer(NewService(holds, txns), 10*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for !timer.Running() {
		select {
		case <-deadline:
			t.Fatal("timer never started")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop on context cancel")
	}
	assert.False(t, timer.Running())
}

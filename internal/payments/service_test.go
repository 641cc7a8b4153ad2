package payments

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/playvault/internal/audit"
	"github.com/playvault/playvault/internal/fees"
	"github.com/playvault/playvault/internal/gateway"
	"github.com/playvault/playvault/internal/listings"
	"github.com/playvault/playvault/internal/notify"
	"github.com/playvault/playvault/internal/orders"
	"github.com/playvault/playvault/internal/risk"
	"github.com/playvault/playvault/internal/syncutil"
)

// holdRecorder stands in for the escrow service.
type holdRecorder struct {
	opened []string // transaction ids
	err    error
}

func (r *holdRecorder) OpenHold(_ context.Context, _ *orders.Order, transactionID string) error {
	if r.err != nil {
		return r.err
	}
	r.opened = append(r.opened, transactionID)
	return nil
}

type fixture struct {
	service  *Service
	store    *MemoryStore
	orders   *orders.Service
	ordstore *orders.MemoryStore
	escrow   *holdRecorder
	notices  *notify.MemoryStore
	auditor  *audit.MemoryLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ordStore := orders.NewMemoryStore()
	listingStore := listings.NewMemoryStore()
	payStore := NewMemoryStore()
	noticeStore := notify.NewMemoryStore()
	emitter := notify.NewEmitter(noticeStore, slog.Default())
	auditor := audit.NewMemoryLogger()
	escrow := &holdRecorder{}

	orderService := orders.NewService(ordStore, listingStore, fees.Default(),
		syncutil.NewKeyedMutex(), emitter, auditor)
	service := NewService(payStore, orderService, gateway.NewSimulated(), escrow,
		risk.NewEngine(nil), emitter, auditor, 10000)

	now := time.Now()
	require.NoError(t, listingStore.Create(context.Background(), &listings.Listing{
		ID:        "lst_1",
		SellerID:  "user_seller",
		Title:     "Emerald Banner Pack",
		UnitPrice: decimal.RequireFromString("20.00"),
		Currency:  "USD",
		Quantity:  10,
		Status:    listings.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	return &fixture{
		service:  service,
		store:    payStore,
		orders:   orderService,
		ordstore: ordStore,
		escrow:   escrow,
		notices:  noticeStore,
		auditor:  auditor,
	}
}

func (f *fixture) placeOrder(t *testing.T) *orders.Order {
	t.Helper()
	order, err := f.orders.Create(context.Background(), "user_buyer", orders.CreateRequest{
		ListingID: "lst_1",
		Quantity:  1,
	})
	require.NoError(t, err)
	return order
}

func TestCaptureFundsOrderAndOpensHold(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	ctx := context.Background()

	txn, err := f.service.Capture(ctx, order.ID, "user_buyer", "pm_test")
	require.NoError(t, err)

	assert.Equal(t, TypePayment, txn.Type)
	assert.Equal(t, StatusCompleted, txn.Status)
	assert.True(t, txn.Amount.Equal(order.TotalAmount))
	assert.NotEmpty(t, txn.BackendTxnID)
	assert.NotNil(t, txn.SettledAt)

	got, err := f.ordstore.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)

	require.Len(t, f.escrow.opened, 1)
	assert.Equal(t, txn.TransactionID, f.escrow.opened[0])
}

func TestCaptureIsBuyerOnly(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	_, err := f.service.Capture(context.Background(), order.ID, "user_seller", "pm_test")
	assert.ErrorIs(t, err, orders.ErrNotBuyer)
}

func TestCaptureDeclinedRecordsFailedTransaction(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	ctx := context.Background()

	txn, err := f.service.Capture(ctx, order.ID, "user_buyer", "pm_declined")
	assert.ErrorIs(t, err, ErrPaymentDeclined)
	require.NotNil(t, txn)
	assert.Equal(t, StatusFailed, txn.Status)
	assert.NotEmpty(t, txn.FailureReason)

	// Order stays pending for a retry; no hold opened.
	got, _ := f.ordstore.Get(ctx, order.ID)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Empty(t, f.escrow.opened)

	// The failed attempt is on the books.
	txns, err := f.store.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, StatusFailed, txns[0].Status)

	// Retry with a good method succeeds.
	retry, err := f.service.Capture(ctx, order.ID, "user_buyer", "pm_test")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, retry.Status)
}

func TestCaptureInvalidMethodRejected(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	_, err := f.service.Capture(context.Background(), order.ID, "user_buyer", "pm_invalid")
	assert.ErrorIs(t, err, ErrInvalidMethod)

	// Validation failures are not gateway attempts; nothing is recorded.
	txns, _ := f.store.ListByOrder(context.Background(), order.ID)
	assert.Empty(t, txns)
}

func TestCaptureNonPendingOrderRejected(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	ctx := context.Background()

	_, err := f.service.Capture(ctx, order.ID, "user_buyer", "pm_test")
	require.NoError(t, err)

	_, err = f.service.Capture(ctx, order.ID, "user_buyer", "pm_test")
	assert.ErrorIs(t, err, ErrOrderNotPayable)
}

func TestCaptureExpiredOrderRejected(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	ctx := context.Background()

	order.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, f.ordstore.Update(ctx, order, orders.StatusPending))

	_, err := f.service.Capture(ctx, order.ID, "user_buyer", "pm_test")
	assert.ErrorIs(t, err, orders.ErrOrderExpired)
}

func TestTransactionImmutableOnceFinal(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	ctx := context.Background()

	txn, err := f.service.Capture(ctx, order.ID, "user_buyer", "pm_test")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, txn.Status)

	err = f.store.UpdateStatus(ctx, txn.ID, StatusCompleted, StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrTransactionFinal)
}

func TestCaptureRecordsRiskScore(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	txn, err := f.service.Capture(context.Background(), order.ID, "user_buyer", "pm_test")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, txn.RiskScore, 0.0)
	assert.LessOrEqual(t, txn.RiskScore, 1.0)
}

func TestCaptureHoldOpenFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	f.escrow.err = errors.New("store unavailable")

	_, err := f.service.Capture(context.Background(), order.ID, "user_buyer", "pm_test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open escrow hold")

	// The failure is audited at critical for reconciliation.
	var found bool
	for _, e := range f.auditor.Entries() {
		if e.Action == "escrow.open_failed" {
			found = true
			assert.Equal(t, audit.RiskCritical, e.RiskLevel)
		}
	}
	assert.True(t, found)
}

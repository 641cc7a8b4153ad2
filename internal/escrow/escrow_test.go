package escrow

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/playvault/internal/audit"
	"github.com/playvault/playvault/internal/fees"
	"github.com/playvault/playvault/internal/gateway"
	"github.com/playvault/playvault/internal/idgen"
	"github.com/playvault/playvault/internal/listings"
	"github.com/playvault/playvault/internal/notify"
	"github.com/playvault/playvault/internal/orders"
	"github.com/playvault/playvault/internal/payments"
	"github.com/playvault/playvault/internal/syncutil"
)

type fixture struct {
	service  *Service
	holds    *MemoryStore
	orders   *orders.Service
	ordstore *orders.MemoryStore
	payments *payments.MemoryStore
	gateway  *gateway.Simulated
	notices  *notify.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ordStore := orders.NewMemoryStore()
	listingStore := listings.NewMemoryStore()
	payStore := payments.NewMemoryStore()
	holdStore := NewMemoryStore()
	noticeStore := notify.NewMemoryStore()
	emitter := notify.NewEmitter(noticeStore, slog.Default())
	auditor := audit.NewMemoryLogger()
	gw := gateway.NewSimulated()

	orderService := orders.NewService(ordStore, listingStore, fees.Default(),
		syncutil.NewKeyedMutex(), emitter, auditor)
	service := NewService(holdStore, orderService, payStore, gw, emitter, auditor)

	return &fixture{
		service:  service,
		holds:    holdStore,
		orders:   orderService,
		ordstore: ordStore,
		payments: payStore,
		gateway:  gw,
		notices:  noticeStore,
	}
}

// fundOrder seeds a paid order with its payment transaction and open hold.
func (f *fixture) fundOrder(t *testing.T, delivered bool) (*orders.Order, *Hold) {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	order := &orders.Order{
		ID:             idgen.WithPrefix("ord_"),
		OrderNumber:    idgen.OrderNumber(now),
		BuyerID:        "user_buyer",
		SellerID:       "user_seller",
		ListingID:      "lst_1",
		Quantity:       1,
		UnitPrice:      decimal.RequireFromString("20.00"),
		TotalAmount:    decimal.RequireFromString("21.58"),
		Currency:       "USD",
		PlatformFee:    decimal.RequireFromString("1.00"),
		ProcessingFee:  decimal.RequireFromString("0.58"),
		SellerAmount:   decimal.RequireFromString("20.00"),
		Status:         orders.StatusPaid,
		PaymentStatus:  orders.PaymentPaid,
		DeliveryStatus: orders.DeliveryPending,
		ExpiresAt:      now.Add(24 * time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if delivered {
		order.Status = orders.StatusDelivered
		order.DeliveryStatus = orders.DeliveryDelivered
	}
	require.NoError(t, f.ordstore.Create(ctx, order))

	result, err := f.gateway.ProcessPayment(ctx, gateway.ProcessRequest{
		Amount:           order.TotalAmount,
		Currency:         order.Currency,
		PaymentMethodRef: "pm_test",
		OrderRef:         order.ID,
		IdempotencyKey:   gateway.IdempotencyKey(order.ID, "pay"),
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	txn := &payments.Transaction{
		ID:            idgen.WithPrefix("ptx_"),
		OrderID:       order.ID,
		TransactionID: idgen.WithPrefix("txn_"),
		Type:          payments.TypePayment,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		Backend:       f.gateway.Name(),
		BackendTxnID:  result.TransactionID,
		Status:        payments.StatusCompleted,
		CreatedAt:     now,
	}
	require.NoError(t, f.payments.Create(ctx, txn))

	require.NoError(t, f.service.OpenHold(ctx, order, txn.TransactionID))
	hold, err := f.holds.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	return order, hold
}

func TestOpenHoldExactlyOncePerOrder(t *testing.T) {
	f := newFixture(t)
	order, hold := f.fundOrder(t, false)

	assert.Equal(t, StatusHeld, hold.Status)
	assert.True(t, hold.Amount.Equal(order.TotalAmount))
	assert.True(t, hold.Remaining.Equal(order.TotalAmount))
	require.NotNil(t, hold.AutoReleaseAt)

	err := f.service.OpenHold(context.Background(), order, hold.TransactionID)
	assert.ErrorIs(t, err, ErrHoldExists)
}

func TestReleaseRequiresDelivery(t *testing.T) {
	f := newFixture(t)
	_, hold := f.fundOrder(t, false)

	_, err := f.service.Release(context.Background(), hold.ID, "user_buyer", ReleaseRequest{})
	assert.ErrorIs(t, err, ErrNotDelivered)
}

func TestReleaseIsBuyerOnly(t *testing.T) {
	f := newFixture(t)
	_, hold := f.fundOrder(t, true)

	_, err := f.service.Release(context.Background(), hold.ID, "user_seller", ReleaseRequest{})
	assert.ErrorIs(t, err, orders.ErrNotBuyer)

	_, err = f.service.Release(context.Background(), hold.ID, "user_other", ReleaseRequest{})
	assert.ErrorIs(t, err, orders.ErrNotBuyer)
}

func TestReleaseCompletesOrder(t *testing.T) {
	f := newFixture(t)
	order, hold := f.fundOrder(t, true)
	ctx := context.Background()

	released, err := f.service.Release(ctx, hold.ID, "user_buyer", ReleaseRequest{Reason: "item received"})
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, released.Status)
	assert.True(t, released.Remaining.IsZero())

	got, err := f.ordstore.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, got.Status)

	// Movement recorded as an escrow_release transaction.
	txns, err := f.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, payments.TypeEscrowRelease, txns[1].Type)
	assert.Equal(t, payments.StatusCompleted, txns[1].Status)
}

func TestPartialReleaseRejected(t *testing.T) {
	f := newFixture(t)
	_, hold := f.fundOrder(t, true)

	_, err := f.service.Release(context.Background(), hold.ID, "user_buyer", ReleaseRequest{Amount: "5.00"})
	assert.ErrorIs(t, err, ErrPartialNotAllowed)

	// Exact remaining amount is accepted.
	_, err = f.service.Release(context.Background(), hold.ID, "user_buyer", ReleaseRequest{Amount: "21.58"})
	assert.NoError(t, err)
}

func TestDisputeIsSellerOnly(t *testing.T) {
	f := newFixture(t)
	_, hold := f.fundOrder(t, false)

	_, err := f.service.Dispute(context.Background(), hold.ID, "user_buyer", DisputeRequest{Reason: "not mine"})
	assert.ErrorIs(t, err, orders.ErrNotSeller)
}

func TestDisputeFreezesHoldAndOrder(t *testing.T) {
	f := newFixture(t)
	order, hold := f.fundOrder(t, false)
	ctx := context.Background()

	disputed, err := f.service.Dispute(ctx, hold.ID, "user_seller", DisputeRequest{
		Reason: "buyer claims non-delivery fraudulently",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, disputed.Status)

	got, err := f.ordstore.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDisputed, got.Status)
	assert.NotEmpty(t, got.DisputeReason)

	// A disputed hold cannot be released by the buyer.
	got.DeliveryStatus = orders.DeliveryDelivered
	require.NoError(t, f.ordstore.Update(ctx, got, orders.StatusDisputed))
	_, err = f.service.Release(ctx, hold.ID, "user_buyer", ReleaseRequest{})
	assert.ErrorIs(t, err, ErrHoldNotActive)
}

func TestConcurrentReleaseAndDisputeSingleWinner(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		_, hold := f.fundOrder(t, true)
		ctx := context.Background()

		var wg sync.WaitGroup
		var releaseErr, disputeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, releaseErr = f.service.Release(ctx, hold.ID, "user_buyer", ReleaseRequest{})
		}()
		go func() {
			defer wg.Done()
			_, disputeErr = f.service.Dispute(ctx, hold.ID, "user_seller", DisputeRequest{Reason: "contested"})
		}()
		wg.Wait()

		if releaseErr == nil && disputeErr == nil {
			t.Fatalf("iteration %d: both release and dispute succeeded", i)
		}
		if releaseErr != nil && disputeErr != nil {
			t.Fatalf("iteration %d: no winner: release=%v dispute=%v", i, releaseErr, disputeErr)
		}

		final, err := f.holds.Get(ctx, hold.ID)
		require.NoError(t, err)
		if releaseErr == nil {
			assert.Equal(t, StatusReleased, final.Status)
		} else {
			assert.Equal(t, StatusDisputed, final.Status)
		}
	}
}

func TestAutoReleaseSweep(t *testing.T) {
	f := newFixture(t)
	order, hold := f.fundOrder(t, true)
	ctx := context.Background()

	// Not yet due.
	n, err := f.service.AutoReleaseSweep(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.service.AutoReleaseSweep(ctx, hold.AutoReleaseAt.Add(time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	final, err := f.holds.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, final.Status)
	assert.Equal(t, "system", final.ReleasedBy)

	got, _ := f.ordstore.Get(ctx, order.ID)
	assert.Equal(t, orders.StatusCompleted, got.Status)

	// Idempotent.
	n, err = f.service.AutoReleaseSweep(ctx, hold.AutoReleaseAt.Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAutoReleaseSkipsUndelivered(t *testing.T) {
	f := newFixture(t)
	_, hold := f.fundOrder(t, false)
	ctx := context.Background()

	n, err := f.service.AutoReleaseSweep(ctx, hold.AutoReleaseAt.Add(time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	final, _ := f.holds.Get(ctx, hold.ID)
	assert.Equal(t, StatusHeld, final.Status)
}

func TestRefundAllTerminalHold(t *testing.T) {
	f := newFixture(t)
	order, hold := f.fundOrder(t, false)
	ctx := context.Background()

	// Simulate the dispute-resolution path: caller holds the lock.
	unlock, err := f.orders.Lock(ctx, order.ID)
	require.NoError(t, err)
	defer unlock()

	loaded, err := f.ordstore.Get(ctx, order.ID)
	require.NoError(t, err)
	require.NoError(t, f.service.RefundAll(ctx, loaded, hold,
		gateway.IdempotencyKey(order.ID, "refund", "dsp_1"), "full refund per resolution"))

	final, err := f.holds.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, final.Status)
	assert.True(t, final.Remaining.IsZero())
	assert.False(t, final.HoldsFunds())

	got, _ := f.ordstore.Get(ctx, order.ID)
	assert.Equal(t, orders.StatusRefunded, got.Status)
	assert.Equal(t, orders.PaymentRefunded, got.PaymentStatus)

	// No outstanding held hold for the order.
	latest, err := f.holds.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, latest.HoldsFunds())
}

func TestPartialRefundSplitsFunds(t *testing.T) {
	f := newFixture(t)
	order, hold := f.fundOrder(t, false)
	ctx := context.Background()

	unlock, err := f.orders.Lock(ctx, order.ID)
	require.NoError(t, err)
	defer unlock()

	loaded, err := f.ordstore.Get(ctx, order.ID)
	require.NoError(t, err)

	amount := decimal.RequireFromString("10.00")
	require.NoError(t, f.service.PartialRefund(ctx, loaded, hold, amount,
		gateway.IdempotencyKey(order.ID, "refund", "dsp_1"), ""))

	final, _ := f.holds.Get(ctx, hold.ID)
	assert.Equal(t, StatusReleased, final.Status)
	assert.True(t, final.Remaining.IsZero())

	got, _ := f.ordstore.Get(ctx, order.ID)
	assert.Equal(t, orders.StatusRefunded, got.Status)
	assert.Equal(t, orders.PaymentPartialRefund, got.PaymentStatus)

	// One refund and one release transaction on top of the payment.
	txns, err := f.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, payments.TypeRefund, txns[1].Type)
	assert.True(t, txns[1].Amount.Equal(amount))
	assert.Equal(t, payments.TypeEscrowRelease, txns[2].Type)
	assert.True(t, txns[2].Amount.Equal(hold.Amount.Sub(amount)))
}

func TestPartialRefundOverHoldRejected(t *testing.T) {
	f := newFixture(t)
	order, hold := f.fundOrder(t, false)
	ctx := context.Background()

	unlock, err := f.orders.Lock(ctx, order.ID)
	require.NoError(t, err)
	defer unlock()

	loaded, _ := f.ordstore.Get(ctx, order.ID)
	err = f.service.PartialRefund(ctx, loaded, hold, decimal.RequireFromString("100.00"),
		gateway.IdempotencyKey(order.ID, "refund", "dsp_1"), "")
	assert.ErrorIs(t, err, ErrAmountExceedsHold)
}

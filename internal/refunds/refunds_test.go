package refunds

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playvault/playvault/internal/audit"
	"github.com/playvault/playvault/internal/escrow"
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
	store    *MemoryStore
	orders   *orders.Service
	ordstore *orders.MemoryStore
	listings *listings.MemoryStore
	payments *payments.MemoryStore
	holds    *escrow.MemoryStore
	gateway  *gateway.Simulated
	notices  *notify.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ordStore := orders.NewMemoryStore()
	listingStore := listings.NewMemoryStore()
	payStore := payments.NewMemoryStore()
	holdStore := escrow.NewMemoryStore()
	refundStore := NewMemoryStore()
	noticeStore := notify.NewMemoryStore()
	emitter := notify.NewEmitter(noticeStore, slog.Default())
	auditor := audit.NewMemoryLogger()
	gw := gateway.NewSimulated()

	orderService := orders.NewService(ordStore, listingStore, fees.Default(),
		syncutil.NewKeyedMutex(), emitter, auditor)
	service := NewService(refundStore, orderService, payStore, holdStore, gw,
		listingStore, emitter, auditor)

	return &fixture{
		service:  service,
		store:    refundStore,
		orders:   orderService,
		ordstore: ordStore,
		listings: listingStore,
		payments: payStore,
		holds:    holdStore,
		gateway:  gw,
		notices:  noticeStore,
	}
}

// fundOrder seeds a paid order, its payment transaction, a held escrow and
// the backing listing.
func (f *fixture) fundOrder(t *testing.T, delivered bool) *orders.Order {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, f.listings.Create(ctx, &listings.Listing{
		ID:        "lst_1",
		SellerID:  "user_seller",
		Title:     "Mythic Blade",
		UnitPrice: decimal.RequireFromString("20.00"),
		Currency:  "USD",
		Quantity:  3,
		Status:    listings.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}))

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

	deadline := now.Add(escrow.DefaultAutoRelease)
	require.NoError(t, f.holds.Create(ctx, &escrow.Hold{
		ID:            idgen.WithPrefix("esc_"),
		OrderID:       order.ID,
		TransactionID: txn.TransactionID,
		Amount:        order.TotalAmount,
		Remaining:     order.TotalAmount,
		Currency:      order.Currency,
		Status:        escrow.StatusHeld,
		AutoReleaseAt: &deadline,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))

	return order
}

func TestRequestDefaultsToOrderTotal(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)

	refund, err := f.service.Request(context.Background(), order.ID, "user_buyer",
		RequestInput{Reason: "item never arrived"})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, refund.Status)
	assert.True(t, refund.Amount.Equal(order.TotalAmount))
	assert.Equal(t, "user_buyer", refund.RequestedBy)
	assert.NotEmpty(t, refund.TransactionID)

	notes, err := f.notices.ListByRecipient(context.Background(), "user_seller", false, 10)
	require.NoError(t, err)
	require.NotEmpty(t, notes)
	assert.Equal(t, notify.TypeRefundRequested, notes[0].Type)
}

func TestRequestSecondPendingRejected(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)
	ctx := context.Background()

	_, err := f.service.Request(ctx, order.ID, "user_buyer", RequestInput{Reason: "first"})
	require.NoError(t, err)

	_, err = f.service.Request(ctx, order.ID, "user_seller", RequestInput{Reason: "second"})
	assert.ErrorIs(t, err, ErrRefundPendingExists)
}

func TestRequestAmountMustNotExceedTotal(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)

	_, err := f.service.Request(context.Background(), order.ID, "user_buyer",
		RequestInput{Reason: "overcharge", Amount: "50.00"})
	assert.ErrorIs(t, err, ErrAmountExceedsTotal)
}

func TestRequestRequiresRefundableStatus(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)
	ctx := context.Background()

	order.Status = orders.StatusCancelled
	require.NoError(t, f.ordstore.Update(ctx, order, orders.StatusPaid))

	_, err := f.service.Request(ctx, order.ID, "user_buyer", RequestInput{Reason: "late"})
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestRequestIsPartyOnly(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)

	_, err := f.service.Request(context.Background(), order.ID, "user_stranger",
		RequestInput{Reason: "not my order"})
	assert.ErrorIs(t, err, orders.ErrNotParticipant)
}

func TestResolveApproveFullRefund(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)
	ctx := context.Background()

	refund, err := f.service.Request(ctx, order.ID, "user_buyer",
		RequestInput{Reason: "item never arrived"})
	require.NoError(t, err)

	refund, err = f.service.Resolve(ctx, refund.ID, "user_seller",
		ResolveInput{Decision: "approved", Notes: "confirmed lost"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, refund.Status)
	assert.NotEmpty(t, refund.RefundTxnID)
	require.NotNil(t, refund.CompletedAt)

	updated, err := f.ordstore.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, updated.Status)
	assert.Equal(t, orders.PaymentRefunded, updated.PaymentStatus)

	hold, err := f.holds.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, hold.Status)
	assert.False(t, hold.HoldsFunds())
	assert.True(t, hold.Remaining.IsZero())

	txns, err := f.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	var refundTxns int
	for _, txn := range txns {
		if txn.Type == payments.TypeRefund {
			refundTxns++
			assert.True(t, txn.Amount.Equal(order.TotalAmount))
			assert.Equal(t, payments.StatusCompleted, txn.Status)
		}
	}
	assert.Equal(t, 1, refundTxns)

	// Undelivered order gives the stock back.
	listing, err := f.listings.Get(ctx, "lst_1")
	require.NoError(t, err)
	assert.Equal(t, 4, listing.Quantity)
}

func TestResolveApprovePartialRefund(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, true)
	ctx := context.Background()

	refund, err := f.service.Request(ctx, order.ID, "user_buyer",
		RequestInput{Reason: "missing add-on", Amount: "5.00"})
	require.NoError(t, err)

	refund, err = f.service.Resolve(ctx, refund.ID, "user_seller",
		ResolveInput{Decision: "approved"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, refund.Status)
	assert.True(t, refund.Amount.Equal(decimal.RequireFromString("5.00")))

	updated, err := f.ordstore.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, updated.Status)
	assert.Equal(t, orders.PaymentPartialRefund, updated.PaymentStatus)

	// Delivered order keeps its stock spent.
	listing, err := f.listings.Get(ctx, "lst_1")
	require.NoError(t, err)
	assert.Equal(t, 3, listing.Quantity)
}

func TestResolveReject(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)
	ctx := context.Background()

	refund, err := f.service.Request(ctx, order.ID, "user_buyer",
		RequestInput{Reason: "changed my mind"})
	require.NoError(t, err)

	refund, err = f.service.Resolve(ctx, refund.ID, "user_seller",
		ResolveInput{Decision: "rejected", Notes: "item was delivered as described"})
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, refund.Status)
	assert.Equal(t, "user_seller", refund.ProcessedBy)

	// Nothing moved: order and hold stay funded and no refund transaction exists.
	updated, err := f.ordstore.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, updated.Status)

	hold, err := f.holds.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusHeld, hold.Status)

	txns, err := f.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	for _, txn := range txns {
		assert.NotEqual(t, payments.TypeRefund, txn.Type)
	}
}

func TestResolveIsSellerOnly(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)
	ctx := context.Background()

	refund, err := f.service.Request(ctx, order.ID, "user_buyer",
		RequestInput{Reason: "late"})
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, refund.ID, "user_buyer", ResolveInput{Decision: "approved"})
	assert.ErrorIs(t, err, orders.ErrNotSeller)
}

func TestResolveTwiceRejected(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)
	ctx := context.Background()

	refund, err := f.service.Request(ctx, order.ID, "user_buyer",
		RequestInput{Reason: "late"})
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, refund.ID, "user_seller", ResolveInput{Decision: "rejected"})
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, refund.ID, "user_seller", ResolveInput{Decision: "approved"})
	assert.ErrorIs(t, err, ErrRefundNotPending)
}

func TestResolveUnknownDecision(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)
	ctx := context.Background()

	refund, err := f.service.Request(ctx, order.ID, "user_buyer",
		RequestInput{Reason: "late"})
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, refund.ID, "user_seller", ResolveInput{Decision: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestGatewayFailureRejectsRefund(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)
	ctx := context.Background()

	// Point the recorded payment at a transaction the backend has never
	// seen, so the refund call fails at the provider.
	txns, err := f.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	txns[0].BackendTxnID = "sim_gone"
	require.NoError(t, f.payments.Create(ctx, txns[0]))

	refund, err := f.service.Request(ctx, order.ID, "user_buyer",
		RequestInput{Reason: "item never arrived"})
	require.NoError(t, err)

	refund, err = f.service.Resolve(ctx, refund.ID, "user_seller",
		ResolveInput{Decision: "approved"})
	require.Error(t, err)
	require.NotNil(t, refund)

	assert.Equal(t, StatusRejected, refund.Status)
	assert.Contains(t, refund.ProcessingNotes, "gateway refund failed")

	// The order is untouched and no refund transaction was recorded.
	updated, err := f.ordstore.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, updated.Status)

	txns, err = f.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	for _, txn := range txns {
		assert.NotEqual(t, payments.TypeRefund, txn.Type)
	}
}

func TestRefundDeclinedByProvider(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, true)
	ctx := context.Background()

	// Exhaust the captured amount with a direct provider refund so the
	// next one is declined rather than erroring.
	txns, err := f.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.gateway.RefundPayment(ctx, txns[0].BackendTxnID, order.TotalAmount, "")
	require.NoError(t, err)

	refund, err := f.service.Request(ctx, order.ID, "user_buyer",
		RequestInput{Reason: "double charge"})
	require.NoError(t, err)

	refund, err = f.service.Resolve(ctx, refund.ID, "user_seller",
		ResolveInput{Decision: "approved"})
	require.Error(t, err)
	assert.Equal(t, StatusRejected, refund.Status)
	assert.Contains(t, refund.ProcessingNotes, "refund_exceeds_charge")
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	order := f.fundOrder(t, false)
	ctx := context.Background()

	refund, err := f.service.Request(ctx, order.ID, "user_buyer",
		RequestInput{Reason: "late"})
	require.NoError(t, err)

	_, err = f.service.Get(ctx, refund.ID, "user_seller")
	assert.NoError(t, err)

	_, err = f.service.Get(ctx, refund.ID, "user_stranger")
	assert.ErrorIs(t, err, orders.ErrNotParticipant)

	listed, err := f.service.ListByOrder(ctx, order.ID, "user_buyer")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

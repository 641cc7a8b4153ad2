package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playvault/playvault/internal/audit"
	"github.com/playvault/playvault/internal/gateway"
	"github.com/playvault/playvault/internal/idgen"
	"github.com/playvault/playvault/internal/logging"
	"github.com/playvault/playvault/internal/metrics"
	"github.com/playvault/playvault/internal/notify"
	"github.com/playvault/playvault/internal/orders"
	"github.com/playvault/playvault/internal/payments"
	"github.com/playvault/playvault/internal/traces"
)

// DisputeRequest carries the parameters for disputing a hold.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
	Notes  string `json:"notes"`
}

// ReleaseRequest carries the parameters for releasing a hold.
type ReleaseRequest struct {
	Reason string `json:"reason"`
	// Amount, when present, must equal the full remaining balance.
	Amount string `json:"amount"`
}

// Service implements escrow business logic.
type Service struct {
	store       Store
	orders      *orders.Service
	payments    payments.Store
	gateway     gateway.Gateway
	emitter     *notify.Emitter
	auditor     audit.Logger
	autoRelease time.Duration
}

// NewService creates an escrow service.
func NewService(store Store, orderService *orders.Service, paymentStore payments.Store, gw gateway.Gateway, emitter *notify.Emitter, auditor audit.Logger) *Service {
	return &Service{
		store:       store,
		orders:      orderService,
		payments:    paymentStore,
		gateway:     gw,
		emitter:     emitter,
		auditor:     auditor,
		autoRelease: DefaultAutoRelease,
	}
}

// WithAutoRelease overrides the auto-release deadline applied to new holds.
func (s *Service) WithAutoRelease(d time.Duration) *Service {
	if d > 0 {
		s.autoRelease = d
	}
	return s
}

// OpenHold creates the hold for a freshly captured order. Called by the
// payment service with the order lock held; the store's uniqueness rule
// makes a second open for the same order fail with ErrHoldExists.
func (s *Service) OpenHold(ctx context.Context, order *orders.Order, transactionID string) error {
	now := time.Now()
	deadline := now.Add(s.autoRelease)
	hold := &Hold{
		ID:            idgen.WithPrefix("esc_"),
		OrderID:       order.ID,
		TransactionID: transactionID,
		Amount:        order.TotalAmount,
		Remaining:     order.TotalAmount,
		Currency:      order.Currency,
		Status:        StatusHeld,
		AutoReleaseAt: &deadline,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, hold); err != nil {
		return err
	}

	metrics.EscrowsTotal.WithLabelValues(string(StatusHeld)).Inc()
	audit.Record(ctx, s.auditor, "escrow.open", "escrow", hold.ID, map[string]any{
		"order_id": order.ID,
		"amount":   hold.Amount.String(),
	}, audit.RiskLow)
	s.emitter.EmitBoth(ctx, order.BuyerID, order.SellerID, notify.TypeEscrowOpened,
		"Funds held in escrow",
		fmt.Sprintf("%s %s is held in escrow for order %s until you confirm delivery.", hold.Amount, hold.Currency, order.OrderNumber),
		fmt.Sprintf("%s %s is held in escrow for order %s pending delivery.", hold.Amount, hold.Currency, order.OrderNumber),
		notify.Metadata{OrderID: order.ID, EscrowID: hold.ID, Amount: hold.Amount.String(), Currency: hold.Currency})
	return nil
}

// Get returns a hold visible to a party of its order.
func (s *Service) Get(ctx context.Context, id, callerID string) (*Hold, error) {
	hold, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Load(ctx, hold.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(callerID) {
		return nil, orders.ErrNotParticipant
	}
	return hold, nil
}

// GetByOrder returns an order's hold for a party of the order.
func (s *Service) GetByOrder(ctx context.Context, orderID, callerID string) (*Hold, error) {
	order, err := s.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(callerID) {
		return nil, orders.ErrNotParticipant
	}
	return s.store.GetByOrder(ctx, orderID)
}

// Release pays the held funds out to the seller. Buyer-only; the order must
// be delivered; only the full remaining amount can be released.
func (s *Service) Release(ctx context.Context, escrowID, callerID string, req ReleaseRequest) (*Hold, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Release",
		traces.EscrowID(escrowID), traces.Caller(callerID))
	defer span.End()

	hold, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.orders.Lock(ctx, hold.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; a concurrent dispute may have won.
	hold, err = s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Load(ctx, hold.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != callerID {
		return nil, orders.ErrNotBuyer
	}
	if !hold.Releasable() {
		return nil, fmt.Errorf("%w: hold is %s", ErrHoldNotActive, hold.Status)
	}
	if order.DeliveryStatus != orders.DeliveryDelivered {
		return nil, ErrNotDelivered
	}
	if req.Amount != "" {
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: bad amount %q", ErrPartialNotAllowed, req.Amount)
		}
		if !amount.Equal(hold.Remaining) {
			return nil, fmt.Errorf("%w: remaining is %s", ErrPartialNotAllowed, hold.Remaining)
		}
	}

	reason := req.Reason
	if reason == "" {
		reason = "buyer_confirmed"
	}
	released := hold.Remaining
	if err := s.ReleaseAll(ctx, order, hold, reason, callerID, orders.StatusCompleted); err != nil {
		return nil, err
	}

	s.emitter.EmitBoth(ctx, order.BuyerID, order.SellerID, notify.TypeEscrowReleased,
		"Escrow released",
		fmt.Sprintf("You released the escrow for order %s. The order is complete.", order.OrderNumber),
		fmt.Sprintf("The buyer released %s %s for order %s.", released, hold.Currency, order.OrderNumber),
		notify.Metadata{OrderID: order.ID, EscrowID: hold.ID, Amount: released.String(), Currency: hold.Currency})

	return hold, nil
}

// Dispute freezes the hold pending resolution. Seller-only; the cheaper
// alternative to opening a full dispute case when the seller contests a
// release-in-waiting.
func (s *Service) Dispute(ctx context.Context, escrowID, callerID string, req DisputeRequest) (*Hold, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Dispute",
		traces.EscrowID(escrowID), traces.Caller(callerID))
	defer span.End()

	hold, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.orders.Lock(ctx, hold.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	hold, err = s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Load(ctx, hold.OrderID)
	if err != nil {
		return nil, err
	}
	if order.SellerID != callerID {
		return nil, orders.ErrNotSeller
	}
	if !hold.Releasable() {
		return nil, fmt.Errorf("%w: hold is %s", ErrHoldNotActive, hold.Status)
	}

	now := time.Now()
	prev := hold.Status
	hold.Status = StatusDisputed
	hold.DisputedAt = &now
	hold.UpdatedAt = now
	if err := s.store.Update(ctx, hold, prev); err != nil {
		return nil, err
	}

	err = s.orders.Transition(ctx, order, orders.StatusDisputed, func(o *orders.Order) {
		o.DisputeReason = req.Reason
		if req.Notes != "" {
			o.SellerNotes = req.Notes
		}
	})
	if err != nil {
		return nil, err
	}

	metrics.EscrowsTotal.WithLabelValues(string(StatusDisputed)).Inc()
	audit.Record(ctx, s.auditor, "escrow.dispute", "escrow", hold.ID, map[string]any{
		"order_id": order.ID,
		"reason":   req.Reason,
	}, audit.RiskMedium)
	s.emitter.EmitBoth(ctx, order.BuyerID, order.SellerID, notify.TypeEscrowDisputed,
		"Escrow disputed",
		fmt.Sprintf("The seller disputed the escrow for order %s: %s", order.OrderNumber, req.Reason),
		fmt.Sprintf("You disputed the escrow for order %s.", order.OrderNumber),
		notify.Metadata{OrderID: order.ID, EscrowID: hold.ID})

	return hold, nil
}

// ReleaseAll moves the full remaining balance to the seller and completes
// the hold. Caller must hold the order lock.
func (s *Service) ReleaseAll(ctx context.Context, order *orders.Order, hold *Hold, reason, releasedBy string, orderTo orders.Status) error {
	origin, err := s.originalPayment(ctx, order.ID)
	if err != nil {
		return err
	}

	result, err := s.gateway.CapturePayment(ctx, origin.BackendTxnID, hold.Remaining,
		gateway.IdempotencyKey(order.ID, "release"))
	if err != nil {
		return fmt.Errorf("release funds: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("release funds: %s", result.Message)
	}
	s.recordMovement(ctx, order, payments.TypeEscrowRelease, hold.Remaining, result)

	now := time.Now()
	prev := hold.Status
	released := hold.Remaining
	hold.Status = StatusReleased
	hold.Remaining = decimal.Zero
	hold.ReleaseReason = reason
	hold.ReleasedBy = releasedBy
	hold.ReleasedAt = &now
	hold.UpdatedAt = now
	if err := s.store.Update(ctx, hold, prev); err != nil {
		return err
	}

	if err := s.orders.Transition(ctx, order, orderTo, nil); err != nil {
		return err
	}

	metrics.EscrowsTotal.WithLabelValues(string(StatusReleased)).Inc()
	metrics.EscrowDuration.Observe(now.Sub(hold.CreatedAt).Hours())
	audit.Record(ctx, s.auditor, "escrow.release", "escrow", hold.ID, map[string]any{
		"order_id":    order.ID,
		"amount":      released.String(),
		"reason":      reason,
		"released_by": releasedBy,
	}, audit.RiskLow)
	return nil
}

// RefundAll returns the full remaining balance to the buyer through the
// gateway. Caller must hold the order lock. Used by dispute resolution.
func (s *Service) RefundAll(ctx context.Context, order *orders.Order, hold *Hold, idempotencyKey, notes string) error {
	return s.refund(ctx, order, hold, hold.Remaining, true, idempotencyKey, notes)
}

// PartialRefund returns amount to the buyer and releases the remainder to
// the seller. Caller must hold the order lock. Used by dispute resolution.
func (s *Service) PartialRefund(ctx context.Context, order *orders.Order, hold *Hold, amount decimal.Decimal, idempotencyKey, notes string) error {
	if amount.GreaterThan(hold.Remaining) {
		return fmt.Errorf("%w: %s > %s", ErrAmountExceedsHold, amount, hold.Remaining)
	}
	return s.refund(ctx, order, hold, amount, false, idempotencyKey, notes)
}

func (s *Service) refund(ctx context.Context, order *orders.Order, hold *Hold, amount decimal.Decimal, full bool, idempotencyKey, notes string) error {
	origin, err := s.originalPayment(ctx, order.ID)
	if err != nil {
		return err
	}

	result, err := s.gateway.RefundPayment(ctx, origin.BackendTxnID, amount, idempotencyKey)
	if err != nil {
		return fmt.Errorf("refund funds: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("refund funds: %s", result.Message)
	}
	s.recordMovement(ctx, order, payments.TypeRefund, amount, result)

	remainder := hold.Remaining.Sub(amount)
	if !full && remainder.Sign() > 0 {
		// Remainder goes to the seller.
		releaseResult, err := s.gateway.CapturePayment(ctx, origin.BackendTxnID, remainder,
			gateway.IdempotencyKey(order.ID, "release"))
		if err != nil {
			return fmt.Errorf("release remainder: %w", err)
		}
		if !releaseResult.Success {
			return fmt.Errorf("release remainder: %s", releaseResult.Message)
		}
		s.recordMovement(ctx, order, payments.TypeEscrowRelease, remainder, releaseResult)
	}

	now := time.Now()
	prev := hold.Status
	hold.Status = StatusRefunded
	if !full {
		hold.Status = StatusReleased
		hold.ReleaseReason = "partial_refund"
	}
	hold.Remaining = decimal.Zero
	hold.ReleasedBy = "system"
	hold.ReleasedAt = &now
	if notes != "" {
		hold.ReleaseReason = notes
	}
	hold.UpdatedAt = now
	if err := s.store.Update(ctx, hold, prev); err != nil {
		return err
	}

	paymentStatus := orders.PaymentRefunded
	if !full {
		paymentStatus = orders.PaymentPartialRefund
	}
	err = s.orders.Transition(ctx, order, orders.StatusRefunded, func(o *orders.Order) {
		o.PaymentStatus = paymentStatus
	})
	if err != nil {
		return err
	}

	metrics.EscrowsTotal.WithLabelValues(string(hold.Status)).Inc()
	metrics.EscrowDuration.Observe(now.Sub(hold.CreatedAt).Hours())
	audit.Record(ctx, s.auditor, "escrow.refund", "escrow", hold.ID, map[string]any{
		"order_id": order.ID,
		"amount":   amount.String(),
		"full":     full,
	}, audit.RiskMedium)
	return nil
}

// CloseHold ends a hold with no fund movement through the engine. Caller
// must hold the order lock. Used by no-transfer dispute resolutions.
func (s *Service) CloseHold(ctx context.Context, order *orders.Order, hold *Hold, reason string, orderTo orders.Status) error {
	now := time.Now()
	prev := hold.Status
	hold.Status = StatusReleased
	hold.Remaining = decimal.Zero
	hold.ReleaseReason = reason
	hold.ReleasedBy = "system"
	hold.ReleasedAt = &now
	hold.UpdatedAt = now
	if err := s.store.Update(ctx, hold, prev); err != nil {
		return err
	}
	if err := s.orders.Transition(ctx, order, orderTo, nil); err != nil {
		return err
	}
	metrics.EscrowsTotal.WithLabelValues(string(StatusReleased)).Inc()
	audit.Record(ctx, s.auditor, "escrow.close", "escrow", hold.ID, map[string]any{
		"order_id": order.ID,
		"reason":   reason,
	}, audit.RiskLow)
	return nil
}

// AutoReleaseSweep pays out holds whose deadline passed on delivered
// orders. Safe to run repeatedly; each hold is re-checked under its order
// lock before releasing.
func (s *Service) AutoReleaseSweep(ctx context.Context, now time.Time, limit int) (int, error) {
	candidates, err := s.store.ListAutoReleasable(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, candidate := range candidates {
		n, err := s.autoReleaseOne(ctx, candidate.ID)
		if err != nil {
			logging.L(ctx).Error("auto-release hold", "escrow_id", candidate.ID, "error", err)
			continue
		}
		released += n
	}
	return released, nil
}

func (s *Service) autoReleaseOne(ctx context.Context, holdID string) (int, error) {
	hold, err := s.store.Get(ctx, holdID)
	if err != nil {
		return 0, err
	}

	unlock, err := s.orders.Lock(ctx, hold.OrderID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	hold, err = s.store.Get(ctx, holdID)
	if err != nil {
		return 0, err
	}
	if !hold.Releasable() {
		return 0, nil
	}
	order, err := s.orders.Load(ctx, hold.OrderID)
	if err != nil {
		return 0, err
	}
	// Auto-release only pays out confirmed deliveries; anything else waits
	// for the parties or a dispute.
	if order.DeliveryStatus != orders.DeliveryDelivered {
		return 0, nil
	}

	amount := hold.Remaining
	if err := s.ReleaseAll(ctx, order, hold, "auto_release", "system", orders.StatusCompleted); err != nil {
		return 0, err
	}

	s.emitter.EmitBoth(ctx, order.BuyerID, order.SellerID, notify.TypeEscrowReleased,
		"Escrow auto-released",
		fmt.Sprintf("The escrow for order %s auto-released after the protection window.", order.OrderNumber),
		fmt.Sprintf("%s %s for order %s was auto-released to you.", amount, hold.Currency, order.OrderNumber),
		notify.Metadata{OrderID: order.ID, EscrowID: hold.ID, Amount: amount.String(), Currency: hold.Currency})

	return 1, nil
}

// originalPayment finds the completed payment-type transaction that funded
// the order.
func (s *Service) originalPayment(ctx context.Context, orderID string) (*payments.Transaction, error) {
	txns, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, t := range txns {
		if t.Type == payments.TypePayment && t.Status == payments.StatusCompleted {
			return t, nil
		}
	}
	return nil, payments.ErrTransactionNotFound
}

func (s *Service) recordMovement(ctx context.Context, order *orders.Order, typ payments.Type, amount decimal.Decimal, result *gateway.Result) {
	now := time.Now()
	txn := &payments.Transaction{
		ID:            idgen.WithPrefix("ptx_"),
		OrderID:       order.ID,
		TransactionID: idgen.WithPrefix("txn_"),
		Type:          typ,
		Amount:        amount,
		Currency:      order.Currency,
		Backend:       s.gateway.Name(),
		BackendTxnID:  result.TransactionID,
		Response:      []byte(result.Raw),
		Status:        payments.StatusCompleted,
		ProcessedAt:   &now,
		SettledAt:     &now,
		CreatedAt:     now,
	}
	if err := s.payments.Create(ctx, txn); err != nil {
		logging.L(ctx).Error("record escrow movement",
			"order_id", order.ID, "type", typ, "error", err)
	}
}

package refunds

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playvault/playvault/internal/audit"
	"github.com/playvault/playvault/internal/escrow"
	"github.com/playvault/playvault/internal/gateway"
	"github.com/playvault/playvault/internal/idgen"
	"github.com/playvault/playvault/internal/listings"
	"github.com/playvault/playvault/internal/logging"
	"github.com/playvault/playvault/internal/metrics"
	"github.com/playvault/playvault/internal/notify"
	"github.com/playvault/playvault/internal/orders"
	"github.com/playvault/playvault/internal/payments"
	"github.com/playvault/playvault/internal/traces"
)

// refundable is the set of order statuses a refund may be requested in.
var refundable = map[orders.Status]bool{
	orders.StatusPaid:       true,
	orders.StatusProcessing: true,
	orders.StatusShipped:    true,
	orders.StatusDelivered:  true,
	orders.StatusCompleted:  true,
}

// RequestInput carries the parameters for requesting a refund.
type RequestInput struct {
	// Amount, when empty, defaults to the order total.
	Amount string `json:"amount"`
	Reason string `json:"reason" binding:"required"`
	Notes  string `json:"notes"`
}

// ResolveInput carries the seller's decision on a pending refund.
type ResolveInput struct {
	Decision string `json:"decision" binding:"required"`
	Notes    string `json:"notes"`
}

// ReceiptIssuer issues a signed receipt once a refund settles. Declared
// here so refunds does not import receipts. Issuance is best effort and
// must never fail the refund.
type ReceiptIssuer interface {
	RefundCompleted(ctx context.Context, order *orders.Order, refund *Refund, backend string)
}

// Service implements refund business logic.
type Service struct {
	store    Store
	orders   *orders.Service
	payments payments.Store
	holds    escrow.Store
	gateway  gateway.Gateway
	listings listings.Store
	emitter  *notify.Emitter
	auditor  audit.Logger
	receipts ReceiptIssuer
}

// NewService creates a refund service.
func NewService(store Store, orderService *orders.Service, paymentStore payments.Store, holdStore escrow.Store, gw gateway.Gateway, listingStore listings.Store, emitter *notify.Emitter, auditor audit.Logger) *Service {
	return &Service{
		store:    store,
		orders:   orderService,
		payments: paymentStore,
		holds:    holdStore,
		gateway:  gw,
		listings: listingStore,
		emitter:  emitter,
		auditor:  auditor,
	}
}

// WithReceipts attaches a receipt issuer for completed refunds.
func (s *Service) WithReceipts(r ReceiptIssuer) *Service {
	s.receipts = r
	return s
}

// Request opens a refund request against a refundable order. Either party
// may request; at most one pending refund exists per order.
func (s *Service) Request(ctx context.Context, orderID, callerID string, in RequestInput) (*Refund, error) {
	ctx, span := traces.StartSpan(ctx, "refunds.Request",
		traces.OrderID(orderID), traces.Caller(callerID))
	defer span.End()

	unlock, err := s.orders.Lock(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(callerID) {
		return nil, orders.ErrNotParticipant
	}
	if !refundable[order.Status] {
		return nil, fmt.Errorf("%w: order is %s", ErrNotRefundable, order.Status)
	}

	amount := order.TotalAmount
	if in.Amount != "" {
		amount, err = decimal.NewFromString(in.Amount)
		if err != nil || amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: bad amount %q", ErrAmountExceedsTotal, in.Amount)
		}
		if amount.GreaterThan(order.TotalAmount) {
			return nil, fmt.Errorf("%w: %s > %s", ErrAmountExceedsTotal, amount, order.TotalAmount)
		}
	}

	origin, err := s.originalPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}

	refund := &Refund{
		ID:            idgen.WithPrefix("rfd_"),
		OrderID:       orderID,
		TransactionID: origin.TransactionID,
		Amount:        amount,
		Currency:      order.Currency,
		Reason:        in.Reason,
		RequestedBy:   callerID,
		RequestNotes:  in.Notes,
		Status:        StatusPending,
		RequestedAt:   time.Now(),
	}
	if err := s.store.Create(ctx, refund); err != nil {
		return nil, err
	}

	metrics.RefundsTotal.WithLabelValues(string(StatusPending)).Inc()
	audit.Record(ctx, s.auditor, "refund.request", "refund", refund.ID, map[string]any{
		"order_id": orderID,
		"amount":   amount.String(),
		"reason":   in.Reason,
	}, audit.RiskLow)
	s.emitter.Emit(ctx, order.OtherParty(callerID), notify.TypeRefundRequested,
		"Refund requested",
		fmt.Sprintf("A refund of %s %s was requested for order %s: %s", amount, order.Currency, order.OrderNumber, in.Reason),
		notify.Metadata{OrderID: orderID, Amount: amount.String(), Currency: order.Currency})

	return refund, nil
}

// Resolve applies the seller's decision to a pending refund. Approval runs
// the gateway refund before anything is marked completed; a gateway failure
// rejects the refund with the provider's reason recorded.
func (s *Service) Resolve(ctx context.Context, refundID, callerID string, in ResolveInput) (*Refund, error) {
	ctx, span := traces.StartSpan(ctx, "refunds.Resolve",
		traces.RefundID(refundID), traces.Caller(callerID))
	defer span.End()

	if in.Decision != string(StatusApproved) && in.Decision != string(StatusRejected) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, in.Decision)
	}

	refund, err := s.store.Get(ctx, refundID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.orders.Lock(ctx, refund.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	refund, err = s.store.Get(ctx, refundID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Load(ctx, refund.OrderID)
	if err != nil {
		return nil, err
	}
	if order.SellerID != callerID {
		return nil, orders.ErrNotSeller
	}
	if refund.Status != StatusPending {
		return nil, fmt.Errorf("%w: refund is %s", ErrRefundNotPending, refund.Status)
	}

	if in.Decision == string(StatusRejected) {
		return s.reject(ctx, order, refund, callerID, in.Notes)
	}
	return s.approve(ctx, order, refund, callerID, in.Notes)
}

// Get returns a refund visible to a party of its order.
func (s *Service) Get(ctx context.Context, id, callerID string) (*Refund, error) {
	refund, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Load(ctx, refund.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(callerID) {
		return nil, orders.ErrNotParticipant
	}
	return refund, nil
}

// ListByOrder returns an order's refunds for a party of the order.
func (s *Service) ListByOrder(ctx context.Context, orderID, callerID string) ([]*Refund, error) {
	order, err := s.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(callerID) {
		return nil, orders.ErrNotParticipant
	}
	return s.store.ListByOrder(ctx, orderID)
}

func (s *Service) reject(ctx context.Context, order *orders.Order, refund *Refund, callerID, notes string) (*Refund, error) {
	now := time.Now()
	refund.Status = StatusRejected
	refund.ProcessedBy = callerID
	refund.ProcessingNotes = notes
	refund.ProcessedAt = &now
	if err := s.store.Update(ctx, refund, StatusPending); err != nil {
		return nil, err
	}

	metrics.RefundsTotal.WithLabelValues(string(StatusRejected)).Inc()
	audit.Record(ctx, s.auditor, "refund.reject", "refund", refund.ID, map[string]any{
		"order_id": order.ID,
		"notes":    notes,
	}, audit.RiskLow)
	s.emitter.Emit(ctx, refund.RequestedBy, notify.TypeRefundRejected,
		"Refund rejected",
		fmt.Sprintf("Your refund request for order %s was rejected.", order.OrderNumber),
		notify.Metadata{OrderID: order.ID, Amount: refund.Amount.String(), Currency: refund.Currency})

	return refund, nil
}

func (s *Service) approve(ctx context.Context, order *orders.Order, refund *Refund, callerID, notes string) (*Refund, error) {
	now := time.Now()
	refund.Status = StatusProcessing
	refund.ProcessedBy = callerID
	refund.ProcessingNotes = notes
	refund.ProcessedAt = &now
	if err := s.store.Update(ctx, refund, StatusPending); err != nil {
		return nil, err
	}

	origin, err := s.originalPayment(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	result, gwErr := s.gateway.RefundPayment(ctx, origin.BackendTxnID, refund.Amount,
		gateway.IdempotencyKey(order.ID, "refund", refund.ID))
	if gwErr != nil || !result.Success {
		reason := "provider unreachable"
		if gwErr != nil {
			reason = gwErr.Error()
		} else if result.Message != "" {
			reason = result.Message
		}
		// The gateway said no: the refund is rejected, never left
		// pending or approved without its transaction.
		refund.Status = StatusRejected
		refund.ProcessingNotes = "gateway refund failed: " + reason
		if err := s.store.Update(ctx, refund, StatusProcessing); err != nil {
			return nil, err
		}
		metrics.RefundsTotal.WithLabelValues(string(StatusRejected)).Inc()
		audit.Record(ctx, s.auditor, "refund.gateway_failed", "refund", refund.ID, map[string]any{
			"order_id": order.ID,
			"reason":   reason,
		}, audit.RiskHigh)
		s.emitter.Emit(ctx, refund.RequestedBy, notify.TypeRefundRejected,
			"Refund failed",
			fmt.Sprintf("The refund for order %s could not be processed: %s", order.OrderNumber, reason),
			notify.Metadata{OrderID: order.ID, Amount: refund.Amount.String(), Currency: refund.Currency})
		return refund, fmt.Errorf("refund payment: %s", reason)
	}

	txn := s.recordRefundTransaction(ctx, order, refund, result)

	refund.Status = StatusCompleted
	refund.RefundTxnID = txn.TransactionID
	refund.CompletedAt = &now
	if err := s.store.Update(ctx, refund, StatusProcessing); err != nil {
		return nil, err
	}

	paymentStatus := orders.PaymentRefunded
	if refund.Amount.LessThan(order.TotalAmount) {
		paymentStatus = orders.PaymentPartialRefund
	}
	err = s.orders.Transition(ctx, order, orders.StatusRefunded, func(o *orders.Order) {
		o.PaymentStatus = paymentStatus
	})
	if err != nil {
		return nil, err
	}

	s.settleHold(ctx, order)
	if order.DeliveryStatus != orders.DeliveryDelivered {
		if err := s.listings.Restock(ctx, order.ListingID, order.Quantity); err != nil {
			logging.L(ctx).Error("restock after refund", "order_id", order.ID, "error", err)
		}
	}

	if s.receipts != nil {
		s.receipts.RefundCompleted(ctx, order, refund, s.gateway.Name())
	}

	metrics.RefundsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	audit.Record(ctx, s.auditor, "refund.complete", "refund", refund.ID, map[string]any{
		"order_id":   order.ID,
		"amount":     refund.Amount.String(),
		"refund_txn": refund.RefundTxnID,
	}, audit.RiskMedium)
	s.emitter.EmitBoth(ctx, order.BuyerID, order.SellerID, notify.TypeRefundCompleted,
		"Refund completed",
		fmt.Sprintf("%s %s was refunded for order %s.", refund.Amount, refund.Currency, order.OrderNumber),
		fmt.Sprintf("The refund of %s %s for order %s completed.", refund.Amount, refund.Currency, order.OrderNumber),
		notify.Metadata{OrderID: order.ID, Amount: refund.Amount.String(), Currency: refund.Currency})

	return refund, nil
}

// settleHold moves a still-funded hold to its refunded terminal state. The
// money already moved through the gateway refund; this is bookkeeping only.
func (s *Service) settleHold(ctx context.Context, order *orders.Order) {
	hold, err := s.holds.GetByOrder(ctx, order.ID)
	if err != nil {
		if err != escrow.ErrHoldNotFound {
			logging.L(ctx).Error("load hold after refund", "order_id", order.ID, "error", err)
		}
		return
	}
	if !hold.HoldsFunds() {
		return
	}
	now := time.Now()
	prev := hold.Status
	hold.Status = escrow.StatusRefunded
	hold.Remaining = decimal.Zero
	hold.ReleasedBy = "system"
	hold.ReleaseReason = "refund"
	hold.ReleasedAt = &now
	hold.UpdatedAt = now
	if err := s.holds.Update(ctx, hold, prev); err != nil {
		logging.L(ctx).Error("settle hold after refund", "order_id", order.ID, "error", err)
	}
}

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

func (s *Service) recordRefundTransaction(ctx context.Context, order *orders.Order, refund *Refund, result *gateway.Result) *payments.Transaction {
	now := time.Now()
	txn := &payments.Transaction{
		ID:            idgen.WithPrefix("ptx_"),
		OrderID:       order.ID,
		TransactionID: idgen.WithPrefix("txn_"),
		Type:          payments.TypeRefund,
		Amount:        refund.Amount,
		Currency:      refund.Currency,
		Backend:       s.gateway.Name(),
		BackendTxnID:  result.TransactionID,
		Response:      []byte(result.Raw),
		Status:        payments.StatusCompleted,
		ProcessedAt:   &now,
		SettledAt:     &now,
		CreatedAt:     now,
	}
	if err := s.payments.Create(ctx, txn); err != nil {
		logging.L(ctx).Error("record refund transaction",
			"order_id", order.ID, "error", err)
	}
	return txn
}

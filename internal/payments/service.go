package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playvault/playvault/internal/audit"
	"github.com/playvault/playvault/internal/gateway"
	"github.com/playvault/playvault/internal/idgen"
	"github.com/playvault/playvault/internal/logging"
	"github.com/playvault/playvault/internal/notify"
	"github.com/playvault/playvault/internal/orders"
	"github.com/playvault/playvault/internal/risk"
	"github.com/playvault/playvault/internal/traces"
)

// HoldOpener opens the escrow hold for a freshly captured order. Implemented
// by the escrow service; declared here so payments does not import escrow.
// The capture path already holds the order lock when OpenHold is called.
type HoldOpener interface {
	OpenHold(ctx context.Context, order *orders.Order, transactionID string) error
}

// ReceiptIssuer issues a signed receipt for a successful capture. Declared
// here so payments does not import receipts. Issuance is best effort and
// must never fail the capture.
type ReceiptIssuer interface {
	PaymentCaptured(ctx context.Context, order *orders.Order, txn *Transaction)
}

// Service drives payment capture against the configured gateway.
type Service struct {
	store    Store
	orders   *orders.Service
	gateway  gateway.Gateway
	escrow   HoldOpener
	risk     *risk.Engine
	emitter  *notify.Emitter
	auditor  audit.Logger
	receipts ReceiptIssuer
	maxAmt   float64
}

// NewService creates a payment service. maxAmount is the fee policy's
// transaction ceiling, used for risk scoring context.
func NewService(store Store, orderService *orders.Service, gw gateway.Gateway, escrow HoldOpener, riskEngine *risk.Engine, emitter *notify.Emitter, auditor audit.Logger, maxAmount float64) *Service {
	return &Service{
		store:   store,
		orders:  orderService,
		gateway: gw,
		escrow:  escrow,
		risk:    riskEngine,
		emitter: emitter,
		auditor: auditor,
		maxAmt:  maxAmount,
	}
}

// WithReceipts attaches a receipt issuer for successful captures.
func (s *Service) WithReceipts(r ReceiptIssuer) *Service {
	s.receipts = r
	return s
}

// Capture charges the buyer for a pending order. On success the order moves
// to paid and an escrow hold opens for the captured amount; on decline a
// failed transaction is recorded with the provider's reason and the order
// stays pending so the buyer can retry with another method.
func (s *Service) Capture(ctx context.Context, orderID, callerID, paymentMethodRef string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "payments.Capture",
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
	if order.BuyerID != callerID {
		return nil, orders.ErrNotBuyer
	}
	if order.Status != orders.StatusPending {
		return nil, fmt.Errorf("%w: order is %s", ErrOrderNotPayable, order.Status)
	}
	if time.Now().After(order.ExpiresAt) {
		return nil, orders.ErrOrderExpired
	}

	if err := s.gateway.ValidatePaymentMethod(ctx, paymentMethodRef); err != nil {
		if errors.Is(err, gateway.ErrInvalidMethod) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, paymentMethodRef)
		}
		return nil, err
	}

	assessment := s.scoreRisk(ctx, order)

	result, err := s.gateway.ProcessPayment(ctx, gateway.ProcessRequest{
		Amount:           order.TotalAmount,
		Currency:         order.Currency,
		PaymentMethodRef: paymentMethodRef,
		OrderRef:         order.ID,
		IdempotencyKey:   gateway.IdempotencyKey(order.ID, "pay"),
		Metadata: map[string]string{
			"order_number": order.OrderNumber,
			"buyer_id":     order.BuyerID,
		},
	})
	if err != nil {
		// Provider unreachable. Record the failure so the attempt is
		// never invisible, then surface it.
		txn := s.recordTransaction(ctx, order, nil, assessment, err.Error())
		audit.Record(ctx, s.auditor, "payment.capture_error", "order", order.ID, map[string]any{
			"error": err.Error(),
		}, audit.RiskHigh)
		return txn, fmt.Errorf("process payment: %w", err)
	}

	txn := s.recordTransaction(ctx, order, result, assessment, "")

	if !result.Success {
		audit.Record(ctx, s.auditor, "payment.declined", "order", order.ID, map[string]any{
			"transaction_id": txn.TransactionID,
			"reason":         result.Message,
		}, audit.RiskMedium)
		s.emitter.Emit(ctx, order.BuyerID, notify.TypePaymentFailed,
			"Payment failed",
			fmt.Sprintf("Payment for order %s failed: %s", order.OrderNumber, result.Message),
			notify.Metadata{OrderID: order.ID, Amount: order.TotalAmount.String(), Currency: order.Currency})
		return txn, fmt.Errorf("%w: %s", ErrPaymentDeclined, result.Message)
	}

	// Funded: order paid, escrow opens for the captured amount.
	err = s.orders.Transition(ctx, order, orders.StatusPaid, func(o *orders.Order) {
		o.PaymentStatus = orders.PaymentPaid
	})
	if err != nil {
		return txn, err
	}

	if err := s.escrow.OpenHold(ctx, order, txn.TransactionID); err != nil {
		// The charge exists but the hold does not. Surfaced at critical
		// so an operator reconciles the order.
		audit.Record(ctx, s.auditor, "escrow.open_failed", "order", order.ID, map[string]any{
			"transaction_id": txn.TransactionID,
			"error":          err.Error(),
		}, audit.RiskCritical)
		return txn, fmt.Errorf("open escrow hold: %w", err)
	}

	s.risk.RecordPurchase(order.BuyerID, order.SellerID, order.TotalAmount.InexactFloat64())

	if s.receipts != nil {
		s.receipts.PaymentCaptured(ctx, order, txn)
	}

	audit.Record(ctx, s.auditor, "payment.capture", "order", order.ID, map[string]any{
		"transaction_id": txn.TransactionID,
		"amount":         order.TotalAmount.String(),
		"backend":        s.gateway.Name(),
		"risk_score":     txn.RiskScore,
	}, audit.RiskLevel(assessment.Level))
	s.emitter.EmitBoth(ctx, order.BuyerID, order.SellerID, notify.TypePaymentCaptured,
		"Payment captured",
		fmt.Sprintf("Your payment of %s %s for order %s was captured. Funds are held in escrow until delivery.", order.TotalAmount, order.Currency, order.OrderNumber),
		fmt.Sprintf("Order %s is funded. %s %s is held in escrow for you.", order.OrderNumber, order.SellerAmount, order.Currency),
		notify.Metadata{OrderID: order.ID, Amount: order.TotalAmount.String(), Currency: order.Currency})

	return txn, nil
}

// Get returns a transaction visible to a party of its order.
func (s *Service) Get(ctx context.Context, id, callerID string) (*Transaction, error) {
	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Load(ctx, txn.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(callerID) {
		return nil, orders.ErrNotParticipant
	}
	return txn, nil
}

// ListByOrder returns an order's transactions for a party of the order.
func (s *Service) ListByOrder(ctx context.Context, orderID, callerID string) ([]*Transaction, error) {
	order, err := s.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(callerID) {
		return nil, orders.ErrNotParticipant
	}
	return s.store.ListByOrder(ctx, orderID)
}

func (s *Service) scoreRisk(ctx context.Context, order *orders.Order) *risk.Assessment {
	return s.risk.Score(ctx, &risk.TransactionContext{
		BuyerID:   order.BuyerID,
		SellerID:  order.SellerID,
		OrderID:   order.ID,
		Amount:    order.TotalAmount.InexactFloat64(),
		MaxAmount: s.maxAmt,
	})
}

// recordTransaction persists the capture attempt. result nil means the
// provider was unreachable.
func (s *Service) recordTransaction(ctx context.Context, order *orders.Order, result *gateway.Result, assessment *risk.Assessment, providerErr string) *Transaction {
	now := time.Now()
	txn := &Transaction{
		ID:            idgen.WithPrefix("ptx_"),
		OrderID:       order.ID,
		TransactionID: idgen.WithPrefix("txn_"),
		Type:          TypePayment,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		Backend:       s.gateway.Name(),
		Status:        StatusFailed,
		RiskScore:     assessment.Score,
		FailureReason: providerErr,
		ProcessedAt:   &now,
		CreatedAt:     now,
	}
	if result != nil {
		txn.BackendTxnID = result.TransactionID
		txn.Response = []byte(result.Raw)
		txn.FailureReason = result.Message
		if result.Success {
			txn.Status = StatusCompleted
			txn.FailureReason = ""
			txn.SettledAt = &now
		}
	}
	if err := s.store.Create(ctx, txn); err != nil {
		logging.L(ctx).Error("record payment transaction",
			"order_id", order.ID, "error", err)
	}
	return txn
}

package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playvault/playvault/internal/audit"
	"github.com/playvault/playvault/internal/fees"
	"github.com/playvault/playvault/internal/idgen"
	"github.com/playvault/playvault/internal/listings"
	"github.com/playvault/playvault/internal/logging"
	"github.com/playvault/playvault/internal/metrics"
	"github.com/playvault/playvault/internal/notify"
	"github.com/playvault/playvault/internal/syncutil"
	"github.com/playvault/playvault/internal/traces"
)

// DefaultExpiry is how long an unpaid order stays open.
const DefaultExpiry = 24 * time.Hour

// CreateRequest contains the parameters for creating an order.
type CreateRequest struct {
	ListingID string `json:"listingId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
	Notes     string `json:"notes"`
}

// Service implements the order lifecycle.
type Service struct {
	store    Store
	listings listings.Store
	policy   *fees.Policy
	locks    *syncutil.KeyedMutex
	emitter  *notify.Emitter
	auditor  audit.Logger
	expiry   time.Duration
}

// NewService creates an order service. The keyed mutex must be the shared
// per-order lock set used by payments, escrow, refunds, and disputes.
func NewService(store Store, listingStore listings.Store, policy *fees.Policy, locks *syncutil.KeyedMutex, emitter *notify.Emitter, auditor audit.Logger) *Service {
	return &Service{
		store:    store,
		listings: listingStore,
		policy:   policy,
		locks:    locks,
		emitter:  emitter,
		auditor:  auditor,
		expiry:   DefaultExpiry,
	}
}

// WithExpiry overrides how long unpaid orders stay open.
func (s *Service) WithExpiry(d time.Duration) *Service {
	if d > 0 {
		s.expiry = d
	}
	return s
}

// Create places an order for a listing. Preconditions are checked in order
// and short-circuit on the first failure: listing exists, no self-purchase,
// listing active, quantity available, total within the fee policy window.
func (s *Service) Create(ctx context.Context, buyerID string, req CreateRequest) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "orders.Create", traces.Caller(buyerID))
	defer span.End()

	listing, err := s.listings.Get(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}
	if listing.Status != listings.StatusActive {
		return nil, fmt.Errorf("%w: listing is %s", ErrListingUnavailable, listing.Status)
	}
	if req.Quantity <= 0 || req.Quantity > listing.Quantity {
		return nil, ErrInsufficientStock
	}

	breakdown, err := s.policy.CalculateOrderTotal(listing.UnitPrice, req.Quantity)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	order := &Order{
		ID:             idgen.WithPrefix("ord_"),
		OrderNumber:    idgen.OrderNumber(now),
		BuyerID:        buyerID,
		SellerID:       listing.SellerID,
		ListingID:      listing.ID,
		Quantity:       req.Quantity,
		UnitPrice:      listing.UnitPrice,
		TotalAmount:    breakdown.Total,
		Currency:       breakdown.Currency,
		PlatformFee:    breakdown.PlatformFee,
		ProcessingFee:  breakdown.ProcessingFee,
		SellerAmount:   breakdown.SellerAmount,
		Status:         StatusPending,
		PaymentStatus:  PaymentPending,
		DeliveryStatus: DeliveryPending,
		ExpiresAt:      now.Add(s.expiry),
		BuyerNotes:     req.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Reserve stock before persisting; the guarded decrement is the
	// authoritative quantity check under concurrency.
	if err := s.listings.DecrementQuantity(ctx, listing.ID, req.Quantity); err != nil {
		switch {
		case errors.Is(err, listings.ErrInsufficientQty):
			return nil, ErrInsufficientStock
		case errors.Is(err, listings.ErrListingNotActive):
			return nil, fmt.Errorf("%w: listing no longer active", ErrListingUnavailable)
		}
		return nil, err
	}

	if err := s.store.Create(ctx, order); err != nil {
		// Return the reserved stock if the order record failed.
		if restockErr := s.listings.Restock(ctx, listing.ID, req.Quantity); restockErr != nil {
			logging.L(ctx).Error("restock after failed order create",
				"listing_id", listing.ID, "error", restockErr)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	metrics.OrdersCreatedTotal.Inc()
	audit.Record(ctx, s.auditor, "order.create", "order", order.ID, map[string]any{
		"order_number": order.OrderNumber,
		"listing_id":   listing.ID,
		"quantity":     req.Quantity,
		"total":        order.TotalAmount.String(),
	}, audit.RiskLow)
	s.emitter.EmitBoth(ctx, order.BuyerID, order.SellerID, notify.TypeOrderCreated,
		"Order placed",
		fmt.Sprintf("Your order %s was placed. Total: %s %s.", order.OrderNumber, order.TotalAmount, order.Currency),
		fmt.Sprintf("You received order %s for %q (x%d).", order.OrderNumber, listing.Title, req.Quantity),
		notify.Metadata{OrderID: order.ID, Amount: order.TotalAmount.String(), Currency: order.Currency})

	return order, nil
}

// Get returns an order visible to the caller (buyer or seller only).
func (s *Service) Get(ctx context.Context, id, callerID string) (*Order, error) {
	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(callerID) {
		return nil, ErrNotParticipant
	}
	return order, nil
}

// ListByUser returns orders where the caller is buyer or seller.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

// Cancel cancels an unpaid order. Funded orders must route through refunds.
func (s *Service) Cancel(ctx context.Context, id, callerID, reason string) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "orders.Cancel", traces.OrderID(id), traces.Caller(callerID))
	defer span.End()

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(callerID) {
		return nil, ErrNotParticipant
	}
	if order.PaymentStatus == PaymentPaid {
		return nil, ErrOrderFunded
	}
	if order.Status == StatusCancelled {
		return order, nil
	}
	if !ValidateTransition(order.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, StatusCancelled)
	}

	prev := order.Status
	order.Status = StatusCancelled
	if reason != "" {
		order.SellerNotes = reason
	}
	order.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, order, prev); err != nil {
		return nil, err
	}
	metrics.OrderTransitionsTotal.WithLabelValues(string(StatusCancelled)).Inc()

	if err := s.listings.Restock(ctx, order.ListingID, order.Quantity); err != nil {
		logging.L(ctx).Error("restock after cancel", "order_id", id, "error", err)
	}

	audit.Record(ctx, s.auditor, "order.cancel", "order", order.ID, map[string]any{
		"caller": callerID,
		"reason": reason,
	}, audit.RiskLow)
	s.emitter.EmitBoth(ctx, order.BuyerID, order.SellerID, notify.TypeOrderCancelled,
		"Order cancelled",
		fmt.Sprintf("Order %s was cancelled.", order.OrderNumber),
		fmt.Sprintf("Order %s was cancelled.", order.OrderNumber),
		notify.Metadata{OrderID: order.ID})

	return order, nil
}

// MarkShipped records that the seller shipped the order.
func (s *Service) MarkShipped(ctx context.Context, id, callerID, notes string) (*Order, error) {
	return s.advanceDelivery(ctx, id, callerID, notes, StatusShipped, DeliveryShipped, "order.ship")
}

// MarkDelivered records that the order was delivered to the buyer.
func (s *Service) MarkDelivered(ctx context.Context, id, callerID, notes string) (*Order, error) {
	return s.advanceDelivery(ctx, id, callerID, notes, StatusDelivered, DeliveryDelivered, "order.deliver")
}

func (s *Service) advanceDelivery(ctx context.Context, id, callerID, notes string, to Status, delivery DeliveryStatus, action string) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "orders."+action, traces.OrderID(id), traces.Caller(callerID))
	defer span.End()

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.SellerID != callerID {
		return nil, ErrNotSeller
	}
	if order.Status == to {
		return order, nil
	}
	if !ValidateTransition(order.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, to)
	}

	prev := order.Status
	order.Status = to
	order.DeliveryStatus = delivery
	if notes != "" {
		order.SellerNotes = notes
	}
	order.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, order, prev); err != nil {
		return nil, err
	}
	metrics.OrderTransitionsTotal.WithLabelValues(string(to)).Inc()

	audit.Record(ctx, s.auditor, action, "order", order.ID, map[string]any{
		"delivery_status": string(delivery),
	}, audit.RiskLow)

	return order, nil
}

// Transition applies a status change on behalf of another engine component
// (payments, escrow, refunds, disputes). The caller must already hold the
// order lock; the guarded update still protects against stale state.
func (s *Service) Transition(ctx context.Context, order *Order, to Status, mutate func(*Order)) error {
	if order.Status != to && !ValidateTransition(order.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, to)
	}
	prev := order.Status
	order.Status = to
	if mutate != nil {
		mutate(order)
	}
	order.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, order, prev); err != nil {
		order.Status = prev
		return err
	}
	metrics.OrderTransitionsTotal.WithLabelValues(string(to)).Inc()
	return nil
}

// Lock acquires the shared per-order lock for cross-component operations.
func (s *Service) Lock(ctx context.Context, orderID string) (func(), error) {
	return s.locks.Lock(ctx, orderID)
}

// Load fetches an order without a caller visibility check, for engine
// components that enforce their own role rules.
func (s *Service) Load(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// ExpireSweep cancels unpaid orders whose expiry has passed and restocks
// their listings. Safe to run repeatedly; each order is handled under its
// own lock and re-checked before cancelling.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := s.store.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, candidate := range expired {
		n, err := s.expireOne(ctx, candidate.ID, now)
		if err != nil {
			logging.L(ctx).Error("expire order", "order_id", candidate.ID, "error", err)
			continue
		}
		cancelled += n
	}
	return cancelled, nil
}

func (s *Service) expireOne(ctx context.Context, id string, now time.Time) (int, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	// Re-check under the lock: a capture may have landed since listing.
	if order.Status != StatusPending || order.PaymentStatus == PaymentPaid || order.ExpiresAt.After(now) {
		return 0, nil
	}

	order.Status = StatusCancelled
	order.UpdatedAt = now
	if err := s.store.Update(ctx, order, StatusPending); err != nil {
		if errors.Is(err, ErrStaleOrder) {
			return 0, nil
		}
		return 0, err
	}
	metrics.OrderTransitionsTotal.WithLabelValues(string(StatusCancelled)).Inc()

	if err := s.listings.Restock(ctx, order.ListingID, order.Quantity); err != nil {
		logging.L(ctx).Error("restock after expiry", "order_id", id, "error", err)
	}

	audit.Record(ctx, s.auditor, "order.expire", "order", order.ID, nil, audit.RiskLow)
	s.emitter.Emit(ctx, order.BuyerID, notify.TypeOrderCancelled,
		"Order expired",
		fmt.Sprintf("Order %s expired unpaid after %s and was cancelled.", order.OrderNumber, s.expiry),
		notify.Metadata{OrderID: order.ID})

	return 1, nil
}

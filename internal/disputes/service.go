package disputes

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playvault/playvault/internal/audit"
	"github.com/playvault/playvault/internal/auth"
	"github.com/playvault/playvault/internal/escrow"
	"github.com/playvault/playvault/internal/gateway"
	"github.com/playvault/playvault/internal/idgen"
	"github.com/playvault/playvault/internal/metrics"
	"github.com/playvault/playvault/internal/notify"
	"github.com/playvault/playvault/internal/orders"
	"github.com/playvault/playvault/internal/risk"
	"github.com/playvault/playvault/internal/traces"
)

// OpenInput carries the parameters for opening a dispute.
type OpenInput struct {
	Reason      string   `json:"reason" binding:"required"`
	Description string   `json:"description" binding:"required"`
	Evidence    []string `json:"evidence"`
	// Amount the initiator wants back. Empty means the order total.
	RequestedAmount string `json:"requestedAmount"`
}

// MessageInput is one message posted to a dispute thread.
type MessageInput struct {
	Body string `json:"body" binding:"required"`
	// Internal marks a mediator-only note hidden from the parties.
	Internal bool `json:"internal"`
}

// EscalateInput carries the escalation reason.
type EscalateInput struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveInput is a mediator's final decision.
type ResolveInput struct {
	Resolution string `json:"resolution" binding:"required"`
	// Amount refunded to the buyer, required for partial_refund.
	Amount string `json:"amount"`
	Notes  string `json:"notes"`
}

// Service implements dispute business logic.
type Service struct {
	store   Store
	orders  *orders.Service
	escrow  *escrow.Service
	holds   escrow.Store
	risk    *risk.Engine
	emitter *notify.Emitter
	auditor audit.Logger
}

// NewService creates a dispute service.
func NewService(store Store, orderService *orders.Service, escrowService *escrow.Service, holdStore escrow.Store, riskEngine *risk.Engine, emitter *notify.Emitter, auditor audit.Logger) *Service {
	return &Service{
		store:   store,
		orders:  orderService,
		escrow:  escrowService,
		holds:   holdStore,
		risk:    riskEngine,
		emitter: emitter,
		auditor: auditor,
	}
}

// Open creates a dispute on an order, freezes any escrowed funds and moves
// the order to disputed. Either party may open one.
func (s *Service) Open(ctx context.Context, orderID, callerID string, in OpenInput) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "disputes.Open",
		traces.OrderID(orderID), traces.Caller(callerID))
	defer span.End()

	if !ValidReason(Reason(in.Reason)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, in.Reason)
	}

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
	if !orders.ValidateTransition(order.Status, orders.StatusDisputed) {
		return nil, fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, order.Status, orders.StatusDisputed)
	}

	requested := order.TotalAmount
	if in.RequestedAmount != "" {
		requested, err = decimal.NewFromString(in.RequestedAmount)
		if err != nil || requested.Sign() < 0 || requested.GreaterThan(order.TotalAmount) {
			return nil, fmt.Errorf("%w: bad requested amount %q", ErrInvalidReason, in.RequestedAmount)
		}
	}

	now := time.Now()
	dispute := &Dispute{
		ID:              idgen.WithPrefix("dsp_"),
		OrderID:         orderID,
		InitiatorID:     callerID,
		RespondentID:    order.OtherParty(callerID),
		Reason:          Reason(in.Reason),
		Description:     in.Description,
		Evidence:        in.Evidence,
		RequestedAmount: requested,
		Status:          StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	hold, err := s.holds.GetByOrder(ctx, orderID)
	switch {
	case err == escrow.ErrHoldNotFound:
		hold = nil
	case err != nil:
		return nil, err
	default:
		dispute.EscrowID = hold.ID
	}

	if err := s.store.Create(ctx, dispute); err != nil {
		return nil, err
	}

	if hold != nil && hold.HoldsFunds() {
		prev := hold.Status
		hold.Status = escrow.StatusDisputed
		hold.DisputedAt = &now
		hold.UpdatedAt = now
		if err := s.holds.Update(ctx, hold, prev); err != nil {
			return nil, err
		}
	}

	err = s.orders.Transition(ctx, order, orders.StatusDisputed, func(o *orders.Order) {
		o.DisputeReason = in.Description
	})
	if err != nil {
		return nil, err
	}

	if order.BuyerID == callerID {
		s.risk.RecordDispute(order.BuyerID, order.SellerID)
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusOpen)).Inc()
	audit.Record(ctx, s.auditor, "dispute.open", "dispute", dispute.ID, map[string]any{
		"order_id": orderID,
		"reason":   in.Reason,
	}, audit.RiskMedium)
	s.emitter.Emit(ctx, dispute.RespondentID, notify.TypeDisputeOpened,
		"Dispute opened",
		fmt.Sprintf("A dispute was opened on order %s: %s", order.OrderNumber, in.Reason),
		notify.Metadata{OrderID: orderID, EscrowID: dispute.EscrowID})

	return dispute, nil
}

// Get returns a dispute visible to its parties or a mediator.
func (s *Service) Get(ctx context.Context, id, callerID, callerRole string) (*Dispute, error) {
	dispute, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !dispute.IsParty(callerID) && callerRole != auth.RoleMediator {
		return nil, orders.ErrNotParticipant
	}
	return dispute, nil
}

// ListByUser returns disputes the caller participates in, newest first.
func (s *Service) ListByUser(ctx context.Context, callerID string) ([]*Dispute, error) {
	return s.store.ListByUser(ctx, callerID)
}

// AddMessage appends to a dispute thread. Parties post normal messages;
// mediators may also post internal notes.
func (s *Service) AddMessage(ctx context.Context, disputeID, callerID, callerRole string, in MessageInput) (*Message, error) {
	dispute, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	mediator := callerRole == auth.RoleMediator
	if !dispute.IsParty(callerID) && !mediator {
		return nil, orders.ErrNotParticipant
	}
	if in.Internal && !mediator {
		return nil, ErrInternalOnly
	}
	if !dispute.Status.Active() {
		return nil, fmt.Errorf("%w: dispute is %s", ErrDisputeNotActive, dispute.Status)
	}

	msg := &Message{
		ID:        idgen.WithPrefix("dmsg_"),
		DisputeID: disputeID,
		SenderID:  callerID,
		Body:      in.Body,
		Internal:  in.Internal,
		CreatedAt: time.Now(),
	}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		return nil, err
	}

	if !in.Internal && dispute.Status != StatusEscalated && dispute.Status != StatusAwaitingResponse {
		prev := dispute.Status
		dispute.Status = StatusAwaitingResponse
		dispute.UpdatedAt = msg.CreatedAt
		if err := s.store.Update(ctx, dispute, prev); err != nil {
			return nil, err
		}
	}

	if !in.Internal {
		recipient := dispute.RespondentID
		if callerID == dispute.RespondentID {
			recipient = dispute.InitiatorID
		}
		s.emitter.Emit(ctx, recipient, notify.TypeDisputeMessage,
			"New dispute message",
			fmt.Sprintf("A new message was posted on your dispute %s.", disputeID),
			notify.Metadata{OrderID: dispute.OrderID})
	}

	return msg, nil
}

// Messages returns a dispute's thread. Internal notes are visible only to
// mediators.
func (s *Service) Messages(ctx context.Context, disputeID, callerID, callerRole string) ([]*Message, error) {
	dispute, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	mediator := callerRole == auth.RoleMediator
	if !dispute.IsParty(callerID) && !mediator {
		return nil, orders.ErrNotParticipant
	}
	return s.store.ListMessages(ctx, disputeID, mediator)
}

// Escalate moves an active dispute to mediation. Either party may escalate.
func (s *Service) Escalate(ctx context.Context, disputeID, callerID string, in EscalateInput) (*Dispute, error) {
	dispute, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.IsParty(callerID) {
		return nil, orders.ErrNotParticipant
	}
	if !dispute.Status.Active() {
		return nil, fmt.Errorf("%w: dispute is %s", ErrDisputeNotActive, dispute.Status)
	}
	if dispute.Status == StatusEscalated {
		return dispute, nil
	}

	now := time.Now()
	prev := dispute.Status
	dispute.Status = StatusEscalated
	dispute.EscalatedAt = &now
	dispute.UpdatedAt = now
	if err := s.store.Update(ctx, dispute, prev); err != nil {
		return nil, err
	}

	note := &Message{
		ID:        idgen.WithPrefix("dmsg_"),
		DisputeID: disputeID,
		SenderID:  "system",
		Body:      fmt.Sprintf("Escalated by %s: %s", callerID, in.Reason),
		Internal:  true,
		CreatedAt: now,
	}
	if err := s.store.AddMessage(ctx, note); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusEscalated)).Inc()
	audit.Record(ctx, s.auditor, "dispute.escalate", "dispute", disputeID, map[string]any{
		"order_id": dispute.OrderID,
		"reason":   in.Reason,
	}, audit.RiskMedium)
	s.emitter.EmitBoth(ctx, dispute.InitiatorID, dispute.RespondentID, notify.TypeDisputeEscalated,
		"Dispute escalated",
		fmt.Sprintf("Dispute %s was escalated to mediation.", disputeID),
		fmt.Sprintf("Dispute %s was escalated to mediation.", disputeID),
		notify.Metadata{OrderID: dispute.OrderID})

	return dispute, nil
}

// Resolve applies a mediator's decision: funds move, the hold ends and the
// dispute closes under a single order lock.
func (s *Service) Resolve(ctx context.Context, disputeID, callerID, callerRole string, in ResolveInput) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "disputes.Resolve",
		traces.DisputeID(disputeID), traces.Caller(callerID))
	defer span.End()

	if callerRole != auth.RoleMediator {
		return nil, ErrNotMediator
	}
	resolution := Resolution(in.Resolution)
	if !validResolutions[resolution] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, in.Resolution)
	}

	dispute, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.orders.Lock(ctx, dispute.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	dispute, err = s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.Status.Active() {
		return nil, fmt.Errorf("%w: dispute is %s", ErrDisputeNotActive, dispute.Status)
	}
	order, err := s.orders.Load(ctx, dispute.OrderID)
	if err != nil {
		return nil, err
	}

	var hold *escrow.Hold
	if dispute.EscrowID != "" {
		hold, err = s.holds.Get(ctx, dispute.EscrowID)
		if err != nil {
			return nil, err
		}
		if !hold.HoldsFunds() {
			hold = nil
		}
	}

	if err := s.applyResolution(ctx, order, hold, dispute, resolution, callerID, in); err != nil {
		return nil, err
	}

	now := time.Now()
	prev := dispute.Status
	dispute.Status = StatusResolved
	dispute.Resolution = resolution
	dispute.ResolutionNotes = in.Notes
	dispute.ResolvedBy = callerID
	dispute.ResolvedAt = &now
	dispute.UpdatedAt = now
	if err := s.store.Update(ctx, dispute, prev); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues(string(StatusResolved)).Inc()
	audit.Record(ctx, s.auditor, "dispute.resolve", "dispute", disputeID, map[string]any{
		"order_id":   dispute.OrderID,
		"resolution": string(resolution),
		"notes":      in.Notes,
	}, audit.RiskMedium)
	s.emitter.EmitBoth(ctx, dispute.InitiatorID, dispute.RespondentID, notify.TypeDisputeResolved,
		"Dispute resolved",
		fmt.Sprintf("Dispute %s on order %s was resolved: %s.", disputeID, order.OrderNumber, resolution),
		fmt.Sprintf("Dispute %s on order %s was resolved: %s.", disputeID, order.OrderNumber, resolution),
		notify.Metadata{OrderID: dispute.OrderID, EscrowID: dispute.EscrowID})

	return dispute, nil
}

func (s *Service) applyResolution(ctx context.Context, order *orders.Order, hold *escrow.Hold, dispute *Dispute, resolution Resolution, resolvedBy string, in ResolveInput) error {
	if hold == nil {
		if resolution.Refunding() {
			return ErrNoFundsHeld
		}
		// Nothing escrowed: an unpaid disputed order is cancelled rather
		// than completed.
		return s.orders.Transition(ctx, order, orders.StatusCancelled, nil)
	}

	key := gateway.IdempotencyKey(order.ID, "dispute_refund", dispute.ID)
	switch resolution {
	case ResolutionFullRefund, ResolutionFavorBuyer:
		return s.escrow.RefundAll(ctx, order, hold, key, string(resolution))
	case ResolutionPartialRefund:
		amount, err := decimal.NewFromString(in.Amount)
		if err != nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: partial_refund needs a positive amount", ErrInvalidResolution)
		}
		return s.escrow.PartialRefund(ctx, order, hold, amount, key, string(resolution))
	case ResolutionFavorSeller:
		return s.escrow.ReleaseAll(ctx, order, hold, string(resolution), resolvedBy, orders.StatusCompleted)
	default:
		// replacement, store_credit, no_action: no transfer through this
		// engine, the hold closes and the order completes.
		return s.escrow.CloseHold(ctx, order, hold, string(resolution), orders.StatusCompleted)
	}
}

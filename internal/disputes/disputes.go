package disputes

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrDisputeNotFound   = errors.New("disputes: dispute not found")
	ErrDisputeExists     = errors.New("disputes: order already has an active dispute")
	ErrDisputeNotActive  = errors.New("disputes: dispute has been resolved or closed")
	ErrStaleDispute      = errors.New("disputes: dispute changed concurrently")
	ErrInvalidReason     = errors.New("disputes: unknown dispute reason")
	ErrInvalidResolution = errors.New("disputes: unknown resolution")
	ErrNotMediator       = errors.New("disputes: resolution requires a mediator")
	ErrInternalOnly      = errors.New("disputes: internal messages are mediator-only")
	ErrNoFundsHeld       = errors.New("disputes: no escrowed funds to move")
)

// Reason categorizes why a dispute was opened.
type Reason string

const (
	ReasonItemNotReceived    Reason = "item_not_received"
	ReasonItemNotAsDescribed Reason = "item_not_as_described"
	ReasonItemDamaged        Reason = "item_damaged"
	ReasonWrongItem          Reason = "wrong_item"
	ReasonUnresponsiveParty  Reason = "unresponsive_party"
	ReasonPaymentIssue       Reason = "payment_issue"
	ReasonShippingIssue      Reason = "shipping_issue"
	ReasonQualityIssue       Reason = "quality_issue"
	ReasonOther              Reason = "other"
)

var validReasons = map[Reason]bool{
	ReasonItemNotReceived:    true,
	ReasonItemNotAsDescribed: true,
	ReasonItemDamaged:        true,
	ReasonWrongItem:          true,
	ReasonUnresponsiveParty:  true,
	ReasonPaymentIssue:       true,
	ReasonShippingIssue:      true,
	ReasonQualityIssue:       true,
	ReasonOther:              true,
}

// ValidReason reports whether r is a known dispute reason.
func ValidReason(r Reason) bool { return validReasons[r] }

// Status tracks a dispute through its lifecycle.
type Status string

const (
	StatusOpen             Status = "open"
	StatusUnderReview      Status = "under_review"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusEscalated        Status = "escalated"
	StatusResolved         Status = "resolved"
	StatusClosed           Status = "closed"
)

// Active reports whether the dispute still accepts messages and resolution.
func (s Status) Active() bool {
	return s != StatusResolved && s != StatusClosed
}

// Resolution is a mediator's final decision on a dispute.
type Resolution string

const (
	ResolutionFullRefund    Resolution = "full_refund"
	ResolutionPartialRefund Resolution = "partial_refund"
	ResolutionFavorBuyer    Resolution = "favor_buyer"
	ResolutionFavorSeller   Resolution = "favor_seller"
	ResolutionReplacement   Resolution = "replacement"
	ResolutionStoreCredit   Resolution = "store_credit"
	ResolutionNoAction      Resolution = "no_action"
)

var validResolutions = map[Resolution]bool{
	ResolutionFullRefund:    true,
	ResolutionPartialRefund: true,
	ResolutionFavorBuyer:    true,
	ResolutionFavorSeller:   true,
	ResolutionReplacement:   true,
	ResolutionStoreCredit:   true,
	ResolutionNoAction:      true,
}

// Refunding reports whether the resolution moves escrowed money back to
// the buyer.
func (r Resolution) Refunding() bool {
	return r == ResolutionFullRefund || r == ResolutionFavorBuyer || r == ResolutionPartialRefund
}

// Dispute is a formal disagreement between an order's parties.
type Dispute struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"orderId"`
	EscrowID        string          `json:"escrowId,omitempty"`
	InitiatorID     string          `json:"initiatorId"`
	RespondentID    string          `json:"respondentId"`
	Reason          Reason          `json:"reason"`
	Description     string          `json:"description"`
	Evidence        []string        `json:"evidence,omitempty"`
	RequestedAmount decimal.Decimal `json:"requestedAmount"`
	Status          Status          `json:"status"`
	Resolution      Resolution      `json:"resolution,omitempty"`
	ResolutionNotes string          `json:"resolutionNotes,omitempty"`
	ResolvedBy      string          `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
	EscalatedAt     *time.Time      `json:"escalatedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// IsParty reports whether userID is the initiator or the respondent.
func (d *Dispute) IsParty(userID string) bool {
	return userID == d.InitiatorID || userID == d.RespondentID
}

// Message is one entry in a dispute's conversation thread. Internal
// messages are mediator notes hidden from the parties.
type Message struct {
	ID        string    `json:"id"`
	DisputeID string    `json:"disputeId"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"body"`
	Internal  bool      `json:"internal,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists disputes and their message threads.
type Store interface {
	// Create inserts a dispute. An order with an active dispute returns
	// ErrDisputeExists.
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	// GetActiveByOrder returns the order's unresolved dispute, if any.
	GetActiveByOrder(ctx context.Context, orderID string) (*Dispute, error)
	ListByUser(ctx context.Context, userID string) ([]*Dispute, error)
	// Update overwrites a dispute whose current status matches expected.
	// A mismatch returns ErrStaleDispute and writes nothing.
	Update(ctx context.Context, d *Dispute, expected Status) error

	AddMessage(ctx context.Context, m *Message) error
	// ListMessages returns the thread oldest first. Internal messages are
	// included only when includeInternal is set.
	ListMessages(ctx context.Context, disputeID string, includeInternal bool) ([]*Message, error)
}

// Package orders implements the order lifecycle manager.
//
// An order is created in pending status against an active listing, funded by
// a payment capture, fulfilled through shipped/delivered, and closed by
// escrow release, refund, or dispute resolution. Transition legality is
// table-driven (see status.go); stores enforce compare-and-set updates so a
// stale writer never clobbers a concurrent transition.
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound      = errors.New("orders: order not found")
	ErrSelfPurchase       = errors.New("orders: cannot purchase own listing")
	ErrInsufficientStock  = errors.New("orders: requested quantity exceeds stock")
	ErrInvalidTransition  = errors.New("orders: illegal status transition")
	ErrStaleOrder         = errors.New("orders: order changed concurrently")
	ErrNotBuyer           = errors.New("orders: caller is not the buyer")
	ErrNotSeller          = errors.New("orders: caller is not the seller")
	ErrNotParticipant     = errors.New("orders: caller is not a party to the order")
	ErrOrderFunded        = errors.New("orders: funded order cannot be cancelled, request a refund")
	ErrOrderExpired       = errors.New("orders: order has expired")
	ErrListingUnavailable = errors.New("orders: listing is not available for purchase")
)

// Order is a purchase agreement between a buyer and a seller.
type Order struct {
	ID            string          `json:"id"`
	OrderNumber   string          `json:"orderNumber"`
	BuyerID       string          `json:"buyerId"`
	SellerID      string          `json:"sellerId"`
	ListingID     string          `json:"listingId"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Currency      string          `json:"currency"`
	PlatformFee   decimal.Decimal `json:"platformFee"`
	ProcessingFee decimal.Decimal `json:"processingFee"`
	SellerAmount  decimal.Decimal `json:"sellerAmount"`

	Status         Status         `json:"status"`
	PaymentStatus  PaymentStatus  `json:"paymentStatus"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus"`

	ExpiresAt     time.Time `json:"expiresAt"`
	BuyerNotes    string    `json:"buyerNotes,omitempty"`
	SellerNotes   string    `json:"sellerNotes,omitempty"`
	DisputeReason string    `json:"disputeReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsParty reports whether userID is the buyer or the seller.
func (o *Order) IsParty(userID string) bool {
	return userID == o.BuyerID || userID == o.SellerID
}

// OtherParty returns the counterparty of userID, or "" if not a party.
func (o *Order) OtherParty(userID string) string {
	switch userID {
	case o.BuyerID:
		return o.SellerID
	case o.SellerID:
		return o.BuyerID
	}
	return ""
}

// Store persists orders.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error)

	// Update persists o only if the stored status still equals expected.
	// A mismatch returns ErrStaleOrder and writes nothing.
	Update(ctx context.Context, o *Order, expected Status) error

	// ListExpired returns pending orders whose expiry passed before the
	// given time, oldest first, for the expiry sweep.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Order, error)
}

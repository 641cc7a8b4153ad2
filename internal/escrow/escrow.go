// Package escrow provides buyer protection for marketplace orders.
//
// Flow:
//  1. Payment capture completes → hold opens for the captured amount
//  2. Seller delivers → buyer releases the hold, funds move to the seller
//  3. Either party objects → hold moves to disputed, pending resolution
//  4. Auto-release deadline passes on a delivered order → funds move to
//     the seller without buyer action
//
// Exactly one hold holding funds exists per order at any time, and a hold's
// terminal transition has exactly one winner: stores enforce compare-and-set
// updates and services operate under the shared per-order lock.
package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrHoldNotFound      = errors.New("escrow: hold not found")
	ErrHoldExists        = errors.New("escrow: order already has an active hold")
	ErrHoldNotActive     = errors.New("escrow: hold is not in a releasable state")
	ErrStaleHold         = errors.New("escrow: hold changed concurrently")
	ErrPartialNotAllowed = errors.New("escrow: only full release of the remaining amount is supported")
	ErrNotDelivered      = errors.New("escrow: order has not been delivered")
	ErrAmountExceedsHold = errors.New("escrow: amount exceeds the held balance")
)

// Status represents the state of an escrow hold.
type Status string

const (
	StatusHeld           Status = "held"
	StatusPartialRelease Status = "partial_release"
	StatusReleased       Status = "released"
	StatusDisputed       Status = "disputed"
	StatusExpired        Status = "expired"
	StatusRefunded       Status = "refunded"
)

// DefaultAutoRelease is how long a hold waits after delivery before funds
// auto-release to the seller.
const DefaultAutoRelease = 72 * time.Hour

// Hold is funds captured from the buyer, not yet paid out.
type Hold struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"orderId"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Remaining     decimal.Decimal `json:"remaining"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	AutoReleaseAt *time.Time      `json:"autoReleaseAt,omitempty"`
	ReleaseReason string          `json:"releaseReason,omitempty"`
	ReleasedBy    string          `json:"releasedBy,omitempty"`
	ReleasedAt    *time.Time      `json:"releasedAt,omitempty"`
	DisputedAt    *time.Time      `json:"disputedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// HoldsFunds reports whether the hold still retains escrowed money.
func (h *Hold) HoldsFunds() bool {
	switch h.Status {
	case StatusHeld, StatusPartialRelease, StatusDisputed:
		return true
	}
	return false
}

// Releasable reports whether a party-initiated release or dispute may act
// on the hold.
func (h *Hold) Releasable() bool {
	return h.Status == StatusHeld || h.Status == StatusPartialRelease
}

// Store persists escrow holds.
type Store interface {
	// Create inserts a hold. An existing fund-holding hold for the same
	// order returns ErrHoldExists.
	Create(ctx context.Context, h *Hold) error
	Get(ctx context.Context, id string) (*Hold, error)

	// GetByOrder returns the order's most recent hold.
	GetByOrder(ctx context.Context, orderID string) (*Hold, error)

	// Update persists h only if the stored status still equals expected.
	// A mismatch returns ErrStaleHold and writes nothing.
	Update(ctx context.Context, h *Hold, expected Status) error

	// SumHeld returns the total remaining balance across fund-holding holds.
	SumHeld(ctx context.Context) (decimal.Decimal, error)

	// ListAutoReleasable returns releasable holds whose deadline passed
	// before the given time, oldest first.
	ListAutoReleasable(ctx context.Context, before time.Time, limit int) ([]*Hold, error)
}

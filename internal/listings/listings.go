// Package listings holds the minimal listing read model the custody engine
// needs for purchase preconditions. Catalog management (search, images,
// categories) lives in a separate service; the engine only checks seller,
// price, status, and remaining quantity, and adjusts stock as orders move.
package listings

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrListingNotFound  = errors.New("listings: listing not found")
	ErrInsufficientQty  = errors.New("listings: insufficient quantity")
	ErrListingNotActive = errors.New("listings: listing not active")
)

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusActive    Status = "active"
	StatusSoldOut   Status = "sold_out"
	StatusSuspended Status = "suspended"
	StatusRemoved   Status = "removed"
)

// Listing is a sellable item on the marketplace.
type Listing struct {
	ID        string          `json:"id"`
	SellerID  string          `json:"sellerId"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Currency  string          `json:"currency"`
	Quantity  int             `json:"quantity"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store persists listings.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error)

	// DecrementQuantity atomically reduces stock by qty. Fails with
	// ErrListingNotActive or ErrInsufficientQty when the listing cannot
	// cover the purchase; reaching zero flips status to sold_out.
	DecrementQuantity(ctx context.Context, id string, qty int) error

	// Restock returns qty units to the listing (order cancelled/refunded
	// before shipment) and reactivates a sold_out listing.
	Restock(ctx context.Context, id string, qty int) error
}

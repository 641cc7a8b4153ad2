// Package receipts issues signed proof documents for money movements.
//
// Every capture and completed refund produces an HMAC-signed receipt that
// either party can fetch and independently verify later, even after the
// order itself is archived. Receipts are write-once; a disputed amount is
// argued against the receipt, never by editing it.
package receipts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrSigningDisabled = errors.New("receipts: signing disabled (no secret configured)")
)

// Kind classifies which movement the receipt documents.
type Kind string

const (
	KindCapture Kind = "capture"
	KindRefund  Kind = "refund"
)

// Receipt is signed proof that the platform moved money for an order.
type Receipt struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"orderId"`
	Kind          Kind      `json:"kind"`
	TransactionID string    `json:"transactionId"`
	BuyerID       string    `json:"buyerId"`
	SellerID      string    `json:"sellerId"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Backend       string    `json:"backend"`
	PayloadHash   string    `json:"payloadHash"`
	Signature     string    `json:"signature"`
	IssuedAt      time.Time `json:"issuedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// IsParty reports whether userID is the buyer or seller on the receipt.
func (r *Receipt) IsParty(userID string) bool {
	return r.BuyerID == userID || r.SellerID == userID
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Expired   bool   `json:"expired,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Store persists receipts.
type Store interface {
	Create(ctx context.Context, r *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Receipt, error)
}

// receiptPayload is the canonical struct signed by HMAC. Field order must
// stay stable; JSON marshalling of a struct follows declaration order.
type receiptPayload struct {
	Amount        string `json:"amount"`
	Backend       string `json:"backend"`
	BuyerID       string `json:"buyerId"`
	Currency      string `json:"currency"`
	Kind          string `json:"kind"`
	OrderID       string `json:"orderId"`
	SellerID      string `json:"sellerId"`
	TransactionID string `json:"transactionId"`
}

func payloadFor(r *Receipt) receiptPayload {
	return receiptPayload{
		Amount:        r.Amount,
		Backend:       r.Backend,
		BuyerID:       r.BuyerID,
		Currency:      r.Currency,
		Kind:          string(r.Kind),
		OrderID:       r.OrderID,
		SellerID:      r.SellerID,
		TransactionID: r.TransactionID,
	}
}

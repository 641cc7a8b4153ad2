// Package notify produces typed payment notifications for the external
// delivery subsystem. The engine persists each notification and hands it to
// an emitter; transport (email, push, in-app delivery) happens elsewhere.
package notify

import (
	"context"
	"errors"
	"time"
)

var ErrNotificationNotFound = errors.New("notify: notification not found")

// Type identifies a notification event.
type Type string

const (
	TypeOrderCreated     Type = "order.created"
	TypeOrderCancelled   Type = "order.cancelled"
	TypePaymentCaptured  Type = "payment.captured"
	TypePaymentFailed    Type = "payment.failed"
	TypeEscrowOpened     Type = "escrow.opened"
	TypeEscrowReleased   Type = "escrow.released"
	TypeEscrowDisputed   Type = "escrow.disputed"
	TypeRefundRequested  Type = "refund.requested"
	TypeRefundApproved   Type = "refund.approved"
	TypeRefundRejected   Type = "refund.rejected"
	TypeRefundCompleted  Type = "refund.completed"
	TypeDisputeOpened    Type = "dispute.opened"
	TypeDisputeMessage   Type = "dispute.message"
	TypeDisputeEscalated Type = "dispute.escalated"
	TypeDisputeResolved  Type = "dispute.resolved"
)

// Metadata carries the structured payload attached to a notification.
type Metadata struct {
	OrderID  string `json:"orderId,omitempty"`
	EscrowID string `json:"escrowId,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// Notification is a single message to a user.
type Notification struct {
	ID        string     `json:"id"`
	Recipient string     `json:"recipient"`
	OrderID   string     `json:"orderId,omitempty"`
	Type      Type       `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Metadata  Metadata   `json:"metadata"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListByRecipient(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id, recipient string) error
}

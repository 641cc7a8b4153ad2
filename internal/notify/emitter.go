package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/playvault/playvault/internal/idgen"
	"github.com/playvault/playvault/internal/metrics"
)

// Emitter persists notifications and counts them. All methods are
// fire-and-forget: failures are logged, never returned, so a notification
// problem cannot abort the financial action that produced it.
type Emitter struct {
	store  Store
	logger *slog.Logger
}

// NewEmitter creates a notification emitter.
func NewEmitter(store Store, logger *slog.Logger) *Emitter {
	return &Emitter{store: store, logger: logger}
}

// Emit persists a typed notification for the recipient.
func (e *Emitter) Emit(ctx context.Context, recipient string, typ Type, title, message string, meta Metadata) {
	if e == nil || e.store == nil {
		return
	}
	metrics.NotificationsTotal.WithLabelValues(string(typ)).Inc()

	n := &Notification{
		ID:        idgen.WithPrefix("ntf_"),
		Recipient: recipient,
		OrderID:   meta.OrderID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}
	if err := e.store.Create(ctx, n); err != nil {
		e.logger.Warn("notification emit failed",
			"type", typ, "recipient", recipient, "order_id", meta.OrderID, "error", err)
	}
}

// EmitBoth sends the same event to buyer and seller with per-party text.
func (e *Emitter) EmitBoth(ctx context.Context, buyer, seller string, typ Type, title, buyerMsg, sellerMsg string, meta Metadata) {
	e.Emit(ctx, buyer, typ, title, buyerMsg, meta)
	e.Emit(ctx, seller, typ, title, sellerMsg, meta)
}

// Package audit provides the append-only audit trail for financial actions.
//
// Every mutating engine operation records one entry: who acted, what they
// did, on which resource, and at what risk level. Entries are never updated
// or deleted; corrections are new entries.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// RiskLevel grades an audit entry for review triage.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type contextKey string

const (
	ctxActorType contextKey = "audit_actor_type"
	ctxActorID   contextKey = "audit_actor_id"
	ctxIPAddress contextKey = "audit_ip"
	ctxRequestID contextKey = "audit_request_id"
)

// WithActor attaches actor info to the context for audit logging.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = context.WithValue(ctx, ctxActorType, actorType)
	ctx = context.WithValue(ctx, ctxActorID, actorID)
	return ctx
}

// WithIP attaches the client IP for audit logging.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxIPAddress, ip)
}

// WithRequestID attaches a request ID for audit correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestID, requestID)
}

func actorFromCtx(ctx context.Context) (actorType, actorID, ip, requestID string) {
	if v, ok := ctx.Value(ctxActorType).(string); ok {
		actorType = v
	} else {
		actorType = "system"
	}
	if v, ok := ctx.Value(ctxActorID).(string); ok {
		actorID = v
	}
	if v, ok := ctx.Value(ctxIPAddress).(string); ok {
		ip = v
	}
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		requestID = v
	}
	return
}

// Entry represents a single audit log record.
type Entry struct {
	ID         int64     `json:"id"`
	ActorType  string    `json:"actorType"` // "user", "mediator", "system"
	ActorID    string    `json:"actorId,omitempty"`
	Action     string    `json:"action"`   // e.g. "order.create", "escrow.release"
	Resource   string    `json:"resource"` // entity kind
	ResourceID string    `json:"resourceId"`
	Metadata   string    `json:"metadata,omitempty"` // JSON object
	RiskLevel  RiskLevel `json:"riskLevel"`
	RequestID  string    `json:"requestId,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Logger persists audit entries.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, resource, resourceID string, from, to time.Time, limit int) ([]*Entry, error)
}

// Record builds an entry from context actor info and persists it.
// Audit failures must never abort the financial action that triggered them,
// so the error is returned for logging only.
func Record(ctx context.Context, l Logger, action, resource, resourceID string, metadata map[string]any, level RiskLevel) error {
	if l == nil {
		return nil
	}
	actorType, actorID, ip, requestID := actorFromCtx(ctx)

	var meta string
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err == nil {
			meta = string(b)
		}
	}
	if level == "" {
		level = RiskLow
	}

	return l.Log(ctx, &Entry{
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Metadata:   meta,
		RiskLevel:  level,
		RequestID:  requestID,
		IPAddress:  ip,
		CreatedAt:  time.Now(),
	})
}

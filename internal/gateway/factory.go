package gateway

import (
	"log/slog"
)

// FallbackPolicy decides what happens when the configured backend cannot be
// constructed. The engine deliberately prefers availability over strictness:
// a missing credential at startup substitutes the simulator (with a warning)
// instead of refusing to boot. Substitution happens once, at construction —
// never silently mid-operation.
type FallbackPolicy struct {
	logger *slog.Logger
}

// NewFallbackPolicy creates the startup substitution policy.
func NewFallbackPolicy(logger *slog.Logger) *FallbackPolicy {
	return &FallbackPolicy{logger: logger}
}

// Substitute logs the reason the requested backend is unavailable and
// returns the simulator in its place.
func (p *FallbackPolicy) Substitute(requested, reason string) Gateway {
	p.logger.Warn("payment backend unavailable, substituting simulator",
		"requested", requested,
		"reason", reason,
	)
	return NewSimulated()
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend         string // "simulated", "stripe", "bank_transfer"
	StripeSecretKey string
}

// NewFromConfig constructs the configured backend, applying the fallback
// policy when construction is impossible. The returned gateway is always
// usable.
func NewFromConfig(cfg Config, fallback *FallbackPolicy, logger *slog.Logger) Gateway {
	switch cfg.Backend {
	case "stripe":
		if cfg.StripeSecretKey == "" {
			return fallback.Substitute("stripe", "STRIPE_SECRET_KEY not set")
		}
		logger.Info("payment backend configured", "backend", "stripe")
		// Stripe calls cross the network; the deterministic backends do not.
		return Resilience(NewStripe(cfg.StripeSecretKey), nil)
	case "bank_transfer":
		// Constructible but unimplemented: every call reports not_implemented.
		logger.Info("payment backend configured", "backend", "bank_transfer")
		return NewBankTransfer()
	case "simulated", "":
		logger.Info("payment backend configured", "backend", "simulated")
		return NewSimulated()
	default:
		return fallback.Substitute(cfg.Backend, "unknown backend")
	}
}

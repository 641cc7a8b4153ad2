package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playvault/playvault/internal/circuitbreaker"
	"github.com/playvault/playvault/internal/retry"
)

// ErrBackendUnavailable is returned when the circuit to the backend is open.
var ErrBackendUnavailable = errors.New("gateway: backend unavailable")

const (
	retryAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
)

// Resilient wraps a Gateway with a circuit breaker and retries.
//
// Only transport errors count against the circuit and get retried. A decline
// comes back as an unsuccessful Result with a nil error, so it passes through
// untouched. Retries are safe because every mutating call carries an
// idempotency key.
type Resilient struct {
	inner   Gateway
	breaker *circuitbreaker.Breaker
}

// Resilience wraps the given backend. A nil breaker gets a default one.
func Resilience(g Gateway, breaker *circuitbreaker.Breaker) *Resilient {
	if breaker == nil {
		breaker = circuitbreaker.New(5, 30*time.Second)
	}
	return &Resilient{inner: g, breaker: breaker}
}

func (r *Resilient) Name() string { return r.inner.Name() }

// permanent reports whether err is a definitive backend answer rather than
// an outage. Those must not be retried or trip the circuit.
func permanent(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrInvalidMethod)
}

// call runs fn with retries under the backend's circuit.
func (r *Resilient) call(ctx context.Context, fn func() (*Result, error)) (*Result, error) {
	key := r.inner.Name()
	if !r.breaker.Allow(key) {
		return nil, ErrBackendUnavailable
	}

	var res *Result
	err := retry.Do(ctx, retryAttempts, retryBaseDelay, func() error {
		var callErr error
		res, callErr = fn()
		if callErr != nil && permanent(callErr) {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	if err != nil {
		if permanent(err) {
			r.breaker.RecordSuccess(key)
			return res, err
		}
		r.breaker.RecordFailure(key)
		return res, err
	}
	r.breaker.RecordSuccess(key)
	return res, nil
}

func (r *Resilient) ProcessPayment(ctx context.Context, req ProcessRequest) (*Result, error) {
	return r.call(ctx, func() (*Result, error) { return r.inner.ProcessPayment(ctx, req) })
}

func (r *Resilient) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error) {
	return r.call(ctx, func() (*Result, error) {
		return r.inner.CapturePayment(ctx, transactionID, amount, idempotencyKey)
	})
}

func (r *Resilient) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error) {
	return r.call(ctx, func() (*Result, error) {
		return r.inner.RefundPayment(ctx, transactionID, amount, idempotencyKey)
	})
}

func (r *Resilient) GetTransactionStatus(ctx context.Context, transactionID string) (*Result, error) {
	return r.call(ctx, func() (*Result, error) { return r.inner.GetTransactionStatus(ctx, transactionID) })
}

func (r *Resilient) ValidatePaymentMethod(ctx context.Context, ref string) error {
	key := r.inner.Name()
	if !r.breaker.Allow(key) {
		return ErrBackendUnavailable
	}
	err := r.inner.ValidatePaymentMethod(ctx, ref)
	// A rejected payment method is a definitive answer, not an outage.
	r.breaker.RecordSuccess(key)
	return err
}

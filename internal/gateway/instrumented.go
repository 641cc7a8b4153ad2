package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/playvault/playvault/internal/metrics"
)

// Instrumented wraps a Gateway with Prometheus counters per call.
type Instrumented struct {
	inner Gateway
}

// Instrument wraps the given backend with metrics.
func Instrument(g Gateway) *Instrumented {
	return &Instrumented{inner: g}
}

func (i *Instrumented) Name() string { return i.inner.Name() }

func (i *Instrumented) count(action string, res *Result, err error) {
	result := "success"
	switch {
	case err != nil:
		result = "error"
	case res != nil && !res.Success:
		result = string(res.Outcome)
	}
	metrics.PaymentsTotal.WithLabelValues(i.inner.Name(), action, result).Inc()
}

func (i *Instrumented) ProcessPayment(ctx context.Context, req ProcessRequest) (*Result, error) {
	res, err := i.inner.ProcessPayment(ctx, req)
	i.count("process", res, err)
	return res, err
}

func (i *Instrumented) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error) {
	res, err := i.inner.CapturePayment(ctx, transactionID, amount, idempotencyKey)
	i.count("capture", res, err)
	return res, err
}

func (i *Instrumented) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error) {
	res, err := i.inner.RefundPayment(ctx, transactionID, amount, idempotencyKey)
	i.count("refund", res, err)
	return res, err
}

func (i *Instrumented) GetTransactionStatus(ctx context.Context, transactionID string) (*Result, error) {
	res, err := i.inner.GetTransactionStatus(ctx, transactionID)
	i.count("status", res, err)
	return res, err
}

func (i *Instrumented) ValidatePaymentMethod(ctx context.Context, ref string) error {
	err := i.inner.ValidatePaymentMethod(ctx, ref)
	i.count("validate_method", nil, err)
	return err
}

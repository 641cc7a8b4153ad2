package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// Stripe is the production payment backend, driving PaymentIntents and
// Refunds through the Stripe API. Declines come back as Result values with
// the provider's reason; only transport-level failures return an error.
type Stripe struct {
	api *client.API
}

// NewStripe creates the Stripe backend with the given secret key.
func NewStripe(secretKey string) *Stripe {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Stripe{api: api}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) ProcessPayment(ctx context.Context, req ProcessRequest) (*Result, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(req.IdempotencyKey),
		},
		Amount:        stripe.Int64(toCents(req.Amount)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("order_ref", req.OrderRef)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return stripeFailure(err)
	}

	return &Result{
		Success:       pi.Status == stripe.PaymentIntentStatusSucceeded,
		Outcome:       OutcomeApproved,
		TransactionID: pi.ID,
		Status:        mapIntentStatus(pi.Status),
		Raw:           string(pi.LastResponse.RawJSON),
	}, nil
}

func (s *Stripe) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error) {
	params := &stripe.PaymentIntentCaptureParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(idempotencyKey),
		},
		AmountToCapture: stripe.Int64(toCents(amount)),
	}

	pi, err := s.api.PaymentIntents.Capture(transactionID, params)
	if err != nil {
		return stripeFailure(err)
	}

	return &Result{
		Success:       pi.Status == stripe.PaymentIntentStatusSucceeded,
		Outcome:       OutcomeApproved,
		TransactionID: pi.ID,
		Status:        mapIntentStatus(pi.Status),
		Raw:           string(pi.LastResponse.RawJSON),
	}, nil
}

func (s *Stripe) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, idempotencyKey string) (*Result, error) {
	params := &stripe.RefundParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(idempotencyKey),
		},
		PaymentIntent: stripe.String(transactionID),
		Amount:        stripe.Int64(toCents(amount)),
	}

	re, err := s.api.Refunds.New(params)
	if err != nil {
		return stripeFailure(err)
	}

	status := StatusProcessing
	if re.Status == stripe.RefundStatusSucceeded {
		status = StatusCompleted
	} else if re.Status == stripe.RefundStatusFailed {
		status = StatusFailed
	}

	return &Result{
		Success:       re.Status == stripe.RefundStatusSucceeded || re.Status == stripe.RefundStatusPending,
		Outcome:       OutcomeApproved,
		TransactionID: re.ID,
		Status:        status,
		Raw:           string(re.LastResponse.RawJSON),
	}, nil
}

func (s *Stripe) GetTransactionStatus(ctx context.Context, transactionID string) (*Result, error) {
	params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}
	pi, err := s.api.PaymentIntents.Get(transactionID, params)
	if err != nil {
		return stripeFailure(err)
	}
	return &Result{
		Success:       pi.Status == stripe.PaymentIntentStatusSucceeded,
		Outcome:       OutcomeApproved,
		TransactionID: pi.ID,
		Status:        mapIntentStatus(pi.Status),
	}, nil
}

func (s *Stripe) ValidatePaymentMethod(ctx context.Context, ref string) error {
	if ref == "" {
		return ErrInvalidMethod
	}
	params := &stripe.PaymentMethodParams{Params: stripe.Params{Context: ctx}}
	if _, err := s.api.PaymentMethods.Get(ref, params); err != nil {
		return ErrInvalidMethod
	}
	return nil
}

// stripeFailure maps a Stripe API error to a declined Result where the
// failure is the card or request's fault, and a real error otherwise.
func stripeFailure(err error) (*Result, error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return &Result{
				Success: false,
				Outcome: OutcomeDeclined,
				Status:  StatusFailed,
				Message: string(stripeErr.Code) + ": " + stripeErr.Msg,
				Raw:     string(stripeErr.LastResponse.RawJSON),
			}, nil
		}
	}
	return nil, err
}

func mapIntentStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCompleted
	case stripe.PaymentIntentStatusProcessing:
		return StatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return StatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusRequiresAction:
		return StatusFailed
	default:
		return StatusPending
	}
}

// toCents converts a two-decimal amount to integer minor units.
func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

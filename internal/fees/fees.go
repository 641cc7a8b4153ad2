// Package fees implements the platform fee policy.
//
// The canonical formula is buyer-pays-on-top: the buyer's total is
// subtotal + platformFee + processingFee and the seller receives the full
// subtotal. Fees are computed from the subtotal, floored at a minimum fee,
// and rounded half-up to two decimal places. All calculations are pure.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount    = errors.New("fees: amount must be a positive decimal")
	ErrAmountOutOfRange = errors.New("fees: amount outside allowed transaction window")
)

// Default policy parameters.
const (
	DefaultPlatformRate   = "0.05"
	DefaultProcessingRate = "0.029"
	DefaultMinimumFee     = "0.30"
	DefaultMinTransaction = "0.50"
	DefaultMaxTransaction = "10000"
)

// Breakdown is the result of applying the fee policy to a base amount.
type Breakdown struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	PlatformFee   decimal.Decimal `json:"platformFee"`
	ProcessingFee decimal.Decimal `json:"processingFee"`
	Total         decimal.Decimal `json:"total"`
	SellerAmount  decimal.Decimal `json:"sellerAmount"`
	Currency      string          `json:"currency"`
}

// Policy computes platform and processing fees from a base price.
type Policy struct {
	platformRate   decimal.Decimal
	processingRate decimal.Decimal
	minimumFee     decimal.Decimal
	minTransaction decimal.Decimal
	maxTransaction decimal.Decimal
	currency       string
}

// New creates a fee policy from decimal strings. Returns an error if any
// parameter fails to parse or the window is inverted.
func New(platformRate, processingRate, minimumFee, minTransaction, maxTransaction, currency string) (*Policy, error) {
	parse := func(name, s string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("fees: invalid %s %q: %w", name, s, err)
		}
		return d, nil
	}

	p := &Policy{currency: currency}
	var err error
	if p.platformRate, err = parse("platform rate", platformRate); err != nil {
		return nil, err
	}
	if p.processingRate, err = parse("processing rate", processingRate); err != nil {
		return nil, err
	}
	if p.minimumFee, err = parse("minimum fee", minimumFee); err != nil {
		return nil, err
	}
	if p.minTransaction, err = parse("min transaction", minTransaction); err != nil {
		return nil, err
	}
	if p.maxTransaction, err = parse("max transaction", maxTransaction); err != nil {
		return nil, err
	}

	if p.platformRate.IsNegative() || p.processingRate.IsNegative() || p.minimumFee.IsNegative() {
		return nil, fmt.Errorf("fees: rates and minimum fee must be non-negative")
	}
	if p.minTransaction.GreaterThan(p.maxTransaction) {
		return nil, fmt.Errorf("fees: min transaction %s exceeds max %s", p.minTransaction, p.maxTransaction)
	}
	return p, nil
}

// Default returns the policy with default rates and window.
func Default() *Policy {
	p, err := New(DefaultPlatformRate, DefaultProcessingRate, DefaultMinimumFee,
		DefaultMinTransaction, DefaultMaxTransaction, "USD")
	if err != nil {
		panic("fees: default policy: " + err.Error())
	}
	return p
}

// Currency returns the policy's currency code.
func (p *Policy) Currency() string { return p.currency }

// WithinBounds returns ErrAmountOutOfRange if amount falls outside the
// configured [minTransaction, maxTransaction] window.
func (p *Policy) WithinBounds(amount decimal.Decimal) error {
	if amount.LessThan(p.minTransaction) || amount.GreaterThan(p.maxTransaction) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrAmountOutOfRange,
			amount, p.minTransaction, p.maxTransaction)
	}
	return nil
}

// Calculate applies the policy to a positive base amount.
// Fees round half-up to two decimals; each fee is floored at the minimum fee.
func (p *Policy) Calculate(subtotal decimal.Decimal) (*Breakdown, error) {
	if subtotal.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := p.WithinBounds(subtotal); err != nil {
		return nil, err
	}

	subtotal = roundHalfUp(subtotal)
	platformFee := roundHalfUp(subtotal.Mul(p.platformRate))
	if platformFee.LessThan(p.minimumFee) {
		platformFee = p.minimumFee
	}
	processingFee := roundHalfUp(subtotal.Mul(p.processingRate))
	if processingFee.LessThan(p.minimumFee) {
		processingFee = p.minimumFee
	}

	return &Breakdown{
		Subtotal:      subtotal,
		PlatformFee:   platformFee,
		ProcessingFee: processingFee,
		Total:         subtotal.Add(platformFee).Add(processingFee),
		SellerAmount:  subtotal,
		Currency:      p.currency,
	}, nil
}

// CalculateOrderTotal computes the breakdown for quantity units at unitPrice.
func (p *Policy) CalculateOrderTotal(unitPrice decimal.Decimal, quantity int) (*Breakdown, error) {
	if quantity <= 0 {
		return nil, ErrInvalidAmount
	}
	return p.Calculate(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// roundHalfUp rounds to two decimal places, ties away from zero.
// Amounts here are always non-negative, so away-from-zero is half-up.
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

package fees

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func mustPolicy(t *testing.T, platformRate, processingRate, minFee, minTx, maxTx string) *Policy {
	t.Helper()
	p, err := New(platformRate, processingRate, minFee, minTx, maxTx, "USD")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculate_ReproducibleExample(t *testing.T) {
	// unitPrice 1000 x 2 at 5% / 3% -> subtotal 2000, fees 100 + 60, total 2160.
	p := mustPolicy(t, "0.05", "0.03", "0.30", "0.50", "100000")

	b, err := p.CalculateOrderTotal(dec("1000"), 2)
	if err != nil {
		t.Fatalf("CalculateOrderTotal failed: %v", err)
	}

	if !b.Subtotal.Equal(dec("2000")) {
		t.Errorf("subtotal = %s, want 2000", b.Subtotal)
	}
	if !b.PlatformFee.Equal(dec("100")) {
		t.Errorf("platformFee = %s, want 100", b.PlatformFee)
	}
	if !b.ProcessingFee.Equal(dec("60")) {
		t.Errorf("processingFee = %s, want 60", b.ProcessingFee)
	}
	if !b.Total.Equal(dec("2160")) {
		t.Errorf("total = %s, want 2160", b.Total)
	}
	if !b.SellerAmount.Equal(dec("2000")) {
		t.Errorf("sellerAmount = %s, want 2000", b.SellerAmount)
	}
}

func TestCalculate_MinimumFeeFloor(t *testing.T) {
	p := mustPolicy(t, "0.05", "0.029", "0.30", "0.50", "10000")

	// 1.00 * 5% = 0.05 and 1.00 * 2.9% = 0.029, both below the 0.30 floor.
	b, err := p.Calculate(dec("1.00"))
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if !b.PlatformFee.Equal(dec("0.30")) {
		t.Errorf("platformFee = %s, want 0.30", b.PlatformFee)
	}
	if !b.ProcessingFee.Equal(dec("0.30")) {
		t.Errorf("processingFee = %s, want 0.30", b.ProcessingFee)
	}
	if !b.Total.Equal(dec("1.60")) {
		t.Errorf("total = %s, want 1.60", b.Total)
	}
}

func TestCalculate_FeesNeverBelowMinimum(t *testing.T) {
	p := mustPolicy(t, "0.05", "0.029", "0.30", "0.50", "10000")
	min := dec("0.30")

	for _, amount := range []string{"0.50", "1", "5.99", "10", "123.45", "9999.99"} {
		b, err := p.Calculate(dec(amount))
		if err != nil {
			t.Fatalf("Calculate(%s) failed: %v", amount, err)
		}
		if b.PlatformFee.LessThan(min) {
			t.Errorf("Calculate(%s).platformFee = %s below minimum", amount, b.PlatformFee)
		}
		if b.ProcessingFee.LessThan(min) {
			t.Errorf("Calculate(%s).processingFee = %s below minimum", amount, b.ProcessingFee)
		}
	}
}

func TestCalculate_RoundHalfUp(t *testing.T) {
	p := mustPolicy(t, "0.05", "0.029", "0.01", "0.01", "10000")

	// 10.10 * 0.05 = 0.505 -> 0.51 (half rounds up)
	b, err := p.Calculate(dec("10.10"))
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if !b.PlatformFee.Equal(dec("0.51")) {
		t.Errorf("platformFee = %s, want 0.51", b.PlatformFee)
	}
	// 10.10 * 0.029 = 0.2929 -> 0.29
	if !b.ProcessingFee.Equal(dec("0.29")) {
		t.Errorf("processingFee = %s, want 0.29", b.ProcessingFee)
	}

	// Results always carry at most 2 decimal places.
	if b.Total.Exponent() < -2 {
		t.Errorf("total %s has more than 2 decimal places", b.Total)
	}
}

func TestCalculate_Bounds(t *testing.T) {
	p := mustPolicy(t, "0.05", "0.029", "0.30", "1.00", "100")

	if _, err := p.Calculate(dec("0.99")); !errors.Is(err, ErrAmountOutOfRange) {
		t.Errorf("below-min amount: got %v, want ErrAmountOutOfRange", err)
	}
	if _, err := p.Calculate(dec("100.01")); !errors.Is(err, ErrAmountOutOfRange) {
		t.Errorf("above-max amount: got %v, want ErrAmountOutOfRange", err)
	}
	if _, err := p.Calculate(dec("1.00")); err != nil {
		t.Errorf("boundary min should pass: %v", err)
	}
	if _, err := p.Calculate(dec("100")); err != nil {
		t.Errorf("boundary max should pass: %v", err)
	}
}

func TestCalculate_RejectsNonPositive(t *testing.T) {
	p := Default()

	if _, err := p.Calculate(decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero: got %v, want ErrInvalidAmount", err)
	}
	if _, err := p.Calculate(dec("-5")); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative: got %v, want ErrInvalidAmount", err)
	}
	if _, err := p.CalculateOrderTotal(dec("10"), 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero quantity: got %v, want ErrInvalidAmount", err)
	}
}

func TestNew_RejectsBadParameters(t *testing.T) {
	if _, err := New("abc", "0.03", "0.30", "1", "10", "USD"); err == nil {
		t.Error("expected error for unparseable rate")
	}
	if _, err := New("-0.01", "0.03", "0.30", "1", "10", "USD"); err == nil {
		t.Error("expected error for negative rate")
	}
	if _, err := New("0.05", "0.03", "0.30", "10", "1", "USD"); err == nil {
		t.Error("expected error for inverted window")
	}
}

package validation

import "testing"

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"10.00", true},
		{"0.01", true},
		{"1000", true},
		{"", true}, // optional by default
		{"0", false},
		{"-5", false},
		{"abc", false},
		{"1.999", false}, // more than 2 decimal places
	}

	for _, tt := range tests {
		err := ValidAmount("amount", tt.value)()
		if tt.ok && err != nil {
			t.Errorf("ValidAmount(%q) unexpected error: %v", tt.value, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("ValidAmount(%q) expected error", tt.value)
		}
	}
}

func TestRequired(t *testing.T) {
	if err := Required("id", "")(); err == nil {
		t.Error("expected error for empty required field")
	}
	if err := Required("id", "  ")(); err == nil {
		t.Error("expected error for whitespace required field")
	}
	if err := Required("id", "x")(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOneOf(t *testing.T) {
	if err := OneOf("decision", "approved", "approved", "rejected")(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := OneOf("decision", "maybe", "approved", "rejected")(); err == nil {
		t.Error("expected error for unknown value")
	}
}

func TestIsValidID(t *testing.T) {
	if !IsValidID("esc_0123456789abcdef01234567") {
		t.Error("prefixed hex id should be valid")
	}
	if !IsValidID("c2d29867-3d0b-d497-9191-18a9d8ee7830") {
		t.Error("uuid should be valid")
	}
	if IsValidID("DROP TABLE orders") {
		t.Error("garbage should be invalid")
	}
}

func TestSanitizeString(t *testing.T) {
	got := SanitizeString("  hi\x00there  ", 100)
	if got != "hithere" {
		t.Errorf("got %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("got %q", got)
	}
}

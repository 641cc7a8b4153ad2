// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// WithPrefix generates a random ID with a prefix (e.g. "esc_", "rfd_", "dsp_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// OrderNumber generates a human-readable order number of the form
// PV-20240131-7F3A9C. The random suffix keeps numbers unguessable while the
// date keeps them sortable at a glance in support tooling.
func OrderNumber(now time.Time) string {
	return fmt.Sprintf("PV-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(Hex(3)))
}

// Package digest computes the content hash that binds a policy decision
// to the exact order it authorized. A decision token carries this digest;
// at execution time the digest is recomputed from the order presented for
// execution, so any swap of quantity, side, symbol or price between
// authorization and execution is detected.
package digest

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/brokerops/core/pkg/canonicalize"
	"github.com/brokerops/core/pkg/contracts"
)

// Version identifies the normalization rules below. It travels inside the
// decision token so verifiers know which rules to apply when recomputing.
const Version = "v1"

// Verification is the outcome of recomputing a digest against an expected
// value.
type Verification struct {
	Valid          bool   `json:"valid"`
	ComputedDigest string `json:"computed_digest"`
	Reason         string `json:"reason,omitempty"`
}

// Compute returns the 64-hex-char SHA-256 digest of the order's canonical
// pipe-delimited form.
//
// Normalization (v1, interop contract — must match any independent
// verifier exactly):
//   - client_order_id: whitespace trimmed
//   - symbol: trimmed, uppercased
//   - side: uppercased
//   - qty: floored to an integer
//   - price: fixed 8 decimal places, or the literal "null" when absent.
//     Zero is a valid price and formats as "0.00000000"; only an absent
//     price maps to the sentinel.
func Compute(o contracts.Order) string {
	return canonicalize.HashString(canonicalString(o))
}

// Verify recomputes the order's digest and compares it to expected.
// Hex case is not significant.
func Verify(o contracts.Order, expected string) Verification {
	computed := Compute(o)
	if computed != strings.ToLower(strings.TrimSpace(expected)) {
		return Verification{
			Valid:          false,
			ComputedDigest: computed,
			Reason:         contracts.ReasonOrderDigestMismatch,
		}
	}
	return Verification{Valid: true, ComputedDigest: computed}
}

func canonicalString(o contracts.Order) string {
	fields := []string{
		strings.TrimSpace(o.ClientOrderID),
		strings.ToUpper(strings.TrimSpace(o.Symbol)),
		strings.ToUpper(string(o.Side)),
		o.Qty.Floor().String(),
		priceField(o.Price),
	}
	return strings.Join(fields, "|")
}

func priceField(p *decimal.Decimal) string {
	if p == nil {
		return "null"
	}
	return p.StringFixed(8)
}

package token

import (
	"github.com/brokerops/core/pkg/canonicalize"
	"github.com/brokerops/core/pkg/contracts"
)

const compactPrefix = "v1"

// CompactSignature renders a short, human-shareable proof string of the
// fixed shape v1:<first-8-hex-of-trace_id>:<first-32-hex-of-signature>.
// It is a display artifact for dashboards and support tickets, not a
// verification input — verification always uses the full token.
func CompactSignature(tok contracts.DecisionToken) string {
	proof := tok.Signature
	if proof == "" {
		// Unsigned tokens never verify, but a stable display string is
		// still useful when triaging them.
		if h, err := canonicalize.CanonicalHash(tok.Payload); err == nil {
			proof = h
		}
	}
	return compactPrefix + ":" + hexPrefix(tok.Payload.TraceID, 8) + ":" + hexPrefix(proof, 32)
}

// hexPrefix truncates s to its first n characters, so the component is
// always a plain prefix of the full value.
func hexPrefix(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

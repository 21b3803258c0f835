package token

import (
	"crypto/hmac"
	"time"

	"github.com/brokerops/core/pkg/contracts"
)

// Result is a verification verdict. Reason is one of the contracts reason
// codes when Valid is false.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Verifier validates decision tokens. It holds one signing context per key
// ID so rotated keys keep verifying tokens issued before the rotation
// (keyring idiom).
type Verifier struct {
	contexts map[string]SigningContext
	fallback *SigningContext
	clock    func() time.Time
}

// NewVerifier creates a verifier over the given signing contexts. The
// first context doubles as the fallback for tokens issued without a
// key_id.
func NewVerifier(contexts ...SigningContext) *Verifier {
	v := &Verifier{
		contexts: make(map[string]SigningContext, len(contexts)),
		clock:    time.Now,
	}
	for idx, sc := range contexts {
		v.contexts[sc.KeyID] = sc
		if idx == 0 {
			first := sc
			v.fallback = &first
		}
	}
	return v
}

// WithClock overrides the clock for deterministic testing.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

// Verify recomputes the payload signature and checks expiry.
//
// The two checks are independent: the signature is verified even when the
// token is already expired, so callers can distinguish "tampered" from
// "stale". Structural problems — missing trace, decision, digest or
// signature — fail closed as INVALID_SIGNATURE.
func (v *Verifier) Verify(tok contracts.DecisionToken) Result {
	p := tok.Payload
	if tok.Signature == "" || p.TraceID == "" || p.Decision == "" || p.OrderDigest == "" || p.Order == nil {
		return Result{Valid: false, Reason: contracts.ReasonInvalidSignature}
	}

	sc, ok := v.contextFor(p.KeyID)
	if !ok {
		return Result{Valid: false, Reason: contracts.ReasonInvalidSignature}
	}

	expected, err := sign(p, sc.Secret)
	if err != nil {
		return Result{Valid: false, Reason: contracts.ReasonInvalidSignature}
	}
	if !hmac.Equal([]byte(expected), []byte(tok.Signature)) {
		return Result{Valid: false, Reason: contracts.ReasonInvalidSignature}
	}

	if p.ExpiresAt != 0 && v.clock().Unix() > p.ExpiresAt {
		return Result{Valid: false, Reason: contracts.ReasonTokenExpired}
	}

	return Result{Valid: true}
}

func (v *Verifier) contextFor(keyID string) (SigningContext, bool) {
	if sc, ok := v.contexts[keyID]; ok {
		return sc, true
	}
	if keyID == "" && v.fallback != nil {
		return *v.fallback, true
	}
	return SigningContext{}, false
}

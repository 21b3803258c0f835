// Package token issues and verifies decision tokens: signed, content-bound
// proof that the policy engine authorized or blocked a specific order.
//
// The signature is HMAC-SHA256 over the canonical JSON form of the
// payload. Key material is always injected through a SigningContext;
// there is no package-level key, so tests can swap keys and rotation is
// an explicit operation.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/brokerops/core/pkg/canonicalize"
	"github.com/brokerops/core/pkg/contracts"
	"github.com/brokerops/core/pkg/digest"
)

// SigningContext carries the key material used to issue or verify tokens.
type SigningContext struct {
	KeyID  string
	Secret []byte
}

var (
	ErrMissingSecret = errors.New("token: signing context has no secret")
	ErrMissingField  = errors.New("token: required issue parameter missing")
)

// IssueParams are the inputs to token issuance. TraceID, Decision,
// ReasonCode and PolicyVersion are required; the order digest is computed
// here so the caller cannot bind a stale digest.
type IssueParams struct {
	TraceID            string
	Decision           contracts.Decision
	ReasonCode         string
	RuleID             string
	PolicyVersion      string
	PolicySnapshotHash string
	Order              contracts.Order
	Subject            string
	Audience           string

	// ExpirySeconds, when non-zero, sets expires_at = issued_at + value.
	// Negative values produce an already-expired token, which the tests
	// for staleness handling rely on.
	ExpirySeconds int64
}

// Issuer builds signed decision tokens.
type Issuer struct {
	sc    SigningContext
	clock func() time.Time
}

// NewIssuer creates an issuer bound to the given signing context.
func NewIssuer(sc SigningContext) *Issuer {
	return &Issuer{sc: sc, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	i.clock = clock
	return i
}

// Issue builds the payload, computes the order digest, and signs the
// canonical JSON form of the payload.
func (i *Issuer) Issue(p IssueParams) (contracts.DecisionToken, error) {
	if len(i.sc.Secret) == 0 {
		return contracts.DecisionToken{}, ErrMissingSecret
	}
	if p.TraceID == "" || p.Decision == "" || p.ReasonCode == "" || p.PolicyVersion == "" {
		return contracts.DecisionToken{}, ErrMissingField
	}

	now := i.clock().UTC()
	order := p.Order
	payload := contracts.TokenPayload{
		TraceID:            p.TraceID,
		Decision:           p.Decision,
		ReasonCode:         p.ReasonCode,
		RuleID:             p.RuleID,
		PolicyVersion:      p.PolicyVersion,
		PolicySnapshotHash: p.PolicySnapshotHash,
		Order:              &order,
		OrderDigest:        digest.Compute(p.Order),
		OrderDigestVersion: digest.Version,
		KeyID:              i.sc.KeyID,
		Subject:            p.Subject,
		Audience:           p.Audience,
		IssuedAt:           now.Unix(),
	}
	if p.ExpirySeconds != 0 {
		payload.ExpiresAt = payload.IssuedAt + p.ExpirySeconds
	}

	sig, err := sign(payload, i.sc.Secret)
	if err != nil {
		return contracts.DecisionToken{}, err
	}
	return contracts.DecisionToken{Payload: payload, Signature: sig}, nil
}

// sign computes the hex HMAC-SHA256 of the canonical payload form.
func sign(payload contracts.TokenPayload, secret []byte) (string, error) {
	canonical, err := canonicalize.JCS(payload)
	if err != nil {
		return "", fmt.Errorf("token: canonicalize payload: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brokerops/core/pkg/contracts"
)

// ErrUnknownKey is returned when a JWS names a key ID the verifier does
// not hold.
var ErrUnknownKey = errors.New("token: unknown signing key")

// ExportJWS renders an already-issued token as a compact HS256 JWS for
// consumers that speak JWT rather than the native envelope. The claims
// mirror the signed payload; the native signature travels as a claim so
// the envelope form stays recoverable from logs.
func (i *Issuer) ExportJWS(tok contracts.DecisionToken) (string, error) {
	if len(i.sc.Secret) == 0 {
		return "", ErrMissingSecret
	}
	p := tok.Payload

	claims := jwt.MapClaims{
		"trace_id":             p.TraceID,
		"decision":             string(p.Decision),
		"reason_code":          p.ReasonCode,
		"policy_version":       p.PolicyVersion,
		"policy_snapshot_hash": p.PolicySnapshotHash,
		"order_digest":         p.OrderDigest,
		"order_digest_version": p.OrderDigestVersion,
		"envelope_signature":   tok.Signature,
		"iat":                  p.IssuedAt,
	}
	if p.ExpiresAt != 0 {
		claims["exp"] = p.ExpiresAt
	}
	if p.Subject != "" {
		claims["sub"] = p.Subject
	}
	if p.Audience != "" {
		claims["aud"] = p.Audience
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if i.sc.KeyID != "" {
		t.Header["kid"] = i.sc.KeyID
	}
	signed, err := t.SignedString(i.sc.Secret)
	if err != nil {
		return "", fmt.Errorf("token: JWS signing failed: %w", err)
	}
	return signed, nil
}

// VerifyJWS parses and validates a JWS produced by ExportJWS, resolving
// the key by the kid header.
func (v *Verifier) VerifyJWS(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		sc, ok := v.contextFor(kid)
		if !ok {
			return nil, ErrUnknownKey
		}
		return sc.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token: JWS verification failed: %w", err)
	}
	return claims, nil
}

// Package contracts defines the value types shared across the integrity
// core: orders, decision tokens and the reason codes every verifier
// branches on.
package contracts

import (
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Decision is a policy engine verdict.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionBlock Decision = "BLOCK"
)

// Reason codes returned by verifiers. All detection failures are
// fail-closed: callers must treat the transaction as untrusted on any of
// these, never fall back to "assume valid".
const (
	ReasonInvalidSignature      = "INVALID_SIGNATURE"
	ReasonTokenExpired          = "TOKEN_EXPIRED"
	ReasonOrderDigestMismatch   = "ORDER_DIGEST_MISMATCH"
	ReasonChainIntegrityFailure = "AUDIT_CHAIN_INTEGRITY_FAILURE"
	ReasonPayloadMismatch       = "PAYLOAD_MISMATCH"
)

// Order is the externally supplied order an authorization binds to.
// Immutable once digested.
//
// Price is a pointer so "no price given" (market order) stays distinct
// from an explicit price of zero: nil means absent, a zero value is a
// valid limit price.
type Order struct {
	ClientOrderID string           `json:"client_order_id"`
	Symbol        string           `json:"symbol"`
	Side          Side             `json:"side"`
	Qty           decimal.Decimal  `json:"qty"`
	Price         *decimal.Decimal `json:"price"`
}

// TokenPayload is the signed body of a decision token.
// Timestamps are Unix seconds; ExpiresAt of zero means the token never
// expires.
type TokenPayload struct {
	TraceID            string   `json:"trace_id"`
	Decision           Decision `json:"decision"`
	ReasonCode         string   `json:"reason_code"`
	RuleID             string   `json:"rule_id,omitempty"`
	PolicyVersion      string   `json:"policy_version"`
	PolicySnapshotHash string   `json:"policy_snapshot_hash"`
	Order              *Order   `json:"order"`
	OrderDigest        string   `json:"order_digest"`
	OrderDigestVersion string   `json:"order_digest_version"`
	KeyID              string   `json:"key_id,omitempty"`
	Subject            string   `json:"subject,omitempty"`
	Audience           string   `json:"audience,omitempty"`
	IssuedAt           int64    `json:"issued_at"`
	ExpiresAt          int64    `json:"expires_at,omitempty"`
}

// DecisionToken is the signed proof that the policy engine authorized or
// blocked a specific order. Read-only after issuance.
type DecisionToken struct {
	Payload   TokenPayload `json:"payload"`
	Signature string       `json:"signature"`
}

// Package evidence assembles decision provenance into a verifiable
// bundle. A pack is a projection over already-committed audit events and
// decision tokens, built on demand and never stored as a system of
// record: its manifest carries one canonical hash per component, and any
// third party holding the pack can recompute every hash independently.
package evidence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brokerops/core/pkg/canonicalize"
	"github.com/brokerops/core/pkg/chain"
)

// Manifest component names, also used in verification error messages.
const (
	ComponentPolicySnapshot   = "policy_snapshot"
	ComponentDecision         = "decision"
	ComponentAuditChain       = "audit_chain"
	ComponentOperatorIdentity = "operator_identity"
)

// Components are the artifacts a pack bundles. PolicySnapshot and
// Decision are kept generic so imported packs (decoded from JSON) hash
// identically to freshly built ones.
type Components struct {
	PolicySnapshot   interface{}        `json:"policy_snapshot"`
	Decision         interface{}        `json:"decision"`
	AuditChain       []chain.AuditEvent `json:"audit_chain"`
	OperatorIdentity interface{}        `json:"operator_identity,omitempty"`
}

// Manifest records the per-component hashes.
type Manifest struct {
	PackID          string            `json:"pack_id"`
	TraceID         string            `json:"trace_id"`
	CreatedAt       time.Time         `json:"created_at"`
	ComponentHashes map[string]string `json:"component_hashes"`
}

// Pack is the verifiable bundle.
type Pack struct {
	Manifest   Manifest   `json:"manifest"`
	Components Components `json:"components"`
}

// Build canonically hashes each supplied component and assembles the
// manifest. The operator identity is optional; all other components are
// required.
func Build(traceID string, c Components) (*Pack, error) {
	if traceID == "" {
		return nil, fmt.Errorf("evidence: trace id is required")
	}
	if c.PolicySnapshot == nil || c.Decision == nil || c.AuditChain == nil {
		return nil, fmt.Errorf("evidence: policy snapshot, decision and audit chain are all required")
	}

	hashes := make(map[string]string, 4)
	for name, component := range map[string]interface{}{
		ComponentPolicySnapshot: c.PolicySnapshot,
		ComponentDecision:       c.Decision,
		ComponentAuditChain:     c.AuditChain,
	} {
		h, err := canonicalize.CanonicalHash(component)
		if err != nil {
			return nil, fmt.Errorf("evidence: hash %s: %w", name, err)
		}
		hashes[name] = h
	}
	if c.OperatorIdentity != nil {
		h, err := canonicalize.CanonicalHash(c.OperatorIdentity)
		if err != nil {
			return nil, fmt.Errorf("evidence: hash %s: %w", ComponentOperatorIdentity, err)
		}
		hashes[ComponentOperatorIdentity] = h
	}

	return &Pack{
		Manifest: Manifest{
			PackID:          uuid.New().String(),
			TraceID:         traceID,
			CreatedAt:       time.Now().UTC(),
			ComponentHashes: hashes,
		},
		Components: c,
	}, nil
}

// Verdict is the outcome of verifying a pack. Every mismatch is
// accumulated so a single verification surfaces all corrupted components.
type Verdict struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// Verify recomputes each bundled component's hash against the manifest
// and checks the bundled audit chain's internal linkage.
func Verify(p *Pack) Verdict {
	errs := []string{}

	check := func(name, label string, component interface{}) {
		expected, ok := p.Manifest.ComponentHashes[name]
		if !ok {
			errs = append(errs, label+" missing from manifest")
			return
		}
		computed, err := canonicalize.CanonicalHash(component)
		if err != nil {
			errs = append(errs, label+" could not be hashed")
			return
		}
		if computed != expected {
			errs = append(errs, label+" hash mismatch")
		}
	}

	check(ComponentPolicySnapshot, "Policy snapshot", p.Components.PolicySnapshot)
	check(ComponentDecision, "Decision", p.Components.Decision)
	check(ComponentAuditChain, "Audit chain", p.Components.AuditChain)
	if _, present := p.Manifest.ComponentHashes[ComponentOperatorIdentity]; present || p.Components.OperatorIdentity != nil {
		check(ComponentOperatorIdentity, "Operator identity", p.Components.OperatorIdentity)
	}

	if v := chain.VerifyChain(p.Components.AuditChain); !v.Valid {
		errs = append(errs, fmt.Sprintf("Audit chain integrity failure at index %d", v.BrokenAtIndex))
	}

	return Verdict{IsValid: len(errs) == 0, Errors: errs}
}

// ConsistencyResult reports a policy drift check.
type ConsistencyResult struct {
	Consistent bool   `json:"consistent"`
	Error      string `json:"error,omitempty"`
}

// VerifyPolicyConsistency cross-checks the policy hash embedded in the
// decision token at authorization time against the policy content bundled
// in the pack, catching "policy changed after the fact but the pack was
// built from the new policy" drift.
func VerifyPolicyConsistency(p *Pack, expectedPolicyHash string) ConsistencyResult {
	bundled, ok := p.Manifest.ComponentHashes[ComponentPolicySnapshot]
	if !ok {
		return ConsistencyResult{Consistent: false, Error: "pack has no policy snapshot hash"}
	}
	if expectedPolicyHash == "" {
		return ConsistencyResult{Consistent: false, Error: "no expected policy hash supplied"}
	}
	if bundled != expectedPolicyHash {
		return ConsistencyResult{
			Consistent: false,
			Error: fmt.Sprintf("policy snapshot hash %s does not match the hash recorded at authorization %s",
				bundled, expectedPolicyHash),
		}
	}
	return ConsistencyResult{Consistent: true}
}

// Export serializes the pack for hand-off to an external reviewer.
func Export(p *Pack) ([]byte, error) {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("evidence: export: %w", err)
	}
	return b, nil
}

// Import parses an exported pack. Verification is a separate step; Import
// only requires structurally valid JSON.
func Import(raw []byte) (*Pack, error) {
	var p Pack
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("evidence: import: %w", err)
	}
	return &p, nil
}

// HashPolicySnapshot is the canonical hash used for the policy component;
// issuers embed this value in tokens so VerifyPolicyConsistency can
// compare like with like.
func HashPolicySnapshot(snapshot interface{}) (string, error) {
	return canonicalize.CanonicalHash(snapshot)
}

// Package idempotency guarantees each externally sourced lifecycle event
// (execution report, position close, reconciliation) mutates state at most
// once, no matter how many times its delivery is retried.
//
// Records are keyed by (source_system, event_type, event_id). A replay
// with the same key and the same payload hash returns the originally
// stored result without re-applying anything; a replay whose payload
// differs is flagged PAYLOAD_MISMATCH and refused — the original decision
// is never overwritten.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brokerops/core/pkg/canonicalize"
	"github.com/brokerops/core/pkg/contracts"
)

// Key identifies one logical event. Uniqueness of EventID within a
// (SourceSystem, EventType) pair is the caller's responsibility; the
// storage key is length-prefixed per component so caller-supplied IDs
// containing the delimiter cannot collide across components.
type Key struct {
	SourceSystem string
	EventType    string
	EventID      string
}

// String renders the conventional colon-delimited display form.
func (k Key) String() string {
	return k.SourceSystem + ":" + k.EventType + ":" + k.EventID
}

// Canonical returns the collision-free storage key.
func (k Key) Canonical() string {
	return fmt.Sprintf("%d:%s|%d:%s|%d:%s",
		len(k.SourceSystem), k.SourceSystem,
		len(k.EventType), k.EventType,
		len(k.EventID), k.EventID)
}

func (k Key) validate() error {
	if k.SourceSystem == "" || k.EventType == "" || k.EventID == "" {
		return ErrIncompleteKey
	}
	return nil
}

var ErrIncompleteKey = errors.New("idempotency: key requires source_system, event_type and event_id")

// Result is the outcome of recording an event.
type Result struct {
	Accepted        bool            `json:"accepted"`
	PayloadMismatch bool            `json:"payload_mismatch"`
	Reason          string          `json:"reason,omitempty"`
	PayloadHash     string          `json:"payload_hash"`
	PriorResult     json.RawMessage `json:"prior_result,omitempty"`
}

// Store records events exactly once. Record must be atomic per key: two
// concurrent deliveries of the same event must resolve to one accepted
// and one replay. Remove releases a key whose downstream effect failed,
// so a later delivery of the same event starts from scratch instead of
// replaying an outcome that never happened.
type Store interface {
	Record(ctx context.Context, key Key, payload interface{}, result interface{}) (Result, error)
	Remove(ctx context.Context, key Key) error
}

// hashPayload canonicalizes before hashing so retries that re-serialize
// the same logical payload with different key order still match.
func hashPayload(payload interface{}) (string, error) {
	h, err := canonicalize.CanonicalHash(payload)
	if err != nil {
		return "", fmt.Errorf("idempotency: hash payload: %w", err)
	}
	return h, nil
}

func marshalResult(result interface{}) (json.RawMessage, error) {
	if result == nil {
		return nil, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("idempotency: marshal result: %w", err)
	}
	return b, nil
}

type record struct {
	payloadHash string
	result      json.RawMessage
	createdAt   time.Time
}

// MemoryStore is an in-process Store for tests and single-node use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]record
	clock   func() time.Time
}

// NewMemoryStore creates an empty in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]record), clock: time.Now}
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, key Key, payload interface{}, result interface{}) (Result, error) {
	if err := key.validate(); err != nil {
		return Result{}, err
	}
	hash, err := hashPayload(payload)
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key.Canonical()]; ok {
		return replayResult(existing, hash), nil
	}

	resJSON, err := marshalResult(result)
	if err != nil {
		return Result{}, err
	}
	s.records[key.Canonical()] = record{payloadHash: hash, result: resJSON, createdAt: s.clock().UTC()}
	return Result{Accepted: true, PayloadHash: hash}, nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, key Key) error {
	if err := key.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key.Canonical())
	return nil
}

func replayResult(existing record, hash string) Result {
	if existing.payloadHash != hash {
		return Result{
			Accepted:        false,
			PayloadMismatch: true,
			Reason:          contracts.ReasonPayloadMismatch,
			PayloadHash:     hash,
		}
	}
	return Result{
		Accepted:    false,
		PayloadHash: hash,
		PriorResult: existing.result,
	}
}

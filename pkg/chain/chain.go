// Package chain implements the append-only audit hash chain. Every event
// appended for a trace links to its predecessor through
//
//	hash = SHA256(prevHash | eventType | eventVersion | canonicalJSON(payload))
//
// so a retroactive edit of any stored row breaks the chain from that row
// forward. Appends for one trace are serialized; traces are independent.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brokerops/core/pkg/canonicalize"
	"github.com/brokerops/core/pkg/contracts"
)

// AuditEvent is one immutable row of the chain. PrevHash is empty for the
// first event of a trace.
type AuditEvent struct {
	ID           int64           `json:"id,omitempty"`
	TraceID      string          `json:"trace_id"`
	EventType    string          `json:"event_type"`
	EventVersion string          `json:"event_version"`
	PayloadJSON  json.RawMessage `json:"payload_json"`
	PrevHash     string          `json:"prev_hash"`
	Hash         string          `json:"hash"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Store persists chain events. Insert is conditional: it must fail with
// ErrStaleTail when the trace's tail hash no longer equals expectedPrev,
// which is what serializes concurrent appends to one trace.
type Store interface {
	Tail(ctx context.Context, traceID string) (string, error)
	Insert(ctx context.Context, ev AuditEvent, expectedPrev string) (int64, error)
	Events(ctx context.Context, traceID string) ([]AuditEvent, error)
}

var (
	// ErrStaleTail signals that another append won the race for this
	// trace; the appender re-reads the tail and retries.
	ErrStaleTail = errors.New("chain: tail moved since it was read")

	ErrEmptyTrace = errors.New("chain: trace id is required")

	// ErrReservedDelimiter rejects event types/versions containing the
	// link-hash delimiter, which would let two distinct materials collide.
	ErrReservedDelimiter = errors.New("chain: event type and version must not contain '|'")
)

// appendAttempts bounds tail-race retries before giving up.
const appendAttempts = 3

// AppendResult reports the link that was written.
type AppendResult struct {
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// Appender writes hash-chained events through a Store.
type Appender struct {
	store  Store
	clock  func() time.Time
	logger *slog.Logger
}

// NewAppender creates an appender over the given store.
func NewAppender(store Store) *Appender {
	return &Appender{store: store, clock: time.Now, logger: slog.Default()}
}

// WithClock overrides the clock for deterministic testing.
func (a *Appender) WithClock(clock func() time.Time) *Appender {
	a.clock = clock
	return a
}

// WithLogger overrides the default logger.
func (a *Appender) WithLogger(logger *slog.Logger) *Appender {
	a.logger = logger
	return a
}

// Append canonicalizes payload, links it to the current tail of traceID
// and persists the new event. On a tail race it re-reads and retries a
// bounded number of times.
func (a *Appender) Append(ctx context.Context, traceID, eventType, eventVersion string, payload interface{}) (AppendResult, error) {
	if traceID == "" {
		return AppendResult{}, ErrEmptyTrace
	}
	if strings.Contains(eventType, "|") || strings.Contains(eventVersion, "|") {
		return AppendResult{}, ErrReservedDelimiter
	}

	canonical, err := canonicalize.JCS(payload)
	if err != nil {
		return AppendResult{}, fmt.Errorf("chain: canonicalize payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		prev, err := a.store.Tail(ctx, traceID)
		if err != nil {
			return AppendResult{}, fmt.Errorf("chain: read tail: %w", err)
		}

		hash := linkHash(prev, eventType, eventVersion, canonical)
		ev := AuditEvent{
			TraceID:      traceID,
			EventType:    eventType,
			EventVersion: eventVersion,
			PayloadJSON:  canonical,
			PrevHash:     prev,
			Hash:         hash,
			CreatedAt:    a.clock().UTC(),
		}

		if _, err := a.store.Insert(ctx, ev, prev); err != nil {
			if errors.Is(err, ErrStaleTail) {
				lastErr = err
				continue
			}
			return AppendResult{}, fmt.Errorf("chain: insert event: %w", err)
		}

		a.logger.Debug("audit event appended",
			"trace_id", traceID,
			"event_type", eventType,
			"hash", hash)
		return AppendResult{PrevHash: prev, Hash: hash}, nil
	}
	return AppendResult{}, fmt.Errorf("chain: append contention on trace %s: %w", traceID, lastErr)
}

// linkHash computes the chain link over the pipe-delimited material. The
// pipe is reserved: Append rejects event types/versions containing it, and
// the remaining fields cannot carry one (prevHash is hex, the payload is
// canonical JSON whose pipes are inside quoted strings).
func linkHash(prevHash, eventType, eventVersion string, canonicalPayload []byte) string {
	material := strings.Join([]string{prevHash, eventType, eventVersion, string(canonicalPayload)}, "|")
	return canonicalize.HashString(material)
}

// Verification is a chain verdict. BrokenAtIndex is -1 when the chain is
// intact, otherwise the index (into the verified slice) of the first event
// whose link fails.
type Verification struct {
	Valid         bool   `json:"valid"`
	BrokenAtIndex int    `json:"broken_at_index"`
	Reason        string `json:"reason,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// VerifyChain walks events in their recorded order, recomputing every hash
// and checking prev_hash linkage. Ordering is verified through the hash
// pointers themselves; insertion order alone is not trusted.
func VerifyChain(events []AuditEvent) Verification {
	for i, ev := range events {
		// The first event anchors the walk: its own hash recomputation
		// below covers whatever prev_hash it recorded, so partial chains
		// (a suffix pulled for one evidence pack) still verify.
		if i > 0 && ev.PrevHash != events[i-1].Hash {
			return broken(i, "prev_hash does not match predecessor hash")
		}

		recanonical, err := canonicalize.Transform(ev.PayloadJSON)
		if err != nil {
			return broken(i, "payload is not valid JSON")
		}
		if computed := linkHash(ev.PrevHash, ev.EventType, ev.EventVersion, recanonical); computed != ev.Hash {
			return broken(i, "stored hash does not recompute from stored fields")
		}
	}
	return Verification{Valid: true, BrokenAtIndex: -1}
}

func broken(index int, detail string) Verification {
	return Verification{
		Valid:         false,
		BrokenAtIndex: index,
		Reason:        contracts.ReasonChainIntegrityFailure,
		Detail:        detail,
	}
}

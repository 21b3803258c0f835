package chain

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used by tests and the offline
// verifier. A per-trace mutex serializes appends to one trace while
// leaving distinct traces fully independent.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]AuditEvent
	locks  map[string]*sync.Mutex
	nextID int64
}

// NewMemoryStore creates an empty in-memory chain store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]AuditEvent),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) traceLock(traceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[traceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[traceID] = l
	}
	return l
}

// Tail returns the hash of the latest event for traceID, or "" when the
// trace has no events yet.
func (s *MemoryStore) Tail(_ context.Context, traceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[traceID]
	if len(evs) == 0 {
		return "", nil
	}
	return evs[len(evs)-1].Hash, nil
}

// Insert appends ev if the trace tail still equals expectedPrev.
func (s *MemoryStore) Insert(_ context.Context, ev AuditEvent, expectedPrev string) (int64, error) {
	l := s.traceLock(ev.TraceID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	evs := s.events[ev.TraceID]
	tail := ""
	if len(evs) > 0 {
		tail = evs[len(evs)-1].Hash
	}
	if tail != expectedPrev {
		return 0, ErrStaleTail
	}

	s.nextID++
	ev.ID = s.nextID
	s.events[ev.TraceID] = append(evs, ev)
	return ev.ID, nil
}

// Events returns the trace's events in append order.
func (s *MemoryStore) Events(_ context.Context, traceID string) ([]AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[traceID]
	out := make([]AuditEvent, len(evs))
	copy(out, evs)
	return out, nil
}

// Corrupt overwrites the stored payload of one event. Only used by
// integrity tests to simulate retroactive tampering.
func (s *MemoryStore) Corrupt(traceID string, index int, payloadJSON []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[traceID]
	if index >= 0 && index < len(evs) {
		evs[index].PayloadJSON = payloadJSON
	}
}

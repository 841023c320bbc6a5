package shield

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps exposure state in process memory. Each analyst key has
// its own lock, so updates to one analyst serialize while distinct analysts
// proceed concurrently. State lifetime is process uptime.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	mu    sync.Mutex
	state ExposureState
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry), now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) entry(analystID string) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[analystID]
	if !ok {
		e = &memoryEntry{}
		s.entries[analystID] = e
	}
	return e
}

// RecordCase implements Store.
func (s *MemoryStore) RecordCase(_ context.Context, analystID string, highRisk bool) (ExposureState, error) {
	e := s.entry(analystID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.SessionStart.IsZero() {
		now := s.now()
		e.state.SessionStart = now
		e.state.LastBreak = now
	}
	e.state.CasesThisSession++
	if highRisk {
		e.state.HighRiskCases++
	}
	return e.state, nil
}

// Snapshot implements Store.
func (s *MemoryStore) Snapshot(_ context.Context, analystID string) (ExposureState, error) {
	e := s.entry(analystID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, analystID string) (ExposureState, error) {
	e := s.entry(analystID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	e.state = ExposureState{SessionStart: now, LastBreak: now}
	return e.state, nil
}

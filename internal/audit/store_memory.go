package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps records in a slice. It backs tests and the no-postgres
// development mode; it intentionally favors clarity over performance.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// List returns a copy of everything appended so far.
func (s *InMemoryStore) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// ByOutcome returns appended records matching the outcome.
func (s *InMemoryStore) ByOutcome(outcome Outcome) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Outcome == outcome {
			out = append(out, rec)
		}
	}
	return out
}

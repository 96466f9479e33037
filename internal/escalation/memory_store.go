package escalation

import (
	"context"
	"sync"
)

// MemoryOutcomeStore is an in-memory OutcomeStore for tests and demo mode.
type MemoryOutcomeStore struct {
	mu      sync.RWMutex
	results []*Result
}

// Compile-time check.
var _ OutcomeStore = (*MemoryOutcomeStore)(nil)

// NewMemoryOutcomeStore creates an empty in-memory outcome store.
func NewMemoryOutcomeStore() *MemoryOutcomeStore {
	return &MemoryOutcomeStore{}
}

func (s *MemoryOutcomeStore) Record(_ context.Context, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

func (s *MemoryOutcomeStore) ListByUser(_ context.Context, username string, limit int) ([]*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Result
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].Username != username {
			continue
		}
		out = append(out, s.results[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

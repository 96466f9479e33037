package history

import (
	"context"
	"sync"

	"github.com/gatewarden/gatewarden/internal/syncutil"
)

// MemoryStore is an in-memory Store for tests and demo mode.
//
// A striped per-key mutex serializes upserts for the same username while the
// map mutex only guards map access, so commits for different users never
// contend beyond stripe collisions.
type MemoryStore struct {
	mu        sync.RWMutex
	baselines map[string]*Baseline
	keys      syncutil.Striped
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{baselines: make(map[string]*Baseline)}
}

func (s *MemoryStore) Get(_ context.Context, username string) (*Baseline, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baselines[username]
	if !ok {
		return nil, false, nil
	}
	return b.Clone(), true, nil
}

func (s *MemoryStore) UpsertAtomic(_ context.Context, username string, mutate func(*Baseline)) error {
	unlock := s.keys.Acquire(username)
	defer unlock()

	s.mu.RLock()
	b, ok := s.baselines[username]
	s.mu.RUnlock()

	var work *Baseline
	if ok {
		work = b.Clone()
	} else {
		work = NewBaseline(username)
	}

	mutate(work)
	work.UpdatedAt = nowUTC()

	s.mu.Lock()
	s.baselines[username] = work
	s.mu.Unlock()
	return nil
}

// Len returns the number of users with a baseline (test helper).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.baselines)
}

package decision

import (
	"context"
	"sync"
)

// MemoryAuditStore is an in-memory AuditStore for tests and demo mode.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []*Record
}

// Compile-time check.
var _ AuditStore = (*MemoryAuditStore)(nil)

// NewMemoryAuditStore creates an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Record(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryAuditStore) ListByUser(_ context.Context, username string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	// Newest first.
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Username != username {
			continue
		}
		out = append(out, s.records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

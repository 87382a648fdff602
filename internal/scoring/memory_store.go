package scoring

import (
	"context"
	"sync"
)

// MemoryStore keeps assessments in memory for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments []*Assessment
}

// NewMemoryStore creates a new in-memory assessment store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Record(_ context.Context, assessment *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *assessment
	s.assessments = append(s.assessments, &cp)
	return nil
}

func (s *MemoryStore) ListByCard(_ context.Context, cardID string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	// Newest first
	var results []*Assessment
	for i := len(s.assessments) - 1; i >= 0 && len(results) < limit; i-- {
		if s.assessments[i].CardID == cardID {
			cp := *s.assessments[i]
			results = append(results, &cp)
		}
	}
	return results, nil
}

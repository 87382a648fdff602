package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore implements Store with in-memory storage
type MemoryStore struct {
	mu        sync.RWMutex
	entries   []*Entry
	decisions map[string]*Entry // transaction ID -> decision entry
	nextID    atomic.Int64
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		decisions: make(map[string]*Entry),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Kind == KindDecision {
		if _, exists := s.decisions[entry.TransactionID]; exists {
			return ErrDecisionExists
		}
	}

	cp := *entry
	cp.ID = s.nextID.Add(1)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.entries = append(s.entries, &cp)
	if cp.Kind == KindDecision {
		s.decisions[cp.TransactionID] = &cp
	}

	entry.ID = cp.ID
	entry.CreatedAt = cp.CreatedAt
	return nil
}

func (s *MemoryStore) GetDecision(_ context.Context, transactionID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	decision, exists := s.decisions[transactionID]
	if !exists {
		return nil, ErrEntryNotFound
	}

	cp := *decision
	return &cp, nil
}

func (s *MemoryStore) ListByTransaction(_ context.Context, transactionID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Entry
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			cp := *e
			results = append(results, &cp)
		}
	}
	return results, nil
}

func (s *MemoryStore) ListByCard(_ context.Context, cardID string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	// Walk backwards so the newest entries come first
	var results []*Entry
	for i := len(s.entries) - 1; i >= 0 && len(results) < limit; i-- {
		if s.entries[i].CardID == cardID {
			cp := *s.entries[i]
			results = append(results, &cp)
		}
	}
	return results, nil
}

func (s *MemoryStore) ListDecisionsByCard(_ context.Context, cardID string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var results []*Entry
	for i := len(s.entries) - 1; i >= 0 && len(results) < limit; i-- {
		if s.entries[i].CardID == cardID && s.entries[i].Kind == KindDecision {
			cp := *s.entries[i]
			results = append(results, &cp)
		}
	}
	return results, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	start := len(s.entries) - limit
	if start < 0 {
		start = 0
	}

	results := make([]*Entry, 0, len(s.entries)-start)
	for i := len(s.entries) - 1; i >= start; i-- {
		cp := *s.entries[i]
		results = append(results, &cp)
	}
	return results, nil
}

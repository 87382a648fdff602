package otp

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation for development and tests
type MemoryStore struct {
	challenges    map[string]*Challenge // by challenge ID
	byTransaction map[string]string     // transaction ID -> challenge ID
	mu            sync.RWMutex
}

// NewMemoryStore creates a new in-memory challenge store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges:    make(map[string]*Challenge),
		byTransaction: make(map[string]string),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, ch *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byTransaction[ch.TransactionID]; exists {
		return ErrDuplicateChallenge
	}

	cp := *ch
	m.challenges[ch.ID] = &cp
	m.byTransaction[ch.TransactionID] = ch.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	cp := *ch
	return &cp, nil
}

func (m *MemoryStore) GetByTransaction(ctx context.Context, transactionID string) (*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byTransaction[transactionID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	cp := *m.challenges[id]
	return &cp, nil
}

func (m *MemoryStore) Resolve(ctx context.Context, id string, status Status, resolvedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.challenges[id]
	if !ok {
		return false, ErrChallengeNotFound
	}
	if ch.Status != StatusPending {
		return false, nil
	}

	ch.Status = status
	at := resolvedAt
	ch.ResolvedAt = &at
	return true, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Challenge
	for _, ch := range m.challenges {
		if ch.Status == StatusPending && !now.Before(ch.ExpiresAt) {
			cp := *ch
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

package confirmation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation for development and tests
type MemoryStore struct {
	requests      map[string]*Request // by request ID
	byTransaction map[string]string   // transaction ID -> request ID
	mu            sync.RWMutex
}

// NewMemoryStore creates a new in-memory request store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:      make(map[string]*Request),
		byTransaction: make(map[string]string),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byTransaction[req.TransactionID]; exists {
		return ErrDuplicateRequest
	}

	cp := *req
	m.requests[req.ID] = &cp
	m.byTransaction[req.TransactionID] = req.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *MemoryStore) GetByTransaction(ctx context.Context, transactionID string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byTransaction[transactionID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *m.requests[id]
	return &cp, nil
}

func (m *MemoryStore) Resolve(ctx context.Context, id string, status Status, resolvedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return false, ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return false, nil
	}

	req.Status = status
	at := resolvedAt
	req.ResolvedAt = &at
	return true, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Request
	for _, req := range m.requests {
		if req.Status == StatusPending && !now.Before(req.ExpiresAt) {
			cp := *req
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

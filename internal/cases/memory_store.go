package cases

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/halcyonpay/sentinel/internal/idgen"
)

// MemoryStore is a thread-safe in-memory implementation
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]*FraudCase // id -> case
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases: make(map[string]*FraudCase),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) OpenOrGet(_ context.Context, cardID string) (*FraudCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.activeByCard(cardID); existing != nil {
		cp := m.copyCase(existing)
		return cp, nil
	}

	now := time.Now()
	fc := &FraudCase{
		ID:             idgen.WithPrefix("case_"),
		CardID:         cardID,
		Status:         StatusOpen,
		TransactionIDs: []string{},
		OpenedAt:       now,
		UpdatedAt:      now,
	}
	m.cases[fc.ID] = fc

	cp := m.copyCase(fc)
	return cp, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*FraudCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fc, exists := m.cases[id]
	if !exists {
		return nil, ErrCaseNotFound
	}
	return m.copyCase(fc), nil
}

func (m *MemoryStore) GetActiveByCard(_ context.Context, cardID string) (*FraudCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fc := m.activeByCard(cardID)
	if fc == nil {
		return nil, ErrCaseNotFound
	}
	return m.copyCase(fc), nil
}

func (m *MemoryStore) ListByCard(_ context.Context, cardID string) ([]*FraudCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*FraudCase
	for _, fc := range m.cases {
		if fc.CardID == cardID {
			results = append(results, m.copyCase(fc))
		}
	}

	// Newest first
	sort.Slice(results, func(i, j int) bool {
		return results[i].OpenedAt.After(results[j].OpenedAt)
	})

	return results, nil
}

func (m *MemoryStore) AddTransaction(_ context.Context, caseID, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fc, exists := m.cases[caseID]
	if !exists {
		return false, ErrCaseNotFound
	}
	if !fc.Active() {
		return false, ErrCaseClosed
	}
	if fc.Contains(transactionID) {
		return false, nil
	}

	fc.TransactionIDs = append(fc.TransactionIDs, transactionID)
	fc.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) RemoveTransaction(_ context.Context, caseID, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fc, exists := m.cases[caseID]
	if !exists {
		return ErrCaseNotFound
	}
	for i, id := range fc.TransactionIDs {
		if id == transactionID {
			fc.TransactionIDs = append(fc.TransactionIDs[:i], fc.TransactionIDs[i+1:]...)
			fc.UpdatedAt = time.Now()
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) Escalate(_ context.Context, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fc, exists := m.cases[caseID]
	if !exists {
		return ErrCaseNotFound
	}
	if fc.Status == StatusClosed {
		return ErrCaseClosed
	}

	fc.Status = StatusEscalated
	fc.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Close(_ context.Context, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fc, exists := m.cases[caseID]
	if !exists {
		return ErrCaseNotFound
	}

	now := time.Now()
	fc.Status = StatusClosed
	fc.ClosedAt = &now
	fc.UpdatedAt = now
	return nil
}

// activeByCard must be called with the lock held
func (m *MemoryStore) activeByCard(cardID string) *FraudCase {
	for _, fc := range m.cases {
		if fc.CardID == cardID && fc.Active() {
			return fc
		}
	}
	return nil
}

// copyCase returns a deep copy so callers cannot mutate store state
func (m *MemoryStore) copyCase(fc *FraudCase) *FraudCase {
	cp := *fc
	cp.TransactionIDs = append([]string(nil), fc.TransactionIDs...)
	return &cp
}

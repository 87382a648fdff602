package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/halcyonpay/sentinel/internal/idgen"
)

// -----------------------------------------------------------------------------
// Store Interface (swap implementations later)
// -----------------------------------------------------------------------------

// Store defines the persistence interface for cards and customers
type Store interface {
	// Customers
	CreateCustomer(ctx context.Context, customer *Customer) error
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	UpdateCustomer(ctx context.Context, customer *Customer) error

	// Cards
	CreateCard(ctx context.Context, card *Card) error
	GetCard(ctx context.Context, id string) (*Card, error)
	ListCardsByCustomer(ctx context.Context, customerID string) ([]*Card, error)

	// Protection state. IncrementSuspicious returns the new attempt count.
	// BlockCard flips active->blocked and returns true only for the call
	// that performed the transition; a card already blocked returns false.
	IncrementSuspicious(ctx context.Context, cardID string) (int, error)
	BlockCard(ctx context.Context, cardID, reason string) (bool, error)
	UnblockCard(ctx context.Context, cardID string) error
}

// -----------------------------------------------------------------------------
// In-Memory Store (for development and tests, swap to Postgres in production)
// -----------------------------------------------------------------------------

// MemoryStore is a thread-safe in-memory implementation
type MemoryStore struct {
	mu        sync.RWMutex
	cards     map[string]*Card     // id -> card
	customers map[string]*Customer // id -> customer
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards:     make(map[string]*Card),
		customers: make(map[string]*Customer),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// -----------------------------------------------------------------------------
// Customer Operations
// -----------------------------------------------------------------------------

func (m *MemoryStore) CreateCustomer(ctx context.Context, customer *Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if customer.ID == "" {
		customer.ID = idgen.New()
	}
	if _, exists := m.customers[customer.ID]; exists {
		return ErrCustomerExists
	}
	if !IsKnownChannel(customer.Channel) {
		return ErrInvalidChannel
	}

	now := time.Now()
	customer.CreatedAt = now
	customer.UpdatedAt = now
	m.customers[customer.ID] = customer

	return nil
}

func (m *MemoryStore) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	customer, exists := m.customers[id]
	if !exists {
		return nil, ErrCustomerNotFound
	}

	// Return a copy to prevent mutation
	copy := *customer
	return &copy, nil
}

func (m *MemoryStore) UpdateCustomer(ctx context.Context, customer *Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.customers[customer.ID]; !exists {
		return ErrCustomerNotFound
	}
	if !IsKnownChannel(customer.Channel) {
		return ErrInvalidChannel
	}

	customer.UpdatedAt = time.Now()
	m.customers[customer.ID] = customer

	return nil
}

// -----------------------------------------------------------------------------
// Card Operations
// -----------------------------------------------------------------------------

func (m *MemoryStore) CreateCard(ctx context.Context, card *Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if card.ID == "" {
		card.ID = idgen.New()
	}
	if _, exists := m.cards[card.ID]; exists {
		return ErrCardExists
	}
	if _, exists := m.customers[card.CustomerID]; !exists {
		return ErrCustomerNotFound
	}

	now := time.Now()
	card.Status = CardActive
	card.SuspiciousAttempts = 0
	card.CreatedAt = now
	card.UpdatedAt = now
	m.cards[card.ID] = card

	return nil
}

func (m *MemoryStore) GetCard(ctx context.Context, id string) (*Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	card, exists := m.cards[id]
	if !exists {
		return nil, ErrCardNotFound
	}

	copy := *card
	return &copy, nil
}

func (m *MemoryStore) ListCardsByCustomer(ctx context.Context, customerID string) ([]*Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Card
	for _, card := range m.cards {
		if card.CustomerID == customerID {
			copy := *card
			results = append(results, &copy)
		}
	}

	// Sort by enrollment time (oldest first, stable for tests)
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})

	return results, nil
}

// -----------------------------------------------------------------------------
// Protection State Operations
// -----------------------------------------------------------------------------

func (m *MemoryStore) IncrementSuspicious(ctx context.Context, cardID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, exists := m.cards[cardID]
	if !exists {
		return 0, ErrCardNotFound
	}

	card.SuspiciousAttempts++
	card.UpdatedAt = time.Now()

	return card.SuspiciousAttempts, nil
}

func (m *MemoryStore) BlockCard(ctx context.Context, cardID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, exists := m.cards[cardID]
	if !exists {
		return false, ErrCardNotFound
	}
	if card.Status == CardBlocked {
		return false, nil
	}

	now := time.Now()
	card.Status = CardBlocked
	card.BlockedAt = &now
	card.BlockedReason = reason
	card.UpdatedAt = now

	return true, nil
}

func (m *MemoryStore) UnblockCard(ctx context.Context, cardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, exists := m.cards[cardID]
	if !exists {
		return ErrCardNotFound
	}

	card.Status = CardActive
	card.SuspiciousAttempts = 0
	card.BlockedAt = nil
	card.BlockedReason = ""
	card.UpdatedAt = time.Now()

	return nil
}

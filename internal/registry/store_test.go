package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*MemoryStore, *Customer, *Card) {
	t.Helper()
	store := NewMemoryStore()
	ctx := context.Background()

	customer := &Customer{Name: "Ada", Channel: "sms", Address: "+15550001111"}
	require.NoError(t, store.CreateCustomer(ctx, customer))

	card := &Card{CustomerID: customer.ID, BankID: "bank_a"}
	require.NoError(t, store.CreateCard(ctx, card))

	return store, customer, card
}

func TestCreateCardRequiresCustomer(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	card := &Card{CustomerID: "nobody", BankID: "bank_a"}
	err := store.CreateCard(ctx, card)
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestCreateCardStartsActive(t *testing.T) {
	store, _, card := newTestStore(t)

	got, err := store.GetCard(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Equal(t, CardActive, got.Status)
	assert.Equal(t, 0, got.SuspiciousAttempts)
	assert.Nil(t, got.BlockedAt)
}

func TestCreateCustomerRejectsUnknownChannel(t *testing.T) {
	store := NewMemoryStore()

	err := store.CreateCustomer(context.Background(), &Customer{Channel: "carrier-pigeon", Address: "x"})
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestIncrementSuspicious(t *testing.T) {
	store, _, card := newTestStore(t)
	ctx := context.Background()

	n, err := store.IncrementSuspicious(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.IncrementSuspicious(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBlockCardExactlyOnce(t *testing.T) {
	store, _, card := newTestStore(t)
	ctx := context.Background()

	blocked, err := store.BlockCard(ctx, card.ID, "suspicious activity")
	require.NoError(t, err)
	assert.True(t, blocked)

	// A second block attempt is a no-op
	blocked, err = store.BlockCard(ctx, card.ID, "again")
	require.NoError(t, err)
	assert.False(t, blocked)

	got, err := store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, CardBlocked, got.Status)
	assert.Equal(t, "suspicious activity", got.BlockedReason)
	assert.NotNil(t, got.BlockedAt)
}

func TestBlockCardConcurrent(t *testing.T) {
	store, _, card := newTestStore(t)
	ctx := context.Background()

	const goroutines = 20
	var wg sync.WaitGroup
	results := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			blocked, err := store.BlockCard(ctx, card.ID, "race")
			if err == nil {
				results <- blocked
			}
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for blocked := range results {
		if blocked {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one caller should observe the transition")
}

func TestUnblockCardResetsCounters(t *testing.T) {
	store, _, card := newTestStore(t)
	ctx := context.Background()

	_, err := store.IncrementSuspicious(ctx, card.ID)
	require.NoError(t, err)
	_, err = store.BlockCard(ctx, card.ID, "limit reached")
	require.NoError(t, err)

	require.NoError(t, store.UnblockCard(ctx, card.ID))

	got, err := store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, CardActive, got.Status)
	assert.Equal(t, 0, got.SuspiciousAttempts)
	assert.Nil(t, got.BlockedAt)
}

func TestListCardsByCustomer(t *testing.T) {
	store, customer, card := newTestStore(t)
	ctx := context.Background()

	second := &Card{CustomerID: customer.ID, BankID: "bank_b"}
	require.NoError(t, store.CreateCard(ctx, second))

	cards, err := store.ListCardsByCustomer(ctx, customer.ID)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, card.ID, cards[0].ID)
	assert.Equal(t, second.ID, cards[1].ID)
}

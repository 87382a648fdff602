//go:build integration

package otp

import (
	"context"
	"testing"
	"time"

	"github.com/halcyonpay/sentinel/internal/idgen"
	"github.com/halcyonpay/sentinel/internal/testutil"
)

func TestPostgres_ChallengeLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	txID := idgen.WithPrefix("txn_")
	ch := &Challenge{
		ID:            idgen.WithPrefix("otp_"),
		TransactionID: txID,
		CardID:        "card_pg_1",
		CustomerID:    "cust_pg_1",
		CodeHash:      HashCode("123456"),
		Status:        StatusPending,
		ExpiresAt:     time.Now().Add(5 * time.Minute),
		CreatedAt:     time.Now(),
	}
	if err := store.Create(ctx, ch); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A second challenge for the same transaction is rejected
	dup := *ch
	dup.ID = idgen.WithPrefix("otp_")
	if err := store.Create(ctx, &dup); err != ErrDuplicateChallenge {
		t.Errorf("expected ErrDuplicateChallenge, got %v", err)
	}

	got, err := store.GetByTransaction(ctx, txID)
	if err != nil {
		t.Fatalf("GetByTransaction failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}

	// First resolution wins
	won, err := store.Resolve(ctx, ch.ID, StatusConfirmed, time.Now())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !won {
		t.Error("first Resolve should win")
	}
	won, err = store.Resolve(ctx, ch.ID, StatusExpired, time.Now())
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if won {
		t.Error("second Resolve should lose")
	}

	got, _ = store.Get(ctx, ch.ID)
	if got.Status != StatusConfirmed {
		t.Errorf("expected confirmed to stick, got %s", got.Status)
	}
}

func TestPostgres_ListExpired(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	stale := &Challenge{
		ID:            idgen.WithPrefix("otp_"),
		TransactionID: idgen.WithPrefix("txn_"),
		CardID:        "card_pg_2",
		CustomerID:    "cust_pg_2",
		CodeHash:      HashCode("000000"),
		Status:        StatusPending,
		ExpiresAt:     time.Now().Add(-1 * time.Minute),
		CreatedAt:     time.Now().Add(-10 * time.Minute),
	}
	if err := store.Create(ctx, stale); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	expired, err := store.ListExpired(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("ListExpired failed: %v", err)
	}
	found := false
	for _, ch := range expired {
		if ch.ID == stale.ID {
			found = true
		}
	}
	if !found {
		t.Error("stale challenge missing from expired list")
	}
}

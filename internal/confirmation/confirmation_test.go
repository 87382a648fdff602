package confirmation

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/sentinel/internal/ledger"
	"github.com/halcyonpay/sentinel/internal/registry"
)

type hookRecorder struct {
	mu    sync.Mutex
	calls []string // "cardID/txID/reason"
}

func (h *hookRecorder) RecordSuspicious(ctx context.Context, cardID, transactionID, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, cardID+"/"+transactionID+"/"+reason)
	return nil
}

func (h *hookRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func (h *hookRecorder) last() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.calls) == 0 {
		return ""
	}
	return h.calls[len(h.calls)-1]
}

type fixture struct {
	svc   *Service
	store *MemoryStore
	reg   *registry.MemoryStore
	led   *ledger.Ledger
	hook  *hookRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, reg.CreateCustomer(ctx, &registry.Customer{
		ID: "cust_1", Channel: "sms", Address: "+15550001111",
	}))
	require.NoError(t, reg.CreateCard(ctx, &registry.Card{
		ID: "card_1", CustomerID: "cust_1", BankID: "bank_1",
	}))

	store := NewMemoryStore()
	led := ledger.New(ledger.NewMemoryStore())
	ttl := func(bankID string) time.Duration { return 24 * time.Hour }
	svc := NewService(store, reg, led, nil, ttl, slog.Default())
	hook := &hookRecorder{}
	svc.SetProtectionHook(hook)

	return &fixture{svc: svc, store: store, reg: reg, led: led, hook: hook}
}

func (f *fixture) open(t *testing.T, txID string) *Request {
	t.Helper()
	require.NoError(t, f.svc.OpenForDecline(context.Background(), txID, "card_1"))
	req, err := f.store.GetByTransaction(context.Background(), txID)
	require.NoError(t, err)
	return req
}

func TestOpenForDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.open(t, "txn_1")
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, "cust_1", req.CustomerID)
	assert.True(t, req.ExpiresAt.After(time.Now().Add(23*time.Hour)))

	entries, err := f.led.History(ctx, "txn_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindConfirmationSent, entries[0].Kind)
}

func TestOpenForDeclineUnknownCard(t *testing.T) {
	f := newFixture(t)
	err := f.svc.OpenForDecline(context.Background(), "txn_1", "card_missing")
	assert.ErrorIs(t, err, registry.ErrCardNotFound)
}

func TestRespondLegitimate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.open(t, "txn_1")

	result, err := f.svc.Respond(ctx, req.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusLegitimate, result.Outcome)
	assert.False(t, result.Late)

	entries, _ := f.led.History(ctx, "txn_1")
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindConfirmationLegitimate, entries[1].Kind)

	// A legitimate resolution never counts against the card
	assert.Equal(t, 0, f.hook.count())
}

func TestRespondFraudCountsSuspiciousAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.open(t, "txn_1")

	result, err := f.svc.Respond(ctx, req.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusFraud, result.Outcome)

	entries, _ := f.led.History(ctx, "txn_1")
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindConfirmationFraud, entries[1].Kind)

	require.Equal(t, 1, f.hook.count())
	assert.Equal(t, "card_1/txn_1/confirmed_fraud", f.hook.last())
}

func TestSweepTimesOutAndCountsSuspiciousAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.open(t, "txn_1")
	f.open(t, "txn_fresh")
	f.store.mu.Lock()
	f.store.requests[req.ID].ExpiresAt = time.Now().Add(-1 * time.Minute)
	f.store.mu.Unlock()

	count, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	resolved, _ := f.store.Get(ctx, req.ID)
	assert.Equal(t, StatusTimeout, resolved.Status)

	entries, _ := f.led.History(ctx, "txn_1")
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindConfirmationTimeout, entries[1].Kind)

	require.Equal(t, 1, f.hook.count())
	assert.Equal(t, "card_1/txn_1/no_response", f.hook.last())
}

func TestLateResponseBecomesAnnotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.open(t, "txn_1")

	_, err := f.svc.Respond(ctx, req.ID, false)
	require.NoError(t, err)

	// Customer answers again after resolution: no transition, only an
	// annotation in the ledger.
	late, err := f.svc.Respond(ctx, req.ID, true)
	require.NoError(t, err)
	assert.True(t, late.Late)
	assert.Equal(t, StatusLegitimate, late.Outcome)

	entries, _ := f.led.History(ctx, "txn_1")
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.KindAnnotation, entries[2].Kind)

	// Only one attempt accounting point exists per transaction; a late
	// fraud flag after a legitimate resolution never counts.
	assert.Equal(t, 0, f.hook.count())
}

func TestRespondRacesSweepSingleResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.open(t, "txn_1")
	f.store.mu.Lock()
	f.store.requests[req.ID].ExpiresAt = time.Now().Add(-1 * time.Second)
	f.store.mu.Unlock()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Respond(ctx, req.ID, true)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Sweep(ctx)
		}()
	}
	wg.Wait()

	// Whoever won, exactly one suspicious attempt was recorded: both a
	// fraud response and a timeout count, but only once.
	assert.Equal(t, 1, f.hook.count())
}

func TestRespondUnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Respond(context.Background(), "cfm_missing", true)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestOpenSuppressedForBlockedCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blocked, err := f.reg.BlockCard(ctx, "card_1", "suspicious attempt limit reached (2)")
	require.NoError(t, err)
	require.True(t, blocked)

	// An OTP rejected after the block still lands here; no new prompt
	// may reach the customer
	require.NoError(t, f.svc.OpenForDecline(ctx, "txn_1", "card_1"))

	_, err = f.store.GetByTransaction(ctx, "txn_1")
	assert.ErrorIs(t, err, ErrRequestNotFound, "no request opens on a blocked card")

	entries, err := f.led.History(ctx, "txn_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindAnnotation, entries[0].Kind)

	// Direct callers see the sentinel error
	_, err = f.svc.Open(ctx, "txn_2", "card_1")
	assert.ErrorIs(t, err, ErrCardBlocked)
}

func TestDuplicateOpenRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.open(t, "txn_1")
	err := f.svc.OpenForDecline(ctx, "txn_1", "card_1")
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

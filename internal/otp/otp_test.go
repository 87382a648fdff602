package otp

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/sentinel/internal/ledger"
)

type openerRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (o *openerRecorder) OpenForDecline(ctx context.Context, transactionID, cardID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, transactionID)
	return nil
}

func (o *openerRecorder) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *ledger.Ledger, *openerRecorder) {
	t.Helper()
	store := NewMemoryStore()
	led := ledger.New(ledger.NewMemoryStore())
	svc := NewService(store, led, nil, slog.Default())
	opener := &openerRecorder{}
	svc.SetConfirmationOpener(opener)
	return svc, store, led, opener
}

func issue(t *testing.T, svc *Service, txID string, ttl time.Duration) *Challenge {
	t.Helper()
	ch, err := svc.Issue(context.Background(), IssueParams{
		TransactionID:  txID,
		CardID:         "card_1",
		CustomerID:     "cust_1",
		ContactChannel: "sms",
		Address:        "+15550001111",
		TTL:            ttl,
	})
	require.NoError(t, err)
	return ch
}

func TestIssueCreatesPendingChallenge(t *testing.T) {
	svc, store, led, _ := newTestService(t)
	ctx := context.Background()

	ch := issue(t, svc, "txn_1", 5*time.Minute)

	assert.Equal(t, StatusPending, ch.Status)
	assert.NotEmpty(t, ch.CodeHash)
	assert.True(t, ch.ExpiresAt.After(time.Now()))

	stored, err := store.GetByTransaction(ctx, "txn_1")
	require.NoError(t, err)
	assert.Equal(t, ch.ID, stored.ID)

	entries, err := led.History(ctx, "txn_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindOTPIssued, entries[0].Kind)
}

func TestIssueDuplicateChallenge(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	issue(t, svc, "txn_1", 5*time.Minute)
	_, err := svc.Issue(context.Background(), IssueParams{
		TransactionID: "txn_1",
		CardID:        "card_1",
		CustomerID:    "cust_1",
		TTL:           5 * time.Minute,
	})
	assert.ErrorIs(t, err, ErrDuplicateChallenge)
}

func TestSubmitCorrectCodeConfirms(t *testing.T) {
	svc, store, led, opener := newTestService(t)
	ctx := context.Background()

	ch := issue(t, svc, "txn_1", 5*time.Minute)

	// Recover the code by brute force over the 6-digit space is overkill;
	// instead overwrite the stored hash with a known code's hash.
	store.mu.Lock()
	store.challenges[ch.ID].CodeHash = HashCode("123456")
	store.mu.Unlock()

	result, err := svc.Submit(ctx, "txn_1", "123456")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Outcome)
	assert.False(t, result.Idempotent)

	entries, err := led.History(ctx, "txn_1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindOTPConfirmed, entries[1].Kind)

	// Confirmation must not open for a confirmed challenge
	assert.Equal(t, 0, opener.count())
}

func TestSubmitWrongCodeRejectsAndOpensConfirmation(t *testing.T) {
	svc, store, led, opener := newTestService(t)
	ctx := context.Background()

	ch := issue(t, svc, "txn_1", 5*time.Minute)
	store.mu.Lock()
	store.challenges[ch.ID].CodeHash = HashCode("123456")
	store.mu.Unlock()

	result, err := svc.Submit(ctx, "txn_1", "654321")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Outcome)

	entries, err := led.History(ctx, "txn_1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindOTPRejected, entries[1].Kind)

	assert.Equal(t, 1, opener.count())
}

func TestSubmitJustBeforeExpiryIsValid(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	ch := issue(t, svc, "txn_1", time.Hour)
	store.mu.Lock()
	store.challenges[ch.ID].CodeHash = HashCode("123456")
	// One second shy of the deadline: still inside the window
	store.challenges[ch.ID].ExpiresAt = time.Now().Add(1 * time.Second)
	store.mu.Unlock()

	result, err := svc.Submit(ctx, "txn_1", "123456")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Outcome)
}

func TestSubmitAfterExpiryExpires(t *testing.T) {
	svc, store, led, opener := newTestService(t)
	ctx := context.Background()

	ch := issue(t, svc, "txn_1", time.Hour)
	store.mu.Lock()
	store.challenges[ch.ID].CodeHash = HashCode("123456")
	store.challenges[ch.ID].ExpiresAt = time.Now().Add(-1 * time.Second)
	store.mu.Unlock()

	// Even the correct code is too late
	result, err := svc.Submit(ctx, "txn_1", "123456")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, result.Outcome)

	entries, err := led.History(ctx, "txn_1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindOTPExpired, entries[1].Kind)

	assert.Equal(t, 1, opener.count())
}

func TestResubmitAfterConfirmedIsIdempotent(t *testing.T) {
	svc, store, led, _ := newTestService(t)
	ctx := context.Background()

	ch := issue(t, svc, "txn_1", 5*time.Minute)
	store.mu.Lock()
	store.challenges[ch.ID].CodeHash = HashCode("123456")
	store.mu.Unlock()

	first, err := svc.Submit(ctx, "txn_1", "123456")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, first.Outcome)

	// Second submission, even with a wrong code, returns the recorded
	// outcome and appends nothing.
	second, err := svc.Submit(ctx, "txn_1", "000000")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, second.Outcome)
	assert.True(t, second.Idempotent)

	entries, err := led.History(ctx, "txn_1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSubmitUnknownTransaction(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), "txn_missing", "123456")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestSweepExpiresPendingChallenges(t *testing.T) {
	svc, store, led, opener := newTestService(t)
	ctx := context.Background()

	past := issue(t, svc, "txn_old", time.Hour)
	issue(t, svc, "txn_fresh", time.Hour)
	store.mu.Lock()
	store.challenges[past.ID].ExpiresAt = time.Now().Add(-1 * time.Minute)
	store.mu.Unlock()

	count, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	resolved, err := store.Get(ctx, past.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, resolved.Status)

	fresh, err := store.GetByTransaction(ctx, "txn_fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fresh.Status)

	entries, err := led.History(ctx, "txn_old")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindOTPExpired, entries[1].Kind)

	assert.Equal(t, 1, opener.count())
}

func TestSubmitRacesExpirySweepFirstWins(t *testing.T) {
	svc, store, led, _ := newTestService(t)
	ctx := context.Background()

	ch := issue(t, svc, "txn_1", time.Hour)
	store.mu.Lock()
	store.challenges[ch.ID].CodeHash = HashCode("123456")
	store.challenges[ch.ID].ExpiresAt = time.Now().Add(-1 * time.Second)
	store.mu.Unlock()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Submit(ctx, "txn_1", "123456")
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Sweep(ctx)
		}()
	}
	wg.Wait()

	// Exactly one terminal transition was recorded
	entries, err := led.History(ctx, "txn_1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9')
		}
		seen[code] = true
	}
	// 50 draws from a million values should essentially never collide down
	// to a single code
	assert.Greater(t, len(seen), 1)
}

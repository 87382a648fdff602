package scoring

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func seedWindow(e *Engine, cardID string, entries []windowEntry) {
	w := e.getWindow(cardID)
	w.mu.Lock()
	w.entries = append(w.entries, entries...)
	w.mu.Unlock()
}

func TestNormalTransaction(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), "local-v1")

	// Seed history spread over 24h at known merchants in one country
	var seed []windowEntry
	for i := 0; i < 20; i++ {
		seed = append(seed, windowEntry{
			MerchantID: fmt.Sprintf("merchant_%d", i%5),
			Country:    "US",
			Amount:     25.00,
			Timestamp:  time.Now().Add(-time.Duration(i) * time.Hour),
		})
	}
	seedWindow(engine, "card_1", seed)

	// Transaction at a known merchant, normal amount, home country
	tx := &TransactionContext{
		TransactionID: "tx_1",
		CardID:        "card_1",
		MerchantID:    "merchant_1",
		Country:       "US",
		Amount:        25.00,
		Timestamp:     time.Now(),
	}

	result, err := engine.Score(context.Background(), tx, nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if result.Score >= 0.3 {
		t.Errorf("normal transaction score too high: %f (factors: %v)", result.Score, result.Factors)
	}
	if result.ModelVersion != "local-v1" {
		t.Errorf("expected model version local-v1, got %s", result.ModelVersion)
	}
}

func TestAmountSpike(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), "local-v1")

	var seed []windowEntry
	for i := 0; i < 50; i++ {
		seed = append(seed, windowEntry{
			MerchantID: "merchant_1",
			Country:    "US",
			Amount:     5.00,
			Timestamp:  time.Now().Add(-time.Duration(i) * 20 * time.Minute),
		})
	}
	seedWindow(engine, "card_1", seed)

	// 100x the average spend
	tx := &TransactionContext{
		TransactionID: "tx_1",
		CardID:        "card_1",
		MerchantID:    "merchant_1",
		Country:       "US",
		Amount:        500.00,
		Timestamp:     time.Now(),
	}

	result, err := engine.Score(context.Background(), tx, nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if result.Factors["amount"] < 0.7 {
		t.Errorf("amount factor too low for spike: %f", result.Factors["amount"])
	}
}

func TestNovelMerchant(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), "local-v1")

	for i := 0; i < 10; i++ {
		engine.Observe(&TransactionContext{
			CardID:     "card_1",
			MerchantID: "merchant_known",
			Country:    "US",
			Amount:     10.00,
			Timestamp:  time.Now(),
		})
	}

	tx := &TransactionContext{
		TransactionID: "tx_1",
		CardID:        "card_1",
		MerchantID:    "merchant_never_seen",
		Country:       "US",
		Amount:        10.00,
		Timestamp:     time.Now(),
	}

	result, err := engine.Score(context.Background(), tx, nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if result.Factors["novelty"] != 0.6 {
		t.Errorf("novel merchant factor should be 0.6, got %f", result.Factors["novelty"])
	}
}

func TestForeignCountry(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), "local-v1")

	var seed []windowEntry
	for i := 0; i < 10; i++ {
		seed = append(seed, windowEntry{
			MerchantID: "merchant_1",
			Country:    "US",
			Amount:     10.00,
			Timestamp:  time.Now().Add(-time.Duration(i) * time.Hour),
		})
	}
	seedWindow(engine, "card_1", seed)

	tx := &TransactionContext{
		TransactionID: "tx_1",
		CardID:        "card_1",
		MerchantID:    "merchant_1",
		Country:       "NG",
		Amount:        10.00,
		Timestamp:     time.Now(),
	}

	result, err := engine.Score(context.Background(), tx, nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if result.Factors["geography"] != 0.9 {
		t.Errorf("unseen country factor should be 0.9, got %f", result.Factors["geography"])
	}
}

func TestColdStartIsSafe(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), "local-v1")

	// First transaction ever on this card
	tx := &TransactionContext{
		TransactionID: "tx_1",
		CardID:        "card_new",
		MerchantID:    "merchant_1",
		Country:       "US",
		Amount:        10.00,
		Timestamp:     time.Now(),
	}

	result, err := engine.Score(context.Background(), tx, nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if result.Score != 0.0 {
		t.Errorf("cold start should score 0, got %f (factors: %v)", result.Score, result.Factors)
	}
}

func TestHistoryFactor(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), "local-v1")

	history := []HistoryEntry{
		{TransactionID: "tx_a", Action: "decline", CreatedAt: time.Now()},
		{TransactionID: "tx_b", Action: "require_otp", CreatedAt: time.Now()},
		{TransactionID: "tx_c", Action: "accept", CreatedAt: time.Now()},
	}

	tx := &TransactionContext{
		TransactionID: "tx_1",
		CardID:        "card_1",
		MerchantID:    "merchant_1",
		Country:       "US",
		Amount:        10.00,
		Timestamp:     time.Now(),
	}

	result, err := engine.Score(context.Background(), tx, history)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if result.Factors["history"] != 0.6 {
		t.Errorf("history factor should be 0.6 (decline + challenge), got %f", result.Factors["history"])
	}
}

func TestScoreClampedToUnitRange(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), "local-v1")

	history := make([]HistoryEntry, 5)
	for i := range history {
		history[i] = HistoryEntry{Action: "decline", CreatedAt: time.Now()}
	}

	var seed []windowEntry
	for i := 0; i < 50; i++ {
		seed = append(seed, windowEntry{
			MerchantID: "merchant_1",
			Country:    "US",
			Amount:     1.00,
			Timestamp:  time.Now().Add(-time.Duration(i) * 20 * time.Minute),
		})
	}
	seedWindow(engine, "card_1", seed)

	tx := &TransactionContext{
		TransactionID: "tx_1",
		CardID:        "card_1",
		MerchantID:    "merchant_fresh",
		Country:       "XX",
		Amount:        100000.00,
		Timestamp:     time.Now(),
	}

	result, err := engine.Score(context.Background(), tx, history)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if result.Score < 0.0 || result.Score > 1.0 {
		t.Errorf("score out of range: %f", result.Score)
	}
}

func TestBandFor(t *testing.T) {
	th := Thresholds{Low: 0.35, High: 0.70}

	tests := []struct {
		score float64
		want  Band
	}{
		{0.0, BandLow},
		{0.35, BandLow}, // boundary belongs to the lower band
		{0.36, BandMedium},
		{0.70, BandMedium},
		{0.71, BandHigh},
		{1.0, BandHigh},
	}

	for _, tc := range tests {
		if got := BandFor(tc.score, th); got != tc.want {
			t.Errorf("BandFor(%f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestWindowPruning(t *testing.T) {
	engine := NewEngine(nil, "local-v1")

	// Stale entry beyond the 24h window plus a fresh one
	seedWindow(engine, "card_1", []windowEntry{
		{MerchantID: "old", Country: "US", Amount: 1.00, Timestamp: time.Now().Add(-25 * time.Hour)},
	})
	engine.Observe(&TransactionContext{
		CardID: "card_1", MerchantID: "fresh", Country: "US", Amount: 1.00, Timestamp: time.Now(),
	})

	w := engine.getWindow("card_1")
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) != 1 {
		t.Errorf("expected stale entry pruned, got %d entries", len(w.entries))
	}
}

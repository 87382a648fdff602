package scoring

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/halcyonpay/sentinel/internal/idgen"
)

// windowEntry records a single transaction for sliding-window analysis.
type windowEntry struct {
	MerchantID string
	Country    string
	Amount     float64
	Timestamp  time.Time
}

const (
	maxWindowSize  = 1000
	windowDuration = 24 * time.Hour

	weightAmount    = 0.30
	weightNovelty   = 0.20
	weightGeography = 0.20
	weightTimeOfDay = 0.15
	weightHistory   = 0.15
)

// Engine scores transactions using in-memory sliding windows per card.
// It is the default scorer when no external scoring service is configured.
type Engine struct {
	windows      sync.Map // map[string]*cardWindow
	store        Store
	modelVersion string
}

type cardWindow struct {
	mu      sync.Mutex
	entries []windowEntry
}

// NewEngine creates a local scoring engine backed by the given audit store.
// store may be nil; assessments are then not persisted.
func NewEngine(store Store, modelVersion string) *Engine {
	return &Engine{store: store, modelVersion: modelVersion}
}

// Compile-time interface check
var _ Scorer = (*Engine)(nil)

// ModelVersion identifies the local model
func (e *Engine) ModelVersion() string {
	return e.modelVersion
}

// Score evaluates a transaction and returns a risk assessment.
// Pure in-memory computation, designed to run in <10ms.
func (e *Engine) Score(ctx context.Context, tx *TransactionContext, history []HistoryEntry) (*Assessment, error) {
	w := e.getWindow(tx.CardID)
	w.mu.Lock()
	entries := e.snapshotEntries(w, tx.Timestamp)
	w.mu.Unlock()

	factors := map[string]float64{
		"amount":      e.amountFactor(entries, tx.Amount),
		"novelty":     e.noveltyFactor(entries, tx.MerchantID),
		"geography":   e.geographyFactor(entries, tx.Country),
		"time_of_day": e.timeOfDayFactor(entries, tx.Timestamp),
		"history":     e.historyFactor(history),
	}

	score := factors["amount"]*weightAmount +
		factors["novelty"]*weightNovelty +
		factors["geography"]*weightGeography +
		factors["time_of_day"]*weightTimeOfDay +
		factors["history"]*weightHistory

	// Clamp to [0, 1]
	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}

	assessment := &Assessment{
		ID:            idgen.WithPrefix("asmt_"),
		TransactionID: tx.TransactionID,
		CardID:        tx.CardID,
		Score:         math.Round(score*1000) / 1000, // 3 decimal places
		Factors:       factors,
		ModelVersion:  e.modelVersion,
		EvaluatedAt:   time.Now(),
	}

	// Persist asynchronously (best-effort audit trail)
	if e.store != nil {
		go func() {
			_ = e.store.Record(context.Background(), assessment)
		}()
	}

	return assessment, nil
}

// Observe appends a completed transaction to the card's sliding window.
// The adjudicator calls this after scoring so each transaction becomes
// history for the next one.
func (e *Engine) Observe(tx *TransactionContext) {
	w := e.getWindow(tx.CardID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, windowEntry{
		MerchantID: tx.MerchantID,
		Country:    tx.Country,
		Amount:     tx.Amount,
		Timestamp:  tx.Timestamp,
	})
	e.pruneWindow(w)
}

// getWindow returns or creates the sliding window for a card.
func (e *Engine) getWindow(cardID string) *cardWindow {
	v, _ := e.windows.LoadOrStore(cardID, &cardWindow{})
	return v.(*cardWindow)
}

// snapshotEntries returns a copy of non-expired entries (caller holds lock).
func (e *Engine) snapshotEntries(w *cardWindow, now time.Time) []windowEntry {
	cutoff := now.Add(-windowDuration)
	result := make([]windowEntry, 0, len(w.entries))
	for _, entry := range w.entries {
		if entry.Timestamp.After(cutoff) {
			result = append(result, entry)
		}
	}
	return result
}

// pruneWindow removes entries older than 24h and caps at maxWindowSize.
func (e *Engine) pruneWindow(w *cardWindow) {
	cutoff := time.Now().Add(-windowDuration)
	start := 0
	for start < len(w.entries) && w.entries[start].Timestamp.Before(cutoff) {
		start++
	}
	if start > 0 {
		w.entries = w.entries[start:]
	}
	if len(w.entries) > maxWindowSize {
		w.entries = w.entries[len(w.entries)-maxWindowSize:]
	}
}

// amountFactor: current amount vs the card's 24h average spend.
// 10x the average = 0.5, 100x = 1.0, uses log10 scaling.
func (e *Engine) amountFactor(entries []windowEntry, amount float64) float64 {
	if len(entries) < 2 {
		return 0.0 // not enough history
	}

	var total float64
	for _, entry := range entries {
		total += entry.Amount
	}
	avg := total / float64(len(entries))
	if avg <= 0 {
		return 0.0
	}

	ratio := amount / avg
	if ratio <= 1.0 {
		return 0.0
	}

	// log10(ratio) / 2: 10x→0.5, 100x→1.0
	score := math.Log10(ratio) / 2.0
	if score > 1.0 {
		score = 1.0
	}
	return math.Round(score*1000) / 1000
}

// noveltyFactor: score based on how many times the card has paid this
// merchant. Never seen = 0.6, seen 1-2x = 0.3, seen 3+ = 0.0.
func (e *Engine) noveltyFactor(entries []windowEntry, merchantID string) float64 {
	count := 0
	for _, entry := range entries {
		if entry.MerchantID == merchantID {
			count++
		}
	}
	switch {
	case count >= 3:
		return 0.0
	case count >= 1:
		return 0.3
	default:
		if len(entries) == 0 {
			// No history at all, cold start, treat as safe
			return 0.0
		}
		return 0.6
	}
}

// geographyFactor: a country the card has never transacted in is the
// strongest single signal we have. Never seen = 0.9, seen once = 0.4.
func (e *Engine) geographyFactor(entries []windowEntry, country string) float64 {
	if country == "" || len(entries) == 0 {
		return 0.0
	}

	count := 0
	for _, entry := range entries {
		if entry.Country == country {
			count++
		}
	}
	switch {
	case count >= 2:
		return 0.0
	case count == 1:
		return 0.4
	default:
		return 0.9
	}
}

// timeOfDayFactor: measures how unusual the transaction hour is relative
// to history. Unusual hour (< 2% of transactions) = 0.8. Insufficient
// data (<10 txs) = 0.0.
func (e *Engine) timeOfDayFactor(entries []windowEntry, ts time.Time) float64 {
	if len(entries) < 10 {
		return 0.0
	}

	// Build hourly histogram
	var histogram [24]int
	for _, entry := range entries {
		histogram[entry.Timestamp.Hour()]++
	}

	fraction := float64(histogram[ts.Hour()]) / float64(len(entries))
	if fraction < 0.02 {
		return 0.8
	}
	return 0.0
}

// historyFactor: recent declines and challenges on the card raise risk.
// Each decline in the last 5 decisions adds 0.4, each challenge 0.2.
func (e *Engine) historyFactor(history []HistoryEntry) float64 {
	var score float64
	for i, h := range history {
		if i >= 5 {
			break
		}
		switch h.Action {
		case "decline":
			score += 0.4
		case "require_otp":
			score += 0.2
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

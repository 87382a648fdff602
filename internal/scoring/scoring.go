// Package scoring implements real-time transaction risk scoring.
//
// Every incoming card transaction is evaluated against weighted factors:
// spend velocity, merchant novelty, time-of-day deviation, geography, and
// recent adjudication history. Scores range from 0.0 (safe) to 1.0 (high
// risk) and map onto three bands via per-bank thresholds. When scoring is
// unavailable the adjudicator falls back to challenging the customer, so
// the scorer reports failure instead of guessing.
package scoring

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable signals that no score could be produced. Callers must
// treat the transaction as unscored, never as safe.
var ErrUnavailable = errors.New("scoring: capability unavailable")

// Band buckets a score by per-bank thresholds.
type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// Thresholds partition the [0,1] score range.
// score <= Low is BandLow, score <= High is BandMedium, above is BandHigh.
type Thresholds struct {
	Low  float64
	High float64
}

// BandFor maps a score onto a band
func BandFor(score float64, t Thresholds) Band {
	switch {
	case score <= t.Low:
		return BandLow
	case score <= t.High:
		return BandMedium
	default:
		return BandHigh
	}
}

// Assessment is the result of scoring a single transaction.
type Assessment struct {
	ID            string             `json:"id"`
	TransactionID string             `json:"transactionId"`
	CardID        string             `json:"cardId"`
	Score         float64            `json:"score"`
	Factors       map[string]float64 `json:"factors,omitempty"`
	ModelVersion  string             `json:"modelVersion"`
	EvaluatedAt   time.Time          `json:"evaluatedAt"`
}

// TransactionContext carries the data needed to score a transaction.
// Populated from the submitted transaction — no extra DB queries.
type TransactionContext struct {
	TransactionID    string
	CardID           string
	BankID           string
	Amount           float64
	Currency         string
	MerchantID       string
	MerchantCategory string
	Country          string
	Timestamp        time.Time
}

// HistoryEntry is one prior adjudication outcome for the card, newest
// first. Derived from the audit ledger's decision entries.
type HistoryEntry struct {
	TransactionID string
	Action        string // "accept", "decline", "require_otp"
	CreatedAt     time.Time
}

// Scorer produces a risk assessment for a transaction.
// Implementations return ErrUnavailable (possibly wrapped) when they
// cannot score; they never fabricate a score.
type Scorer interface {
	Score(ctx context.Context, tx *TransactionContext, history []HistoryEntry) (*Assessment, error)
	ModelVersion() string
}

// Store persists assessments for audit.
type Store interface {
	Record(ctx context.Context, assessment *Assessment) error
	ListByCard(ctx context.Context, cardID string, limit int) ([]*Assessment, error)
}

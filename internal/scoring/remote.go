package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/halcyonpay/sentinel/internal/logging"
	"github.com/halcyonpay/sentinel/internal/metrics"
)

// RemoteScorer calls an external scoring service over HTTP.
// Any transport failure, timeout, or malformed response is reported as
// ErrUnavailable so the adjudicator can fail safe.
type RemoteScorer struct {
	url    string
	client *http.Client
}

// NewRemoteScorer creates a scorer that POSTs to the given URL.
func NewRemoteScorer(url string, timeout time.Duration) *RemoteScorer {
	return &RemoteScorer{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Compile-time interface check
var _ Scorer = (*RemoteScorer)(nil)

// ModelVersion is reported by the remote service per response; the static
// identifier only names the integration.
func (r *RemoteScorer) ModelVersion() string {
	return "remote"
}

// scoreRequest is the wire payload sent to the scoring service
type scoreRequest struct {
	TransactionID    string             `json:"transaction_id"`
	CardID           string             `json:"card_id"`
	BankID           string             `json:"bank_id"`
	Amount           float64            `json:"amount"`
	Currency         string             `json:"currency"`
	MerchantID       string             `json:"merchant_id"`
	MerchantCategory string             `json:"merchant_category,omitempty"`
	Country          string             `json:"country,omitempty"`
	Timestamp        time.Time          `json:"timestamp"`
	History          []scoreHistoryItem `json:"history,omitempty"`
}

type scoreHistoryItem struct {
	TransactionID string    `json:"transaction_id"`
	Action        string    `json:"action"`
	CreatedAt     time.Time `json:"created_at"`
}

// scoreResponse is the wire payload returned by the scoring service
type scoreResponse struct {
	Score        float64            `json:"score"`
	Factors      map[string]float64 `json:"factors,omitempty"`
	ModelVersion string             `json:"model_version"`
}

// Score calls the remote service and translates every failure mode into
// ErrUnavailable.
func (r *RemoteScorer) Score(ctx context.Context, tx *TransactionContext, history []HistoryEntry) (*Assessment, error) {
	timer := time.Now()
	defer func() {
		metrics.ScoringDuration.Observe(time.Since(timer).Seconds())
	}()

	payload := scoreRequest{
		TransactionID:    tx.TransactionID,
		CardID:           tx.CardID,
		BankID:           tx.BankID,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		MerchantID:       tx.MerchantID,
		MerchantCategory: tx.MerchantCategory,
		Country:          tx.Country,
		Timestamp:        tx.Timestamp,
	}
	for _, h := range history {
		payload.History = append(payload.History, scoreHistoryItem{
			TransactionID: h.TransactionID,
			Action:        h.Action,
			CreatedAt:     h.CreatedAt,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		logging.L(ctx).Warn("scoring service unreachable", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logging.L(ctx).Warn("scoring service error", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if sr.Score < 0 || sr.Score > 1 {
		return nil, fmt.Errorf("%w: score %.3f out of range", ErrUnavailable, sr.Score)
	}

	return &Assessment{
		TransactionID: tx.TransactionID,
		CardID:        tx.CardID,
		Score:         sr.Score,
		Factors:       sr.Factors,
		ModelVersion:  sr.ModelVersion,
		EvaluatedAt:   time.Now(),
	}, nil
}

// Package decision maps risk assessments onto adjudication actions and
// records every verdict in the audit ledger before it is returned.
//
// The mapping is fixed: a low-band score accepts, a medium-band score
// challenges the customer with an OTP, a high-band score declines. A
// blocked card declines without scoring, and an unavailable scorer fails
// safe into an OTP challenge rather than guessing either way.
package decision

import (
	"context"

	"github.com/halcyonpay/sentinel/internal/ledger"
	"github.com/halcyonpay/sentinel/internal/metrics"
	"github.com/halcyonpay/sentinel/internal/scoring"
)

// Action is the adjudication verdict for a transaction
type Action string

const (
	ActionAccept     Action = "accept"
	ActionDecline    Action = "decline"
	ActionRequireOTP Action = "require_otp"
)

// Detail strings recorded with non-scored decisions
const (
	DetailCardBlocked        = "card blocked"
	DetailScoringUnavailable = "scoring unavailable, fail-safe challenge"
	DetailAttemptLimit       = "suspicious attempt limit reached"
)

// Outcome is a recorded decision
type Outcome struct {
	Action       Action        `json:"action"`
	Band         scoring.Band  `json:"band,omitempty"`
	Score        *float64      `json:"score,omitempty"`
	ModelVersion string        `json:"modelVersion,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	Entry        *ledger.Entry `json:"-"`
}

// Engine turns assessments into recorded decisions
type Engine struct {
	ledger *ledger.Ledger
}

// NewEngine creates a decision engine writing to the given ledger
func NewEngine(l *ledger.Ledger) *Engine {
	return &Engine{ledger: l}
}

// ActionFor maps a band onto an action
func ActionFor(band scoring.Band) Action {
	switch band {
	case scoring.BandLow:
		return ActionAccept
	case scoring.BandMedium:
		return ActionRequireOTP
	default:
		return ActionDecline
	}
}

// Decide records the verdict for a scored transaction.
// Returns ledger.ErrDecisionExists if the transaction was already decided.
func (e *Engine) Decide(ctx context.Context, transactionID, cardID string, assessment *scoring.Assessment, th scoring.Thresholds) (*Outcome, error) {
	band := scoring.BandFor(assessment.Score, th)
	action := ActionFor(band)
	score := assessment.Score

	entry, err := e.ledger.RecordDecision(ctx, transactionID, cardID,
		string(action), string(band), &score, assessment.ModelVersion, "")
	if err != nil {
		return nil, err
	}

	metrics.DecisionsTotal.WithLabelValues(string(action)).Inc()
	return &Outcome{
		Action:       action,
		Band:         band,
		Score:        &score,
		ModelVersion: assessment.ModelVersion,
		Entry:        entry,
	}, nil
}

// DecideFailSafe records a challenge verdict for a transaction that could
// not be scored. Fail-safe means neither silently accepting the risk nor
// punishing the customer for an internal outage.
func (e *Engine) DecideFailSafe(ctx context.Context, transactionID, cardID string) (*Outcome, error) {
	entry, err := e.ledger.RecordDecision(ctx, transactionID, cardID,
		string(ActionRequireOTP), "", nil, "", DetailScoringUnavailable)
	if err != nil {
		return nil, err
	}

	metrics.ScoringFailsafeTotal.Inc()
	metrics.DecisionsTotal.WithLabelValues(string(ActionRequireOTP)).Inc()
	return &Outcome{
		Action: ActionRequireOTP,
		Detail: DetailScoringUnavailable,
		Entry:  entry,
	}, nil
}

// DeclineBlocked records the decline verdict for a transaction on a
// blocked card. Scoring is bypassed entirely.
func (e *Engine) DeclineBlocked(ctx context.Context, transactionID, cardID string) (*Outcome, error) {
	entry, err := e.ledger.RecordDecision(ctx, transactionID, cardID,
		string(ActionDecline), "", nil, "", DetailCardBlocked)
	if err != nil {
		return nil, err
	}

	metrics.DecisionsTotal.WithLabelValues(string(ActionDecline)).Inc()
	return &Outcome{
		Action: ActionDecline,
		Detail: DetailCardBlocked,
		Entry:  entry,
	}, nil
}

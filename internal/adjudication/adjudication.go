// Package adjudication orchestrates the synchronous transaction path:
// validate, consult card state, score, decide, and open whatever
// follow-up workflow the decision requires.
//
// The caller gets the verdict in one round trip. A blocked card declines
// without scoring and without opening prompts; a medium-band score
// issues an OTP challenge; a high-band score declines and opens the
// customer confirmation. Scoring outages fail safe into a challenge.
// Re-submitting a decided transaction returns the recorded verdict.
package adjudication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/halcyonpay/sentinel/internal/config"
	"github.com/halcyonpay/sentinel/internal/confirmation"
	"github.com/halcyonpay/sentinel/internal/decision"
	"github.com/halcyonpay/sentinel/internal/ledger"
	"github.com/halcyonpay/sentinel/internal/otp"
	"github.com/halcyonpay/sentinel/internal/registry"
	"github.com/halcyonpay/sentinel/internal/scoring"
	"github.com/halcyonpay/sentinel/internal/traces"
)

// Observer receives every scored transaction for behavioral windows.
// The local scoring engine implements it; a remote scorer maintains its
// own state and needs no observer.
type Observer interface {
	Observe(tx *scoring.TransactionContext)
}

// Result is the synchronous adjudication response
type Result struct {
	TransactionID  string          `json:"transactionId"`
	Action         decision.Action `json:"action"`
	Band           scoring.Band    `json:"band,omitempty"`
	Score          *float64        `json:"score,omitempty"`
	ModelVersion   string          `json:"modelVersion,omitempty"`
	Detail         string          `json:"detail,omitempty"`
	ChallengeID    string          `json:"challengeId,omitempty"`
	ConfirmationID string          `json:"confirmationId,omitempty"`
	// Idempotent is true when the transaction was already decided and the
	// recorded verdict was returned.
	Idempotent bool `json:"idempotent,omitempty"`
}

// PolicyFunc returns the adjudication policy for a bank
type PolicyFunc func(bankID string) config.BankPolicy

// Service runs the adjudication path
type Service struct {
	registry      registry.Store
	ledger        *ledger.Ledger
	scorer        scoring.Scorer
	decisions     *decision.Engine
	otp           *otp.Service
	confirmations *confirmation.Service
	observer      Observer
	policyFor     PolicyFunc
	logger        *slog.Logger
}

// NewService creates the adjudication orchestrator
func NewService(
	reg registry.Store,
	l *ledger.Ledger,
	scorer scoring.Scorer,
	decisions *decision.Engine,
	otpSvc *otp.Service,
	confirmations *confirmation.Service,
	policyFor PolicyFunc,
	logger *slog.Logger,
) *Service {
	return &Service{
		registry:      reg,
		ledger:        l,
		scorer:        scorer,
		decisions:     decisions,
		otp:           otpSvc,
		confirmations: confirmations,
		policyFor:     policyFor,
		logger:        logger,
	}
}

// SetObserver wires the behavioral window sink. Call during startup.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// Process adjudicates one transaction end to end.
// Returns registry.ErrCardNotFound for unknown cards, before any scoring.
func (s *Service) Process(ctx context.Context, tx *scoring.TransactionContext) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "adjudication.process",
		traces.TransactionID(tx.TransactionID),
		traces.CardID(tx.CardID),
	)
	defer span.End()

	card, err := s.registry.GetCard(ctx, tx.CardID)
	if err != nil {
		return nil, err
	}
	tx.BankID = card.BankID
	policy := s.policyFor(card.BankID)

	if card.Blocked() {
		return s.declineBlocked(ctx, tx, card)
	}

	outcome, scored, err := s.score(ctx, tx, policy)
	if err != nil {
		if errors.Is(err, ledger.ErrDecisionExists) {
			return s.recorded(ctx, tx.TransactionID)
		}
		return nil, err
	}
	if scored && s.observer != nil {
		s.observer.Observe(tx)
	}

	result := &Result{
		TransactionID: tx.TransactionID,
		Action:        outcome.Action,
		Band:          outcome.Band,
		Score:         outcome.Score,
		ModelVersion:  outcome.ModelVersion,
		Detail:        outcome.Detail,
	}

	switch outcome.Action {
	case decision.ActionRequireOTP:
		if err := s.openChallenge(ctx, tx, card, policy, result); err != nil {
			return nil, err
		}
	case decision.ActionDecline:
		if err := s.openConfirmation(ctx, tx, result); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(
		traces.Action(string(result.Action)),
		traces.Band(string(result.Band)),
	)
	s.logger.Info("transaction adjudicated",
		"transaction", tx.TransactionID,
		"card", card.ID,
		"action", result.Action,
		"band", result.Band,
	)
	return result, nil
}

// score produces the recorded decision, failing safe when the scorer is
// down. The second return reports whether a real score was produced.
func (s *Service) score(ctx context.Context, tx *scoring.TransactionContext, policy config.BankPolicy) (*decision.Outcome, bool, error) {
	history, err := s.history(ctx, tx.CardID)
	if err != nil {
		s.logger.Warn("failed to load card history, scoring without it",
			"card", tx.CardID, "error", err)
	}

	assessment, err := s.scorer.Score(ctx, tx, history)
	if err != nil {
		if !errors.Is(err, scoring.ErrUnavailable) {
			return nil, false, fmt.Errorf("scorer failed: %w", err)
		}
		s.logger.Warn("scoring unavailable, failing safe to challenge",
			"transaction", tx.TransactionID, "error", err)
		outcome, derr := s.decisions.DecideFailSafe(ctx, tx.TransactionID, tx.CardID)
		return outcome, false, derr
	}

	th := scoring.Thresholds{Low: policy.ThresholdLow, High: policy.ThresholdHigh}
	outcome, err := s.decisions.Decide(ctx, tx.TransactionID, tx.CardID, assessment, th)
	return outcome, true, err
}

func (s *Service) history(ctx context.Context, cardID string) ([]scoring.HistoryEntry, error) {
	entries, err := s.ledger.CardDecisions(ctx, cardID, 50)
	if err != nil {
		return nil, err
	}
	history := make([]scoring.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		history = append(history, scoring.HistoryEntry{
			TransactionID: e.TransactionID,
			Action:        e.Action,
			CreatedAt:     e.CreatedAt,
		})
	}
	return history, nil
}

// declineBlocked records the unconditional decline. No prompt opens: the
// card state is final and the customer was already notified at block time.
func (s *Service) declineBlocked(ctx context.Context, tx *scoring.TransactionContext, card *registry.Card) (*Result, error) {
	outcome, err := s.decisions.DeclineBlocked(ctx, tx.TransactionID, card.ID)
	if err != nil {
		if errors.Is(err, ledger.ErrDecisionExists) {
			return s.recorded(ctx, tx.TransactionID)
		}
		return nil, err
	}

	s.logger.Info("transaction declined, card blocked",
		"transaction", tx.TransactionID, "card", card.ID)
	return &Result{
		TransactionID: tx.TransactionID,
		Action:        outcome.Action,
		Detail:        outcome.Detail,
	}, nil
}

func (s *Service) openChallenge(ctx context.Context, tx *scoring.TransactionContext, card *registry.Card, policy config.BankPolicy, result *Result) error {
	customer, err := s.registry.GetCustomer(ctx, card.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to load customer for challenge: %w", err)
	}

	ch, err := s.otp.Issue(ctx, otp.IssueParams{
		TransactionID:  tx.TransactionID,
		CardID:         card.ID,
		CustomerID:     customer.ID,
		ContactChannel: customer.Channel,
		Address:        customer.Address,
		TTL:            policy.OTPTTL,
	})
	if err != nil {
		if errors.Is(err, otp.ErrDuplicateChallenge) {
			if existing, gerr := s.otp.ChallengeFor(ctx, tx.TransactionID); gerr == nil {
				result.ChallengeID = existing.ID
				return nil
			}
		}
		return fmt.Errorf("failed to issue challenge: %w", err)
	}
	result.ChallengeID = ch.ID
	return nil
}

func (s *Service) openConfirmation(ctx context.Context, tx *scoring.TransactionContext, result *Result) error {
	req, err := s.confirmations.Open(ctx, tx.TransactionID, tx.CardID)
	if err != nil {
		if errors.Is(err, confirmation.ErrDuplicateRequest) {
			if existing, gerr := s.confirmations.RequestFor(ctx, tx.TransactionID); gerr == nil {
				result.ConfirmationID = existing.ID
				return nil
			}
		}
		if errors.Is(err, confirmation.ErrCardBlocked) {
			// Blocked cards get no prompt; the decline stands on its own
			return nil
		}
		return fmt.Errorf("failed to open confirmation: %w", err)
	}
	result.ConfirmationID = req.ID
	return nil
}

// recorded rebuilds the response for an already-decided transaction,
// re-attaching whatever workflow the original decision opened.
func (s *Service) recorded(ctx context.Context, transactionID string) (*Result, error) {
	entry, err := s.ledger.GetDecision(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		TransactionID: transactionID,
		Action:        decision.Action(entry.Action),
		Band:          scoring.Band(entry.Band),
		Score:         entry.Score,
		ModelVersion:  entry.ModelVersion,
		Detail:        entry.Detail,
		Idempotent:    true,
	}
	if ch, err := s.otp.ChallengeFor(ctx, transactionID); err == nil {
		result.ChallengeID = ch.ID
	}
	if req, err := s.confirmations.RequestFor(ctx, transactionID); err == nil {
		result.ConfirmationID = req.ID
	}
	return result, nil
}

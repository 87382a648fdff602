// Package protection implements the per-card suspicious-attempt state
// machine.
//
// Every transaction whose confirmation resolves against the customer
// (flagged fraud or no response) contributes exactly one suspicious
// attempt to its card. The fraud case's transaction membership is the
// idempotency gate: a transaction already in the case never increments
// again, no matter how many paths report it. A customer confirming fraud
// escalates the case to the fraud team right away; when the attempt
// count reaches the bank's block limit the card transitions to blocked
// exactly once. Later suspicious events on a blocked card are appended
// to the case only.
package protection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/halcyonpay/sentinel/internal/cases"
	"github.com/halcyonpay/sentinel/internal/ledger"
	"github.com/halcyonpay/sentinel/internal/metrics"
	"github.com/halcyonpay/sentinel/internal/notify"
	"github.com/halcyonpay/sentinel/internal/registry"
	"github.com/halcyonpay/sentinel/internal/syncutil"
)

// LimitFunc returns the block limit for a bank
type LimitFunc func(bankID string) int

// reasonConfirmedFraud marks attempts where the customer explicitly
// flagged the transaction as fraud. Those escalate the case to the
// fraud team immediately instead of waiting for the block limit.
const reasonConfirmedFraud = "confirmed_fraud"

// Service serializes suspicious-attempt accounting per card
type Service struct {
	registry registry.Store
	cases    cases.Store
	ledger   *ledger.Ledger
	emitter  *notify.Emitter
	limitFor LimitFunc
	logger   *slog.Logger

	locks syncutil.ContextShardedMutex
}

// NewService creates the card protection service
func NewService(reg registry.Store, caseStore cases.Store, l *ledger.Ledger, emitter *notify.Emitter, limitFor LimitFunc, logger *slog.Logger) *Service {
	return &Service{
		registry: reg,
		cases:    caseStore,
		ledger:   l,
		emitter:  emitter,
		limitFor: limitFor,
		logger:   logger,
	}
}

// RecordSuspicious counts one suspicious attempt for a transaction
// against its card. Safe to call more than once for the same
// transaction: only the first call changes anything.
//
// Satisfies the confirmation package's ProtectionHook.
func (s *Service) RecordSuspicious(ctx context.Context, cardID, transactionID, reason string) error {
	unlock, err := s.locks.LockContext(ctx, cardID)
	if err != nil {
		return err
	}
	defer unlock()

	card, err := s.registry.GetCard(ctx, cardID)
	if err != nil {
		return fmt.Errorf("failed to load card: %w", err)
	}

	fc, err := s.cases.OpenOrGet(ctx, cardID)
	if err != nil {
		return fmt.Errorf("failed to open fraud case: %w", err)
	}

	added, err := s.cases.AddTransaction(ctx, fc.ID, transactionID)
	if err != nil {
		return fmt.Errorf("failed to record case transaction: %w", err)
	}
	if !added {
		// Already counted for this transaction
		return nil
	}

	metrics.SuspiciousAttemptsTotal.WithLabelValues(reason).Inc()

	if card.Blocked() {
		// The case keeps accumulating; the card state is final
		if reason == reasonConfirmedFraud {
			s.escalate(ctx, fc, cardID)
		}
		s.logger.Info("suspicious attempt on blocked card appended to case",
			"card", cardID, "transaction", transactionID, "case", fc.ID)
		return nil
	}

	count, err := s.registry.IncrementSuspicious(ctx, cardID)
	if err != nil {
		// Undo the case membership so a retry counts the transaction again
		if rmErr := s.cases.RemoveTransaction(ctx, fc.ID, transactionID); rmErr != nil {
			s.logger.Error("failed to undo case transaction after increment error",
				"case", fc.ID, "transaction", transactionID, "error", rmErr)
		}
		return fmt.Errorf("failed to increment attempt count: %w", err)
	}

	s.logger.Info("suspicious attempt recorded",
		"card", cardID, "transaction", transactionID, "reason", reason, "count", count)

	if reason == reasonConfirmedFraud {
		s.escalate(ctx, fc, cardID)
	}

	if count < s.limitFor(card.BankID) {
		return nil
	}
	return s.block(ctx, card, fc, transactionID, count)
}

// escalate hands the case to the fraud team. Idempotent per call site:
// an already-escalated case is left alone and nothing is re-emitted.
func (s *Service) escalate(ctx context.Context, fc *cases.FraudCase, cardID string) {
	if fc.Status == cases.StatusEscalated {
		return
	}
	if err := s.cases.Escalate(ctx, fc.ID); err != nil {
		s.logger.Error("failed to escalate fraud case", "case", fc.ID, "error", err)
		return
	}
	fc.Status = cases.StatusEscalated

	txIDs := fc.TransactionIDs
	if current, err := s.cases.Get(ctx, fc.ID); err == nil {
		txIDs = current.TransactionIDs
	}
	s.emitter.EmitCaseEscalated(fc.ID, cardID, txIDs)
	s.logger.Warn("fraud case escalated", "case", fc.ID, "card", cardID)
}

// block transitions the card to blocked. The registry guarantees the
// transition happens at most once; only the winning caller emits the
// block event and notifications.
func (s *Service) block(ctx context.Context, card *registry.Card, fc *cases.FraudCase, transactionID string, count int) error {
	reason := fmt.Sprintf("suspicious attempt limit reached (%d)", count)

	blocked, err := s.registry.BlockCard(ctx, card.ID, reason)
	if err != nil {
		return fmt.Errorf("failed to block card: %w", err)
	}
	if !blocked {
		// Another event won the transition
		return nil
	}

	metrics.CardsBlockedTotal.Inc()
	if _, err := s.ledger.RecordEvent(ctx, ledger.KindCardBlocked, transactionID, card.ID, reason); err != nil {
		s.logger.Error("failed to record block event", "card", card.ID, "error", err)
	}

	s.escalate(ctx, fc, card.ID)

	s.logger.Warn("card blocked", "card", card.ID, "case", fc.ID, "attempts", count)

	s.notifyBlocked(ctx, card, fc, reason)
	return nil
}

func (s *Service) notifyBlocked(ctx context.Context, card *registry.Card, fc *cases.FraudCase, reason string) {
	s.emitter.EmitCardBlocked(card.ID, fc.ID, reason)

	customer, err := s.registry.GetCustomer(ctx, card.CustomerID)
	if err != nil {
		s.logger.Warn("failed to load customer for block notice", "card", card.ID, "error", err)
		return
	}
	s.emitter.EmitCardBlockedNotice(customer.ID, customer.Channel, customer.Address, card.ID, reason)
}

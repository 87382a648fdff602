package otp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/halcyonpay/sentinel/internal/idgen"
	"github.com/halcyonpay/sentinel/internal/ledger"
	"github.com/halcyonpay/sentinel/internal/metrics"
	"github.com/halcyonpay/sentinel/internal/notify"
	"github.com/halcyonpay/sentinel/internal/traces"
)

// ConfirmationOpener opens a customer confirmation for a transaction
// whose challenge resolved against the customer. Implemented by the
// confirmation service; kept as an interface so this package does not
// depend on that workflow.
type ConfirmationOpener interface {
	OpenForDecline(ctx context.Context, transactionID, cardID string) error
}

// IssueParams carries everything needed to issue and deliver a challenge
type IssueParams struct {
	TransactionID  string
	CardID         string
	CustomerID     string
	ContactChannel string
	Address        string
	TTL            time.Duration
}

// SubmitResult is the outcome of a code submission
type SubmitResult struct {
	Challenge *Challenge
	Outcome   Status
	// Idempotent is true when the challenge was already resolved and
	// this submission produced no new events.
	Idempotent bool
}

// Service drives the challenge lifecycle
type Service struct {
	store         Store
	ledger        *ledger.Ledger
	emitter       *notify.Emitter
	confirmations ConfirmationOpener
	logger        *slog.Logger
}

// NewService creates the OTP workflow service
func NewService(store Store, l *ledger.Ledger, emitter *notify.Emitter, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		ledger:  l,
		emitter: emitter,
		logger:  logger,
	}
}

// SetConfirmationOpener wires the decline follow-up workflow.
// Call during startup, before serving traffic.
func (s *Service) SetConfirmationOpener(c ConfirmationOpener) {
	s.confirmations = c
}

// Issue creates a pending challenge for a transaction and dispatches the
// code toward the customer's device. Returns ErrDuplicateChallenge if the
// transaction already has one.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*Challenge, error) {
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	now := time.Now()
	ch := &Challenge{
		ID:            idgen.WithPrefix("otp_"),
		TransactionID: p.TransactionID,
		CardID:        p.CardID,
		CustomerID:    p.CustomerID,
		CodeHash:      HashCode(code),
		Status:        StatusPending,
		ExpiresAt:     now.Add(p.TTL),
		CreatedAt:     now,
	}

	if err := s.store.Create(ctx, ch); err != nil {
		return nil, err
	}

	metrics.OTPChallengesTotal.WithLabelValues("issued").Inc()
	if _, err := s.ledger.RecordEvent(ctx, ledger.KindOTPIssued, p.TransactionID, p.CardID, "challenge "+ch.ID); err != nil {
		s.logger.Warn("failed to record otp issue", "challenge", ch.ID, "error", err)
	}

	s.emitter.EmitOTPCode(p.CustomerID, p.ContactChannel, p.Address, code, p.TransactionID, ch.ExpiresAt)
	return ch, nil
}

// ChallengeFor returns the transaction's challenge, if any
func (s *Service) ChallengeFor(ctx context.Context, transactionID string) (*Challenge, error) {
	return s.store.GetByTransaction(ctx, transactionID)
}

// Submit verifies a code against the transaction's challenge.
//
// A correct code strictly before expires_at confirms; a wrong code
// rejects; a submission at or past expires_at expires the challenge.
// Re-submitting against a resolved challenge returns the recorded
// outcome without producing new events.
func (s *Service) Submit(ctx context.Context, transactionID, code string) (*SubmitResult, error) {
	ctx, span := traces.StartSpan(ctx, "otp.submit", traces.TransactionID(transactionID))
	defer span.End()

	ch, err := s.store.GetByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.ChallengeID(ch.ID))
	if ch.Resolved() {
		return &SubmitResult{Challenge: ch, Outcome: ch.Status, Idempotent: true}, nil
	}

	now := time.Now()
	if !now.Before(ch.ExpiresAt) {
		return s.resolve(ctx, ch, StatusExpired, now)
	}

	hash := HashCode(code)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(ch.CodeHash)) == 1 {
		return s.resolve(ctx, ch, StatusConfirmed, now)
	}
	return s.resolve(ctx, ch, StatusRejected, now)
}

// Sweep expires every pending challenge past its deadline. Returns the
// number of challenges this sweep resolved.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	expired, err := s.store.ListExpired(ctx, now, 100)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, ch := range expired {
		res, err := s.resolve(ctx, ch, StatusExpired, now)
		if err != nil {
			s.logger.Warn("failed to expire challenge", "challenge", ch.ID, "error", err)
			continue
		}
		if !res.Idempotent {
			count++
		}
	}
	return count, nil
}

// resolve applies one terminal transition. The store decides the race:
// if another caller already resolved the challenge, the recorded outcome
// is returned and no events fire.
func (s *Service) resolve(ctx context.Context, ch *Challenge, status Status, at time.Time) (*SubmitResult, error) {
	won, err := s.store.Resolve(ctx, ch.ID, status, at)
	if err != nil {
		return nil, err
	}
	if !won {
		recorded, err := s.store.Get(ctx, ch.ID)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Challenge: recorded, Outcome: recorded.Status, Idempotent: true}, nil
	}

	ch.Status = status
	ch.ResolvedAt = &at
	metrics.OTPChallengesTotal.WithLabelValues(string(status)).Inc()

	kind, detail := eventFor(status)
	if _, err := s.ledger.RecordEvent(ctx, kind, ch.TransactionID, ch.CardID, detail); err != nil {
		s.logger.Warn("failed to record otp outcome", "challenge", ch.ID, "status", status, "error", err)
	}

	// A rejected or expired challenge finalizes the decline, which opens
	// the "was this you?" confirmation with the customer.
	if status == StatusRejected || status == StatusExpired {
		if s.confirmations != nil {
			if err := s.confirmations.OpenForDecline(ctx, ch.TransactionID, ch.CardID); err != nil {
				s.logger.Warn("failed to open confirmation after otp failure",
					"transaction", ch.TransactionID, "error", err)
			}
		}
	}

	return &SubmitResult{Challenge: ch, Outcome: status}, nil
}

func eventFor(status Status) (ledger.Kind, string) {
	switch status {
	case StatusConfirmed:
		return ledger.KindOTPConfirmed, "code verified"
	case StatusRejected:
		return ledger.KindOTPRejected, "code mismatch"
	default:
		return ledger.KindOTPExpired, "challenge expired"
	}
}

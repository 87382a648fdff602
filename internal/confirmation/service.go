package confirmation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/halcyonpay/sentinel/internal/idgen"
	"github.com/halcyonpay/sentinel/internal/ledger"
	"github.com/halcyonpay/sentinel/internal/metrics"
	"github.com/halcyonpay/sentinel/internal/notify"
	"github.com/halcyonpay/sentinel/internal/registry"
	"github.com/halcyonpay/sentinel/internal/traces"
)

// ProtectionHook receives one suspicious-attempt event per transaction
// whose confirmation resolved against the customer. Implemented by the
// card protection state machine.
type ProtectionHook interface {
	RecordSuspicious(ctx context.Context, cardID, transactionID, reason string) error
}

// Suspicious-attempt reasons passed to the protection hook
const (
	ReasonConfirmedFraud = "confirmed_fraud"
	ReasonNoResponse     = "no_response"
)

// TTLFunc returns the confirmation response window for a bank
type TTLFunc func(bankID string) time.Duration

// RespondResult is the outcome of a customer response
type RespondResult struct {
	Request *Request
	Outcome Status
	// Late is true when the request had already resolved; the response
	// was recorded as an annotation only.
	Late bool
}

// Service drives the confirmation lifecycle
type Service struct {
	store      Store
	registry   registry.Store
	ledger     *ledger.Ledger
	emitter    *notify.Emitter
	protection ProtectionHook
	ttlFor     TTLFunc
	logger     *slog.Logger
}

// NewService creates the confirmation workflow service
func NewService(store Store, reg registry.Store, l *ledger.Ledger, emitter *notify.Emitter, ttlFor TTLFunc, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		registry: reg,
		ledger:   l,
		emitter:  emitter,
		ttlFor:   ttlFor,
		logger:   logger,
	}
}

// SetProtectionHook wires the card protection state machine.
// Call during startup, before serving traffic.
func (s *Service) SetProtectionHook(p ProtectionHook) {
	s.protection = p
}

// OpenForDecline opens a confirmation request for a declined transaction.
// A blocked card is not an error here: the decline already happened and
// the suppression is recorded on the ledger.
// Satisfies the otp package's ConfirmationOpener.
func (s *Service) OpenForDecline(ctx context.Context, transactionID, cardID string) error {
	_, err := s.Open(ctx, transactionID, cardID)
	if err == ErrCardBlocked {
		return nil
	}
	return err
}

// Open opens a confirmation request for a declined transaction and
// dispatches the "was this you?" message. The response deadline is fixed
// here; delivery failures downstream never move it.
func (s *Service) Open(ctx context.Context, transactionID, cardID string) (*Request, error) {
	card, err := s.registry.GetCard(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load card: %w", err)
	}
	if card.Blocked() {
		// No prompt goes out on a blocked card; leave a trace instead
		if _, err := s.ledger.Annotate(ctx, transactionID, cardID, "confirmation suppressed: card blocked"); err != nil {
			s.logger.Warn("failed to annotate suppressed confirmation", "transaction", transactionID, "error", err)
		}
		s.logger.Info("confirmation suppressed for blocked card", "card", cardID, "transaction", transactionID)
		return nil, ErrCardBlocked
	}
	customer, err := s.registry.GetCustomer(ctx, card.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	now := time.Now()
	req := &Request{
		ID:            idgen.WithPrefix("cfm_"),
		TransactionID: transactionID,
		CardID:        cardID,
		CustomerID:    customer.ID,
		Status:        StatusPending,
		ExpiresAt:     now.Add(s.ttlFor(card.BankID)),
		CreatedAt:     now,
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, err
	}

	metrics.ConfirmationsTotal.WithLabelValues("opened").Inc()
	if _, err := s.ledger.RecordEvent(ctx, ledger.KindConfirmationSent, transactionID, cardID, "request "+req.ID); err != nil {
		s.logger.Warn("failed to record confirmation open", "request", req.ID, "error", err)
	}

	s.emitter.EmitConfirmationRequest(req.ID, customer.ID, customer.Channel, customer.Address, transactionID, req.ExpiresAt)
	return req, nil
}

// RequestFor returns the transaction's confirmation request, if any
func (s *Service) RequestFor(ctx context.Context, transactionID string) (*Request, error) {
	return s.store.GetByTransaction(ctx, transactionID)
}

// Respond applies the customer's answer. The first response (or the
// deadline sweep, whichever comes first) wins; anything after that is
// recorded as a post-hoc annotation.
func (s *Service) Respond(ctx context.Context, requestID string, flaggedAsFraud bool) (*RespondResult, error) {
	ctx, span := traces.StartSpan(ctx, "confirmation.respond", traces.ConfirmationID(requestID))
	defer span.End()

	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Resolved() {
		return s.annotateLate(ctx, req, flaggedAsFraud)
	}

	status := StatusLegitimate
	if flaggedAsFraud {
		status = StatusFraud
	}

	now := time.Now()
	won, err := s.store.Resolve(ctx, req.ID, status, now)
	if err != nil {
		return nil, err
	}
	if !won {
		recorded, err := s.store.Get(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return s.annotateLate(ctx, recorded, flaggedAsFraud)
	}

	req.Status = status
	req.ResolvedAt = &now
	s.recordResolution(ctx, req)
	return &RespondResult{Request: req, Outcome: status}, nil
}

// Sweep times out every pending request past its deadline. Returns the
// number of requests this sweep resolved.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	expired, err := s.store.ListExpired(ctx, now, 100)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, req := range expired {
		won, err := s.store.Resolve(ctx, req.ID, StatusTimeout, now)
		if err != nil {
			s.logger.Warn("failed to time out confirmation", "request", req.ID, "error", err)
			continue
		}
		if !won {
			continue
		}
		req.Status = StatusTimeout
		at := now
		req.ResolvedAt = &at
		s.recordResolution(ctx, req)
		count++
	}
	return count, nil
}

// recordResolution emits the ledger entry, metrics, and (for resolutions
// against the customer) the single suspicious-attempt event.
func (s *Service) recordResolution(ctx context.Context, req *Request) {
	metrics.ConfirmationsTotal.WithLabelValues(string(req.Status)).Inc()

	kind, detail, reason := resolutionFor(req.Status)
	if _, err := s.ledger.RecordEvent(ctx, kind, req.TransactionID, req.CardID, detail); err != nil {
		s.logger.Warn("failed to record confirmation outcome", "request", req.ID, "status", req.Status, "error", err)
	}

	if reason == "" || s.protection == nil {
		return
	}
	if err := s.protection.RecordSuspicious(ctx, req.CardID, req.TransactionID, reason); err != nil {
		s.logger.Error("failed to record suspicious attempt",
			"card", req.CardID, "transaction", req.TransactionID, "error", err)
	}
}

func (s *Service) annotateLate(ctx context.Context, req *Request, flaggedAsFraud bool) (*RespondResult, error) {
	detail := fmt.Sprintf("late confirmation response after %s: flagged_as_fraud=%t", req.Status, flaggedAsFraud)
	if _, err := s.ledger.Annotate(ctx, req.TransactionID, req.CardID, detail); err != nil {
		s.logger.Warn("failed to annotate late response", "request", req.ID, "error", err)
	}
	metrics.ConfirmationsTotal.WithLabelValues("late_response").Inc()
	return &RespondResult{Request: req, Outcome: req.Status, Late: true}, nil
}

func resolutionFor(status Status) (kind ledger.Kind, detail, reason string) {
	switch status {
	case StatusLegitimate:
		return ledger.KindConfirmationLegitimate, "customer confirmed legitimate", ""
	case StatusFraud:
		return ledger.KindConfirmationFraud, "customer flagged fraud", ReasonConfirmedFraud
	default:
		return ledger.KindConfirmationTimeout, "no response before deadline", ReasonNoResponse
	}
}

package ledger

import (
	"context"
	"time"
)

// Broadcaster receives every appended entry for live fan-out.
// Implementations must not block; the ledger calls it inline on the
// request path.
type Broadcaster interface {
	BroadcastEntry(entry *Entry)
}

// Ledger wraps a Store with metrics and optional live broadcast
type Ledger struct {
	store       Store
	broadcaster Broadcaster
}

// New creates a ledger backed by the given store
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// SetBroadcaster attaches a live feed sink. Call before serving traffic.
func (l *Ledger) SetBroadcaster(b Broadcaster) {
	l.broadcaster = b
}

// Append records one entry and fans it out to the live feed
func (l *Ledger) Append(ctx context.Context, entry *Entry) error {
	defer observeOp(string(entry.Kind))()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := l.store.Append(ctx, entry); err != nil {
		return err
	}

	entriesTotal.WithLabelValues(string(entry.Kind)).Inc()
	if l.broadcaster != nil {
		l.broadcaster.BroadcastEntry(entry)
	}
	return nil
}

// RecordDecision appends the adjudication verdict for a transaction.
// The store guarantees at most one decision entry per transaction.
func (l *Ledger) RecordDecision(ctx context.Context, transactionID, cardID, action, band string, score *float64, modelVersion, detail string) (*Entry, error) {
	entry := &Entry{
		Kind:          KindDecision,
		TransactionID: transactionID,
		CardID:        cardID,
		Action:        action,
		Band:          band,
		Score:         score,
		ModelVersion:  modelVersion,
		Detail:        detail,
	}
	if err := l.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordEvent appends a non-decision lifecycle entry
func (l *Ledger) RecordEvent(ctx context.Context, kind Kind, transactionID, cardID, detail string) (*Entry, error) {
	entry := &Entry{
		Kind:          kind,
		TransactionID: transactionID,
		CardID:        cardID,
		Detail:        detail,
	}
	if err := l.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Annotate appends a post-hoc annotation for a transaction whose workflow
// already resolved. The original entries are never touched.
func (l *Ledger) Annotate(ctx context.Context, transactionID, cardID, detail string) (*Entry, error) {
	return l.RecordEvent(ctx, KindAnnotation, transactionID, cardID, detail)
}

// GetDecision returns the decision entry for a transaction
func (l *Ledger) GetDecision(ctx context.Context, transactionID string) (*Entry, error) {
	return l.store.GetDecision(ctx, transactionID)
}

// History returns all entries for a transaction in append order
func (l *Ledger) History(ctx context.Context, transactionID string) ([]*Entry, error) {
	defer observeOp("history")()
	return l.store.ListByTransaction(ctx, transactionID)
}

// CardHistory returns the most recent entries for a card, newest first
func (l *Ledger) CardHistory(ctx context.Context, cardID string, limit int) ([]*Entry, error) {
	defer observeOp("card_history")()
	return l.store.ListByCard(ctx, cardID, limit)
}

// CardDecisions returns the most recent decision entries for a card,
// newest first. This is the behavioral history fed to the risk scorer.
func (l *Ledger) CardDecisions(ctx context.Context, cardID string, limit int) ([]*Entry, error) {
	return l.store.ListDecisionsByCard(ctx, cardID, limit)
}

// Recent returns the newest entries across all cards (for the public feed)
func (l *Ledger) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	defer observeOp("recent")()
	return l.store.ListRecent(ctx, limit)
}

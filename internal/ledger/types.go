// Package ledger implements the append-only audit trail for adjudication.
// Every decision, challenge lifecycle event, confirmation resolution, and
// card block lands here as an immutable entry. Nothing is ever updated or
// deleted; late information arrives as annotation entries referencing the
// original transaction.
package ledger

import (
	"context"
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrDecisionExists = errors.New("ledger: transaction already has a decision entry")
	ErrEntryNotFound  = errors.New("ledger: entry not found")
)

// -----------------------------------------------------------------------------
// Entry Kinds
// -----------------------------------------------------------------------------

// Kind identifies what an entry records
type Kind string

const (
	KindDecision Kind = "decision"

	KindOTPIssued    Kind = "otp_issued"
	KindOTPConfirmed Kind = "otp_confirmed"
	KindOTPRejected  Kind = "otp_rejected"
	KindOTPExpired   Kind = "otp_expired"

	KindConfirmationSent       Kind = "confirmation_sent"
	KindConfirmationLegitimate Kind = "confirmation_legitimate"
	KindConfirmationFraud      Kind = "confirmation_fraud"
	KindConfirmationTimeout    Kind = "confirmation_timeout"

	KindCardBlocked Kind = "card_blocked"

	// KindAnnotation records information that arrived after the fact,
	// such as a customer response to an already timed-out confirmation.
	KindAnnotation Kind = "annotation"
)

// -----------------------------------------------------------------------------
// Entry
// -----------------------------------------------------------------------------

// Entry is one immutable audit record
type Entry struct {
	ID            int64  `json:"id"`
	Kind          Kind   `json:"kind"`
	TransactionID string `json:"transactionId"`
	CardID        string `json:"cardId"`

	// Decision fields (set only for KindDecision entries)
	Action       string   `json:"action,omitempty"` // "accept", "decline", "require_otp"
	Band         string   `json:"band,omitempty"`   // "low", "medium", "high", "" when scoring was bypassed
	Score        *float64 `json:"score,omitempty"`
	ModelVersion string   `json:"modelVersion,omitempty"`

	// Detail is a short human-readable reason ("scoring unavailable",
	// "card blocked", "attempt limit reached")
	Detail string `json:"detail,omitempty"`

	// Metadata carries structured context as a JSON document
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// IsDecision reports whether the entry is the adjudication verdict for its
// transaction
func (e *Entry) IsDecision() bool {
	return e.Kind == KindDecision
}

// -----------------------------------------------------------------------------
// Store Interface
// -----------------------------------------------------------------------------

// Store persists and queries immutable audit entries.
// Append must reject a second KindDecision entry for the same transaction.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	GetDecision(ctx context.Context, transactionID string) (*Entry, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*Entry, error)
	ListByCard(ctx context.Context, cardID string, limit int) ([]*Entry, error)
	ListDecisionsByCard(ctx context.Context, cardID string, limit int) ([]*Entry, error)
	ListRecent(ctx context.Context, limit int) ([]*Entry, error)
}

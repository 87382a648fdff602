// Package cases tracks fraud cases opened against cards.
// A case collects the transactions that contributed suspicious attempts,
// so the protection state machine can count each transaction at most once
// and the fraud team has one handle per incident.
package cases

import (
	"context"
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrCaseNotFound = errors.New("cases: case not found")
	ErrCaseClosed   = errors.New("cases: case is closed")
)

// -----------------------------------------------------------------------------
// Case States
// -----------------------------------------------------------------------------

// Status is the lifecycle state of a fraud case
type Status string

const (
	StatusOpen      Status = "open"
	StatusEscalated Status = "escalated" // Confirmed fraud or a card block raised this case
	StatusClosed    Status = "closed"
)

// -----------------------------------------------------------------------------
// Core Types
// -----------------------------------------------------------------------------

// FraudCase groups the suspicious transactions observed on one card
type FraudCase struct {
	ID     string `json:"id"`
	CardID string `json:"cardId"`
	Status Status `json:"status"`

	// TransactionIDs lists contributing transactions in the order they
	// were recorded. Membership is what makes attempt counting idempotent.
	TransactionIDs []string `json:"transactionIds"`

	OpenedAt  time.Time  `json:"openedAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// Contains reports whether a transaction already contributed to this case
func (c *FraudCase) Contains(transactionID string) bool {
	for _, id := range c.TransactionIDs {
		if id == transactionID {
			return true
		}
	}
	return false
}

// Active reports whether the case still accepts transactions
func (c *FraudCase) Active() bool {
	return c.Status != StatusClosed
}

// -----------------------------------------------------------------------------
// Store Interface
// -----------------------------------------------------------------------------

// Store persists fraud cases.
//
// OpenOrGet returns the active case for a card, creating one if none
// exists. AddTransaction appends a transaction to a case and reports
// whether it was newly added; a repeated transaction returns false with
// no error. RemoveTransaction undoes a membership that was added but
// whose downstream accounting failed, so a retry can count it again.
type Store interface {
	OpenOrGet(ctx context.Context, cardID string) (*FraudCase, error)
	Get(ctx context.Context, id string) (*FraudCase, error)
	GetActiveByCard(ctx context.Context, cardID string) (*FraudCase, error)
	ListByCard(ctx context.Context, cardID string) ([]*FraudCase, error)
	AddTransaction(ctx context.Context, caseID, transactionID string) (bool, error)
	RemoveTransaction(ctx context.Context, caseID, transactionID string) error
	Escalate(ctx context.Context, caseID string) error
	Close(ctx context.Context, caseID string) error
}

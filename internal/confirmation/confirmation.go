// Package confirmation runs the "was this you?" workflow opened on every
// decline of an active card.
//
// A request is dispatched to the customer over their messaging channel
// with a response deadline fixed at open time; a slow or failed delivery
// never moves the deadline. The customer either confirms the transaction
// was legitimate or flags it as fraud; silence past the deadline resolves
// as timeout. Resolution is first-wins between the response path and the
// deadline sweep, and a fraud or timeout resolution counts one suspicious
// attempt against the card. Responses arriving after resolution become
// ledger annotations, never state transitions.
package confirmation

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a confirmation request
type Status string

const (
	StatusPending    Status = "pending"
	StatusLegitimate Status = "legitimate"
	StatusFraud      Status = "fraud"
	StatusTimeout    Status = "timeout"
)

// Request is one customer confirmation for a declined transaction
type Request struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transactionId"`
	CardID        string     `json:"cardId"`
	CustomerID    string     `json:"customerId"`
	Status        Status     `json:"status"`
	ExpiresAt     time.Time  `json:"expiresAt"` // Response deadline
	CreatedAt     time.Time  `json:"createdAt"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
}

// Resolved reports whether the request reached a terminal state
func (r *Request) Resolved() bool {
	return r.Status != StatusPending
}

var (
	// ErrRequestNotFound is returned for unknown request or transaction IDs
	ErrRequestNotFound = errors.New("confirmation: request not found")

	// ErrDuplicateRequest is returned when a transaction already has a request
	ErrDuplicateRequest = errors.New("confirmation: transaction already has a request")

	// ErrCardBlocked is returned when the card is already blocked; no
	// request is opened because the customer has nothing left to decide
	ErrCardBlocked = errors.New("confirmation: card is blocked")
)

// Store persists confirmation requests. Resolve moves a request out of
// pending at most once and reports whether this caller won.
type Store interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	GetByTransaction(ctx context.Context, transactionID string) (*Request, error)
	Resolve(ctx context.Context, id string, status Status, resolvedAt time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Request, error)
}

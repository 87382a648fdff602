// Package registry implements card and customer registration.
// Cards carry the protection state the adjudicator consults on every
// transaction; customers carry the contact channel used for OTP delivery
// and confirmation messaging.
package registry

import (
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrCardNotFound     = errors.New("registry: card not found")
	ErrCardExists       = errors.New("registry: card already registered")
	ErrCustomerNotFound = errors.New("registry: customer not found")
	ErrCustomerExists   = errors.New("registry: customer already registered")
	ErrInvalidChannel   = errors.New("registry: invalid contact channel")
)

// -----------------------------------------------------------------------------
// Card States
// -----------------------------------------------------------------------------

// CardStatus is the protection state of a card
type CardStatus string

const (
	CardActive  CardStatus = "active"
	CardBlocked CardStatus = "blocked"
)

// -----------------------------------------------------------------------------
// Core Types
// -----------------------------------------------------------------------------

// Card represents a payment card enrolled in protection
type Card struct {
	ID         string     `json:"id"`         // Card token (primary key, never a PAN)
	CustomerID string     `json:"customerId"` // Owning customer
	BankID     string     `json:"bankId"`     // Issuing bank (selects the adjudication policy)
	Status     CardStatus `json:"status"`

	// Protection counters
	SuspiciousAttempts int        `json:"suspiciousAttempts"` // Distinct transactions judged suspicious
	BlockedAt          *time.Time `json:"blockedAt,omitempty"`
	BlockedReason      string     `json:"blockedReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Blocked reports whether the card is in the blocked state
func (c *Card) Blocked() bool {
	return c.Status == CardBlocked
}

// Customer represents a cardholder reachable for OTP and confirmations
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Channel string `json:"channel"` // "sms", "push", "email"
	Address string `json:"address"` // Phone number, device token, or email

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// -----------------------------------------------------------------------------
// Registration Types
// -----------------------------------------------------------------------------

// RegisterCustomerRequest is the payload for customer registration
type RegisterCustomerRequest struct {
	Name    string `json:"name"`
	Channel string `json:"channel" binding:"required"`
	Address string `json:"address" binding:"required"`
}

// RegisterCardRequest is the payload for card enrollment
type RegisterCardRequest struct {
	ID         string `json:"id,omitempty"` // Optional caller-supplied token
	CustomerID string `json:"customerId" binding:"required"`
	BankID     string `json:"bankId" binding:"required"`
}

// -----------------------------------------------------------------------------
// Contact Channels (the taxonomy)
// -----------------------------------------------------------------------------

// Known contact channels for OTP delivery and customer messaging
var KnownChannels = []string{
	"sms",
	"push",
	"email",
}

// IsKnownChannel checks if a channel is in our taxonomy
func IsKnownChannel(ch string) bool {
	for _, known := range KnownChannels {
		if known == ch {
			return true
		}
	}
	return false
}

// Package otp runs the one-time-passcode verification workflow for
// transactions adjudicated RequireOTP.
//
// A challenge is issued with a fixed TTL, the code is delivered over the
// otp_delivery channel, and the customer submits it back through the API.
// A correct code strictly before expiry confirms the challenge; a wrong
// code rejects it; a background timer expires anything left pending past
// its deadline. Each challenge resolves exactly once: the submit path and
// the expiry sweep race through the same store transition and the first
// one wins.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"time"
)

// Status is the lifecycle state of a challenge
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
)

// Challenge is one OTP verification attempt for a transaction
type Challenge struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transactionId"`
	CardID        string     `json:"cardId"`
	CustomerID    string     `json:"customerId"`
	CodeHash      string     `json:"-"` // sha256(code); the code itself is never stored
	Status        Status     `json:"status"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
}

// Resolved reports whether the challenge reached a terminal state
func (c *Challenge) Resolved() bool {
	return c.Status != StatusPending
}

var (
	// ErrChallengeNotFound is returned for unknown transaction or challenge IDs
	ErrChallengeNotFound = errors.New("otp: challenge not found")

	// ErrDuplicateChallenge is returned when a transaction already has a challenge
	ErrDuplicateChallenge = errors.New("otp: transaction already has a challenge")
)

// Store persists challenges. Resolve is the single authoritative
// transition: it moves a challenge out of pending at most once and
// reports whether this caller won.
type Store interface {
	Create(ctx context.Context, ch *Challenge) error
	Get(ctx context.Context, id string) (*Challenge, error)
	GetByTransaction(ctx context.Context, transactionID string) (*Challenge, error)
	Resolve(ctx context.Context, id string, status Status, resolvedAt time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Challenge, error)
}

// HashCode returns the stored form of an OTP code
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// generateCode returns a 6-digit numeric code
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	digits := n.Int64()
	code := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		code[i] = byte('0' + digits%10)
		digits /= 10
	}
	return string(code), nil
}

package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/halcyonpay/sentinel/internal/idgen"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

// -----------------------------------------------------------------------------
// Customer Operations
// -----------------------------------------------------------------------------

func (p *PostgresStore) CreateCustomer(ctx context.Context, customer *Customer) error {
	if customer.ID == "" {
		customer.ID = idgen.New()
	}
	if !IsKnownChannel(customer.Channel) {
		return ErrInvalidChannel
	}

	now := time.Now()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, channel, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, customer.ID, customer.Name, customer.Channel, customer.Address, now)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrCustomerExists
		}
		return fmt.Errorf("failed to create customer: %w", err)
	}

	customer.CreatedAt = now
	customer.UpdatedAt = now
	return nil
}

func (p *PostgresStore) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var customer Customer
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, channel, address, created_at, updated_at
		FROM customers WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Channel, &customer.Address,
		&customer.CreatedAt, &customer.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return &customer, nil
}

func (p *PostgresStore) UpdateCustomer(ctx context.Context, customer *Customer) error {
	if !IsKnownChannel(customer.Channel) {
		return ErrInvalidChannel
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE customers SET name = $1, channel = $2, address = $3, updated_at = NOW()
		WHERE id = $4
	`, customer.Name, customer.Channel, customer.Address, customer.ID)

	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrCustomerNotFound
	}

	return nil
}

// -----------------------------------------------------------------------------
// Card Operations
// -----------------------------------------------------------------------------

func (p *PostgresStore) CreateCard(ctx context.Context, card *Card) error {
	if card.ID == "" {
		card.ID = idgen.New()
	}

	now := time.Now()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO cards (id, customer_id, bank_id, status, suspicious_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, 'active', 0, $4, $4)
	`, card.ID, card.CustomerID, card.BankID, now)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrCardExists
		}
		if strings.Contains(err.Error(), "foreign key") {
			return ErrCustomerNotFound
		}
		return fmt.Errorf("failed to create card: %w", err)
	}

	card.Status = CardActive
	card.SuspiciousAttempts = 0
	card.CreatedAt = now
	card.UpdatedAt = now
	return nil
}

func (p *PostgresStore) GetCard(ctx context.Context, id string) (*Card, error) {
	var card Card
	var status string
	var blockedAt sql.NullTime
	var blockedReason sql.NullString

	err := p.db.QueryRowContext(ctx, `
		SELECT id, customer_id, bank_id, status, suspicious_attempts,
		       blocked_at, blocked_reason, created_at, updated_at
		FROM cards WHERE id = $1
	`, id).Scan(&card.ID, &card.CustomerID, &card.BankID, &status, &card.SuspiciousAttempts,
		&blockedAt, &blockedReason, &card.CreatedAt, &card.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card: %w", err)
	}

	card.Status = CardStatus(status)
	if blockedAt.Valid {
		card.BlockedAt = &blockedAt.Time
	}
	card.BlockedReason = blockedReason.String

	return &card, nil
}

func (p *PostgresStore) ListCardsByCustomer(ctx context.Context, customerID string) ([]*Card, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, customer_id, bank_id, status, suspicious_attempts,
		       blocked_at, blocked_reason, created_at, updated_at
		FROM cards WHERE customer_id = $1
		ORDER BY created_at ASC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var results []*Card
	for rows.Next() {
		var card Card
		var status string
		var blockedAt sql.NullTime
		var blockedReason sql.NullString

		if err := rows.Scan(&card.ID, &card.CustomerID, &card.BankID, &status,
			&card.SuspiciousAttempts, &blockedAt, &blockedReason,
			&card.CreatedAt, &card.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}

		card.Status = CardStatus(status)
		if blockedAt.Valid {
			card.BlockedAt = &blockedAt.Time
		}
		card.BlockedReason = blockedReason.String
		results = append(results, &card)
	}

	return results, rows.Err()
}

// -----------------------------------------------------------------------------
// Protection State Operations
// -----------------------------------------------------------------------------

func (p *PostgresStore) IncrementSuspicious(ctx context.Context, cardID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		UPDATE cards
		SET suspicious_attempts = suspicious_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING suspicious_attempts
	`, cardID).Scan(&count)

	if err == sql.ErrNoRows {
		return 0, ErrCardNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment suspicious count: %w", err)
	}

	return count, nil
}

// BlockCard performs the active->blocked transition with a conditional
// update, so exactly one concurrent caller observes blocked=true.
func (p *PostgresStore) BlockCard(ctx context.Context, cardID, reason string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE cards
		SET status = 'blocked', blocked_at = NOW(), blocked_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, cardID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to block card: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		// Either the card does not exist or it is already blocked
		if _, err := p.GetCard(ctx, cardID); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

func (p *PostgresStore) UnblockCard(ctx context.Context, cardID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE cards
		SET status = 'active', suspicious_attempts = 0,
		    blocked_at = NULL, blocked_reason = NULL, updated_at = NOW()
		WHERE id = $1
	`, cardID)
	if err != nil {
		return fmt.Errorf("failed to unblock card: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrCardNotFound
	}

	return nil
}

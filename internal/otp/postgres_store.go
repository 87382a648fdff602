package otp

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// PostgresStore persists challenges in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed challenge store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

const challengeColumns = `id, transaction_id, card_id, customer_id, code_hash, status, expires_at, created_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, ch *Challenge) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO otp_challenges (id, transaction_id, card_id, customer_id, code_hash, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ch.ID, ch.TransactionID, ch.CardID, ch.CustomerID, ch.CodeHash, ch.Status, ch.ExpiresAt, ch.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateChallenge
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Challenge, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+challengeColumns+` FROM otp_challenges WHERE id = $1
	`, id)
	return scanChallenge(row)
}

func (p *PostgresStore) GetByTransaction(ctx context.Context, transactionID string) (*Challenge, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+challengeColumns+` FROM otp_challenges WHERE transaction_id = $1
	`, transactionID)
	return scanChallenge(row)
}

// Resolve moves a pending challenge to a terminal status. The status
// guard makes the transition first-wins across instances.
func (p *PostgresStore) Resolve(ctx context.Context, id string, status Status, resolvedAt time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE otp_challenges SET status = $2, resolved_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, status, resolvedAt)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		// Lost the race, or the challenge never existed
		if _, err := p.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Challenge, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+challengeColumns+` FROM otp_challenges
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var challenges []*Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, ch)
	}
	return challenges, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*Challenge, error) {
	ch := &Challenge{}
	var status string
	var resolvedAt sql.NullTime

	err := row.Scan(&ch.ID, &ch.TransactionID, &ch.CardID, &ch.CustomerID,
		&ch.CodeHash, &status, &ch.ExpiresAt, &ch.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}

	ch.Status = Status(status)
	if resolvedAt.Valid {
		ch.ResolvedAt = &resolvedAt.Time
	}
	return ch, nil
}

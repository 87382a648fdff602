package confirmation

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// PostgresStore persists confirmation requests in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed request store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

const requestColumns = `id, transaction_id, card_id, customer_id, status, expires_at, created_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, req *Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO confirmation_requests (id, transaction_id, card_id, customer_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, req.ID, req.TransactionID, req.CardID, req.CustomerID, req.Status, req.ExpiresAt, req.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateRequest
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM confirmation_requests WHERE id = $1
	`, id)
	return scanRequest(row)
}

func (p *PostgresStore) GetByTransaction(ctx context.Context, transactionID string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM confirmation_requests WHERE transaction_id = $1
	`, transactionID)
	return scanRequest(row)
}

// Resolve moves a pending request to a terminal status. The status guard
// makes the transition first-wins across instances.
func (p *PostgresStore) Resolve(ctx context.Context, id string, status Status, resolvedAt time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE confirmation_requests SET status = $2, resolved_at = $3
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
		if _, err := p.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM confirmation_requests
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	req := &Request{}
	var status string
	var resolvedAt sql.NullTime

	err := row.Scan(&req.ID, &req.TransactionID, &req.CardID, &req.CustomerID,
		&status, &req.ExpiresAt, &req.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	req.Status = Status(status)
	if resolvedAt.Valid {
		req.ResolvedAt = &resolvedAt.Time
	}
	return req, nil
}

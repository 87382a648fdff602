package cases

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/halcyonpay/sentinel/internal/idgen"
)

// PostgresStore implements Store using PostgreSQL.
// One active case per card is enforced by a partial unique index on
// (card_id) WHERE status <> 'closed'.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) OpenOrGet(ctx context.Context, cardID string) (*FraudCase, error) {
	if fc, err := p.GetActiveByCard(ctx, cardID); err == nil {
		return fc, nil
	} else if err != ErrCaseNotFound {
		return nil, err
	}

	id := idgen.WithPrefix("case_")
	now := time.Now()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fraud_cases (id, card_id, status, opened_at, updated_at)
		VALUES ($1, $2, 'open', $3, $3)
	`, id, cardID, now)

	if err != nil {
		// Lost a race to another opener; their case is the active one
		if strings.Contains(err.Error(), "duplicate key") {
			return p.GetActiveByCard(ctx, cardID)
		}
		return nil, fmt.Errorf("failed to open case: %w", err)
	}

	return &FraudCase{
		ID:             id,
		CardID:         cardID,
		Status:         StatusOpen,
		TransactionIDs: []string{},
		OpenedAt:       now,
		UpdatedAt:      now,
	}, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*FraudCase, error) {
	return p.queryOne(ctx, `WHERE c.id = $1`, id)
}

func (p *PostgresStore) GetActiveByCard(ctx context.Context, cardID string) (*FraudCase, error) {
	return p.queryOne(ctx, `WHERE c.card_id = $1 AND c.status <> 'closed'`, cardID)
}

func (p *PostgresStore) ListByCard(ctx context.Context, cardID string) ([]*FraudCase, error) {
	rows, err := p.db.QueryContext(ctx, caseQuery+`
		WHERE c.card_id = $1
		GROUP BY c.id
		ORDER BY c.opened_at DESC
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*FraudCase
	for rows.Next() {
		fc, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, fc)
	}
	return results, rows.Err()
}

func (p *PostgresStore) AddTransaction(ctx context.Context, caseID, transactionID string) (bool, error) {
	var status string
	err := p.db.QueryRowContext(ctx, `
		SELECT status FROM fraud_cases WHERE id = $1
	`, caseID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, ErrCaseNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to check case: %w", err)
	}
	if Status(status) == StatusClosed {
		return false, ErrCaseClosed
	}

	result, err := p.db.ExecContext(ctx, `
		INSERT INTO fraud_case_transactions (case_id, transaction_id, added_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (case_id, transaction_id) DO NOTHING
	`, caseID, transactionID)
	if err != nil {
		return false, fmt.Errorf("failed to add transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	_, _ = p.db.ExecContext(ctx, `UPDATE fraud_cases SET updated_at = NOW() WHERE id = $1`, caseID)
	return true, nil
}

func (p *PostgresStore) RemoveTransaction(ctx context.Context, caseID, transactionID string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM fraud_case_transactions
		WHERE case_id = $1 AND transaction_id = $2
	`, caseID, transactionID)
	if err != nil {
		return fmt.Errorf("failed to remove transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) Escalate(ctx context.Context, caseID string) error {
	return p.transition(ctx, caseID, `
		UPDATE fraud_cases SET status = 'escalated', updated_at = NOW()
		WHERE id = $1 AND status <> 'closed'
	`)
}

func (p *PostgresStore) Close(ctx context.Context, caseID string) error {
	return p.transition(ctx, caseID, `
		UPDATE fraud_cases SET status = 'closed', closed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`)
}

func (p *PostgresStore) transition(ctx context.Context, caseID, query string) error {
	result, err := p.db.ExecContext(ctx, query, caseID)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := p.Get(ctx, caseID); err != nil {
			return err
		}
		return ErrCaseClosed
	}
	return nil
}

// -----------------------------------------------------------------------------
// Query helpers
// -----------------------------------------------------------------------------

const caseQuery = `
	SELECT c.id, c.card_id, c.status, c.opened_at, c.updated_at, c.closed_at,
	       COALESCE(ARRAY_AGG(t.transaction_id ORDER BY t.added_at)
	                FILTER (WHERE t.transaction_id IS NOT NULL), '{}')
	FROM fraud_cases c
	LEFT JOIN fraud_case_transactions t ON t.case_id = c.id
`

func (p *PostgresStore) queryOne(ctx context.Context, where string, arg any) (*FraudCase, error) {
	row := p.db.QueryRowContext(ctx, caseQuery+where+` GROUP BY c.id`, arg)

	fc, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return fc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*FraudCase, error) {
	var fc FraudCase
	var status string
	var closedAt sql.NullTime
	var txIDs pq.StringArray

	if err := row.Scan(&fc.ID, &fc.CardID, &status, &fc.OpenedAt, &fc.UpdatedAt, &closedAt, &txIDs); err != nil {
		return nil, err
	}

	fc.Status = Status(status)
	if closedAt.Valid {
		fc.ClosedAt = &closedAt.Time
	}
	fc.TransactionIDs = []string(txIDs)
	return &fc, nil
}

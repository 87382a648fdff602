package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresStore implements Store using PostgreSQL.
// The decision-per-transaction invariant is enforced by a partial unique
// index on (transaction_id) WHERE kind = 'decision'.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

const entryColumns = `id, kind, transaction_id, card_id,
	COALESCE(action, ''), COALESCE(band, ''), score, COALESCE(model_version, ''),
	COALESCE(detail, ''), COALESCE(metadata::TEXT, ''), created_at`

func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (kind, transaction_id, card_id, action, band, score, model_version, detail, metadata, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, '')::JSONB, NOW())
		RETURNING id, created_at
	`, entry.Kind, entry.TransactionID, entry.CardID, entry.Action, entry.Band,
		entry.Score, entry.ModelVersion, entry.Detail, entry.Metadata,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDecisionExists
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDecision(ctx context.Context, transactionID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE transaction_id = $1 AND kind = 'decision'
	`, transactionID)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return collectEntries(rows)
}

func (s *PostgresStore) ListByCard(ctx context.Context, cardID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE card_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return collectEntries(rows)
}

func (s *PostgresStore) ListDecisionsByCard(ctx context.Context, cardID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE card_id = $1 AND kind = 'decision'
		ORDER BY id DESC
		LIMIT $2
	`, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	return collectEntries(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent entries: %w", err)
	}
	return collectEntries(rows)
}

// -----------------------------------------------------------------------------
// Scan helpers
// -----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var kind string
	var score sql.NullFloat64

	if err := row.Scan(&e.ID, &kind, &e.TransactionID, &e.CardID,
		&e.Action, &e.Band, &score, &e.ModelVersion,
		&e.Detail, &e.Metadata, &e.CreatedAt); err != nil {
		return nil, err
	}

	e.Kind = Kind(kind)
	if score.Valid {
		e.Score = &score.Float64
	}
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]*Entry, error) {
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

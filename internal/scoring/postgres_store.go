package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Record(ctx context.Context, assessment *Assessment) error {
	factorsJSON, err := json.Marshal(assessment.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, transaction_id, card_id, score, model_version, factors, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		assessment.ID,
		assessment.TransactionID,
		assessment.CardID,
		assessment.Score,
		assessment.ModelVersion,
		factorsJSON,
		assessment.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByCard(ctx context.Context, cardID string, limit int) ([]*Assessment, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, card_id, score, model_version, factors, evaluated_at
		FROM risk_assessments
		WHERE card_id = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var factorsJSON []byte

		if err := rows.Scan(&a.ID, &a.TransactionID, &a.CardID, &a.Score, &a.ModelVersion, &factorsJSON, &a.EvaluatedAt); err != nil {
			continue
		}
		a.Factors = make(map[string]float64)
		_ = json.Unmarshal(factorsJSON, &a.Factors)
		result = append(result, &a)
	}
	return result, rows.Err()
}

package notify

import (
	"context"
	"database/sql"
)

// PostgresStore persists delivery endpoints in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed endpoint store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, ep *Endpoint) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notify_endpoints (id, channel, url, secret, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ep.ID, ep.Channel, ep.URL, ep.Secret, ep.Active, ep.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Endpoint, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, channel, url, secret, active, created_at, last_success, last_error
		FROM notify_endpoints WHERE id = $1
	`, id)

	ep, err := scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, ErrEndpointNotFound
	}
	return ep, err
}

func (p *PostgresStore) GetByChannel(ctx context.Context, channel Channel) ([]*Endpoint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, channel, url, secret, active, created_at, last_success, last_error
		FROM notify_endpoints WHERE channel = $1 ORDER BY created_at DESC
	`, channel)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var endpoints []*Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, ep *Endpoint) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE notify_endpoints SET
			active = $1,
			last_success = $2,
			last_error = $3
		WHERE id = $4
	`, ep.Active, ep.LastSuccess, ep.LastError, ep.ID)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM notify_endpoints WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (*Endpoint, error) {
	ep := &Endpoint{}
	var channel string
	var lastSuccess sql.NullTime
	var lastError sql.NullString

	if err := row.Scan(&ep.ID, &channel, &ep.URL, &ep.Secret, &ep.Active,
		&ep.CreatedAt, &lastSuccess, &lastError); err != nil {
		return nil, err
	}

	ep.Channel = Channel(channel)
	if lastSuccess.Valid {
		ep.LastSuccess = &lastSuccess.Time
	}
	ep.LastError = lastError.String
	return ep, nil
}

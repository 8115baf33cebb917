package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps records in the escrow_idempotency table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS escrow_idempotency (
    key TEXT PRIMARY KEY,
    request_hash TEXT NOT NULL,
    status_code INT NOT NULL,
    response BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS escrow_idempotency_expires_at ON escrow_idempotency (expires_at);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT request_hash, status_code, response, created_at, expires_at
FROM escrow_idempotency
WHERE key = $1 AND expires_at > now()
`, key)

	var rec Record
	if err := row.Scan(&rec.RequestHash, &rec.StatusCode, &rec.Response, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, record Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO escrow_idempotency (key, request_hash, status_code, response, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (key) DO UPDATE
SET request_hash = EXCLUDED.request_hash,
    status_code = EXCLUDED.status_code,
    response = EXCLUDED.response,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
`, key, record.RequestHash, record.StatusCode, record.Response, record.CreatedAt, record.ExpiresAt)
	return err
}

// Prune deletes expired records and reports how many were removed.
func (p *PostgresStore) Prune(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM escrow_idempotency WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

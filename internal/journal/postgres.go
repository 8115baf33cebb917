package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"p2pescrow/internal/escrow"
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS escrow_records (
    id BIGINT PRIMARY KEY,
    buyer TEXT NOT NULL,
    seller TEXT NOT NULL,
    amount TEXT NOT NULL,
    item TEXT NOT NULL,
    description TEXT NOT NULL,
    status SMALLINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS escrow_events (
    seq BIGINT PRIMARY KEY,
    escrow_id BIGINT NOT NULL,
    kind TEXT NOT NULL,
    payload JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS escrow_counter (
    singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
    value BIGINT NOT NULL
);
`

// Postgres journals commits into three tables inside one transaction per
// commit.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects using dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
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

	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Append(ctx context.Context, c escrow.Commit) error {
	if c.Record == nil {
		return fmt.Errorf("postgres journal: commit without record")
	}
	payload, err := json.Marshal(c.Event)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", c.Event.Seq, err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rec := c.Record
	if _, err := tx.Exec(ctx, `
INSERT INTO escrow_records (id, buyer, seller, amount, item, description, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status
`, int64(rec.ID), rec.Buyer.Hex(), rec.Seller.Hex(), rec.Amount.String(), rec.Item, rec.Description, int16(rec.Status), rec.CreatedAt); err != nil {
		return fmt.Errorf("write record %d: %w", rec.ID, err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO escrow_events (seq, escrow_id, kind, payload)
VALUES ($1, $2, $3, $4)
`, int64(c.Event.Seq), int64(c.Event.EscrowID), string(c.Event.Kind), payload); err != nil {
		return fmt.Errorf("write event %d: %w", c.Event.Seq, err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO escrow_counter (singleton, value) VALUES (TRUE, $1)
ON CONFLICT (singleton) DO UPDATE
SET value = GREATEST(escrow_counter.value, EXCLUDED.value)
`, int64(c.Counter)); err != nil {
		return fmt.Errorf("write counter: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) Load(ctx context.Context) (escrow.Snapshot, error) {
	var snap escrow.Snapshot

	var counter int64
	err := p.pool.QueryRow(ctx, `SELECT value FROM escrow_counter WHERE singleton`).Scan(&counter)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return snap, nil
	case err != nil:
		return snap, fmt.Errorf("load counter: %w", err)
	}
	snap.Counter = uint64(counter)

	rows, err := p.pool.Query(ctx, `
SELECT id, buyer, seller, amount, item, description, status, created_at
FROM escrow_records
ORDER BY id
`)
	if err != nil {
		return escrow.Snapshot{}, err
	}
	for rows.Next() {
		var (
			rec           escrow.Record
			id            int64
			buyer, seller string
			amount        string
			status        int16
		)
		if err := rows.Scan(&id, &buyer, &seller, &amount, &rec.Item, &rec.Description, &status, &rec.CreatedAt); err != nil {
			rows.Close()
			return escrow.Snapshot{}, err
		}
		value, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			rows.Close()
			return escrow.Snapshot{}, fmt.Errorf("record %d has invalid amount %q", id, amount)
		}
		rec.ID = uint64(id)
		rec.Buyer = common.HexToAddress(buyer)
		rec.Seller = common.HexToAddress(seller)
		rec.Amount = value
		rec.Status = escrow.Status(status)
		rec.CreatedAt = rec.CreatedAt.UTC()
		snap.Records = append(snap.Records, &rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return escrow.Snapshot{}, err
	}

	rows, err = p.pool.Query(ctx, `SELECT payload FROM escrow_events ORDER BY seq`)
	if err != nil {
		return escrow.Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return escrow.Snapshot{}, err
		}
		var ev escrow.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return escrow.Snapshot{}, fmt.Errorf("decode event: %w", err)
		}
		snap.Events = append(snap.Events, ev)
	}
	return snap, rows.Err()
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/EddyChen/diagno-core/core/db"
	"github.com/jackc/pgx/v5"
)

const (
	getEntrySQL    = `SELECT value FROM kv_entries WHERE key = $1`
	upsertEntrySQL = `
INSERT INTO kv_entries (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
)

type postgresKV struct {
	q db.Querier
}

// NewPostgresKV keeps documents in the kv_entries table (see db.Migrate).
func NewPostgresKV(q db.Querier) KV {
	return &postgresKV{q: q}
}

func (p *postgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.q.QueryRow(ctx, getEntrySQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, nil
}

func (p *postgresKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := p.q.Exec(ctx, upsertEntrySQL, key, value); err != nil {
		return fmt.Errorf("postgres set %s: %w", key, err)
	}
	return nil
}

func (p *postgresKV) Close() error {
	return nil
}

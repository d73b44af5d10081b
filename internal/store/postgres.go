package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv_collections (
	key        text PRIMARY KEY,
	data       jsonb,
	version    bigint NOT NULL DEFAULT 0,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// Postgres stores each collection as one jsonb row. Update locks the rows it
// touches with SELECT ... FOR UPDATE for the length of the transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, kvSchema); err != nil {
		return fmt.Errorf("create kv_collections: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data
		FROM kv_collections
		WHERE key = $1
	`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

func (s *Postgres) Update(ctx context.Context, keys []string, fn func(Txn) error) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Make sure every row exists so FOR UPDATE has something to lock.
	_, err = tx.Exec(ctx, `
		INSERT INTO kv_collections (key)
		SELECT unnest($1::text[])
		ON CONFLICT (key) DO NOTHING
	`, sorted)
	if err != nil {
		return fmt.Errorf("ensure rows: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT key, data
		FROM kv_collections
		WHERE key = ANY($1)
		ORDER BY key
		FOR UPDATE
	`, sorted)
	if err != nil {
		return fmt.Errorf("lock rows: %w", err)
	}

	read := make(map[string][]byte, len(sorted))
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			rows.Close()
			return fmt.Errorf("scan row: %w", err)
		}
		if data != nil {
			read[key] = data
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read rows: %w", err)
	}

	t := newTxn(read)
	if err := fn(t); err != nil {
		return err
	}

	for key, data := range t.writes {
		_, err := tx.Exec(ctx, `
			INSERT INTO kv_collections (key, data, version, updated_at)
			VALUES ($1, $2, 1, now())
			ON CONFLICT (key) DO UPDATE
			SET data = EXCLUDED.data,
			    version = kv_collections.version + 1,
			    updated_at = now()
		`, key, data)
		if err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

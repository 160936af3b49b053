package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Every entity is one JSONB row in the entities table; writes are
// idempotent upserts so replaying a block range converges to the same state.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPool opens a pgx pool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded schema files in name order. Every file is
// written to be re-runnable.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, kind, id string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM entities WHERE kind = $1 AND id = $2`, kind, id).
		Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return data, nil
}

func (s *PostgresStore) Put(ctx context.Context, kind, id string, data []byte) error {
	_, err := s.pool.Exec(ctx, upsertEntity, kind, id, string(data))
	return err
}

const upsertEntity = `INSERT INTO entities (kind, id, data, updated_at)
	 VALUES ($1, $2, $3::JSONB, now())
	 ON CONFLICT (kind, id) DO UPDATE
	 SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

// PutBatch upserts docs in one transaction.
func (s *PostgresStore) PutBatch(ctx context.Context, docs []Doc) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, d := range docs {
			batch.Queue(upsertEntity, d.Kind, d.ID, string(d.Data))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) List(ctx context.Context, kind string) ([][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM entities WHERE kind = $1 ORDER BY id`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// Cursor returns the last block recorded for an ingest source.
func (s *PostgresStore) Cursor(ctx context.Context, source string) (uint64, bool, error) {
	var block int64
	err := s.pool.QueryRow(ctx,
		`SELECT block FROM ingest_cursor WHERE source = $1`, source).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SetCursor records the last fully processed block for an ingest source.
func (s *PostgresStore) SetCursor(ctx context.Context, source string, block uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_cursor (source, block, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (source) DO UPDATE
		 SET block = EXCLUDED.block, updated_at = EXCLUDED.updated_at`,
		source, int64(block),
	)
	return err
}

package rag

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/54b3r/assessrec-go/internal/catalog"
)

// PgvectorConfig holds connection parameters for a pgvector table.
type PgvectorConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// Table is the vector table name (default: assessment_vectors).
	Table string

	// Dimensions is the embedding size used when creating the table.
	Dimensions int

	// MaxConns caps the pool size (default: 10).
	MaxConns int32
}

// tableName guards the table identifier, which is interpolated into SQL.
var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PgvectorIndex is a VectorIndex backed by PostgreSQL with the pgvector
// extension, ordered by cosine distance and then by insertion ordinal.
type PgvectorIndex struct {
	// pool is the pgx connection pool with pgvector types registered.
	pool *pgxpool.Pool
	// table is the validated table name.
	table string
}

// NewPgvectorIndex opens a pool, registers pgvector types on every
// connection and ensures the table exists.
func NewPgvectorIndex(ctx context.Context, cfg PgvectorConfig) (*PgvectorIndex, error) {
	if cfg.Table == "" {
		cfg.Table = "assessment_vectors"
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", cfg.Table)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to parse config: %w", err)
	}
	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	// The extension must exist before AfterConnect can register its types.
	bootstrap, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w: %w", ErrIndexUnavailable, err)
	}
	_, err = bootstrap.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	_ = bootstrap.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgvector: create extension: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to create pool: %w", err)
	}
	idx := &PgvectorIndex{pool: pool, table: cfg.Table}
	if err := idx.migrate(ctx, cfg.Dimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

// migrate creates the vector table when dims is known.
func (p *PgvectorIndex) migrate(ctx context.Context, dims int) error {
	if dims <= 0 {
		return nil
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    item_id   TEXT PRIMARY KEY,
    ordinal   INTEGER NOT NULL,
    embedding vector(%d) NOT NULL
)`, p.table, dims)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("pgvector: migrate: %w", err)
	}
	return nil
}

// Upsert replaces the table contents with the embeddings of items.
func (p *PgvectorIndex) Upsert(ctx context.Context, items []catalog.Item) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, p.table)); err != nil {
		return fmt.Errorf("pgvector: clear: %w", err)
	}

	batch := &pgx.Batch{}
	q := fmt.Sprintf(`INSERT INTO %s (item_id, ordinal, embedding) VALUES ($1, $2, $3)`, p.table)
	for i, it := range items {
		batch.Queue(q, it.ID, i, pgvector.NewVector(Normalize(it.Embedding)))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgvector: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgvector: commit: %w", err)
	}
	return nil
}

// Search implements VectorIndex.
func (p *PgvectorIndex) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`
SELECT item_id, 1 - (embedding <=> $1) AS score
FROM   %s
ORDER  BY embedding <=> $1 ASC, ordinal ASC
LIMIT  $2`, p.table)

	rows, err := p.pool.Query(ctx, q, pgvector.NewVector(Normalize(vec)), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w: %w", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h     Hit
			score float64
		)
		if err := rows.Scan(&h.ItemID, &score); err != nil {
			return nil, fmt.Errorf("pgvector: search scan: %w", err)
		}
		h.Score = clampCosine(float32(score))
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	return hits, nil
}

// Count implements VectorIndex.
func (p *PgvectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector: count: %w: %w", ErrIndexUnavailable, err)
	}
	return n, nil
}

// Ping checks that the database is reachable.
func (p *PgvectorIndex) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *PgvectorIndex) Close() {
	p.pool.Close()
}

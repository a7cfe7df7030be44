// Package store persists the assessment catalog in a local SQLite database.
// The ingest command writes items and their embeddings here; the serving
// commands load them once at startup into a catalog.Store and a vector index.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/54b3r/assessrec-go/internal/catalog"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore is the catalog database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default catalog database path,
// ~/.assessrec/catalog.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".assessrec")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "catalog.db"), nil
}

// Open opens (or creates) the catalog at path and runs the schema migration.
// Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single writer connection; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS items (
    ordinal          INTEGER PRIMARY KEY,
    id               TEXT    NOT NULL UNIQUE,
    name             TEXT    NOT NULL,
    url              TEXT    NOT NULL,
    codes            TEXT    NOT NULL,  -- JSON array of category codes
    duration_minutes INTEGER,
    job_levels       TEXT    NOT NULL DEFAULT '',
    remote_support   INTEGER NOT NULL DEFAULT 0,
    adaptive_support INTEGER NOT NULL DEFAULT 0,
    description      TEXT    NOT NULL DEFAULT '',
    embedding        BLOB,              -- little-endian float32
    updated_at       INTEGER NOT NULL   -- Unix timestamp (seconds)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// ReplaceAll swaps the whole catalog for items inside one transaction.
// Item order is preserved as the ordinal column so the vector index can be
// rebuilt with the same insertion order.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, items []catalog.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}

	const q = `
INSERT INTO items (ordinal, id, name, url, codes, duration_minutes, job_levels,
                   remote_support, adaptive_support, description, embedding, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, it := range items {
		codes, err := json.Marshal(it.Codes)
		if err != nil {
			return fmt.Errorf("store: encode codes for %q: %w", it.ID, err)
		}
		var duration sql.NullInt64
		if it.DurationMinutes != nil {
			duration = sql.NullInt64{Int64: int64(*it.DurationMinutes), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, i, it.ID, it.Name, it.URL, string(codes), duration,
			it.JobLevels, it.RemoteSupport, it.AdaptiveSupport, it.Description,
			encodeVector(it.Embedding), now); err != nil {
			return fmt.Errorf("store: insert %q: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// LoadAll returns every item in ordinal order.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]catalog.Item, error) {
	const q = `
SELECT id, name, url, codes, duration_minutes, job_levels,
       remote_support, adaptive_support, description, embedding
FROM   items
ORDER  BY ordinal ASC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		var (
			it       catalog.Item
			codes    string
			duration sql.NullInt64
			blob     []byte
		)
		if err := rows.Scan(&it.ID, &it.Name, &it.URL, &codes, &duration, &it.JobLevels,
			&it.RemoteSupport, &it.AdaptiveSupport, &it.Description, &blob); err != nil {
			return nil, fmt.Errorf("store: load scan: %w", err)
		}
		if err := json.Unmarshal([]byte(codes), &it.Codes); err != nil {
			return nil, fmt.Errorf("store: decode codes for %q: %w", it.ID, err)
		}
		if duration.Valid {
			d := int(duration.Int64)
			it.DurationMinutes = &d
		}
		if it.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("store: decode embedding for %q: %w", it.ID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load rows: %w", err)
	}
	return items, nil
}

// Count returns the number of stored items.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// Package sqlite caches embeddings in a SQLite database keyed by the sha256
// of the text and the embedding model.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	hash       TEXT NOT NULL,
	model      TEXT NOT NULL,
	dimensions INTEGER NOT NULL,
	vector     BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (hash, model)
)`

// Open opens or creates the cache at path; ":memory:" keeps it in process.
func Open(path string) (*Cache, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening embedding cache: %w", err)
	}

	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating embedding cache schema: %w", err)
	}

	return &Cache{db}, nil
}

type Cache struct {
	db *sql.DB
}

func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Get(ctx context.Context, model, text string) ([]float32, bool, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT vector FROM embeddings WHERE hash = ? AND model = ?`,
		Hash(text), model,
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("reading embedding cache: %w", err)
	}

	vec, err := decode(blob)
	if err != nil {
		return nil, false, err
	}

	return vec, true, nil
}

func (c *Cache) Put(ctx context.Context, model, text string, vec []float32) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO embeddings (hash, model, dimensions, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT (hash, model) DO UPDATE SET dimensions = excluded.dimensions, vector = excluded.vector`,
		Hash(text), model, len(vec), encode(vec),
	)
	if err != nil {
		return fmt.Errorf("writing embedding cache: %w", err)
	}

	return nil
}

func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting embedding cache: %w", err)
	}

	return n, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// encode lays the vector out as little endian IEEE 754 float32 values.
func encode(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}

	return b
}

func decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}

	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}

	return vec, nil
}

// Package sqlite provides a [store.KV] backed by a local SQLite file using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/moodsense/pkg/store"
)

var _ store.KV = (*KV)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// KV is a SQLite-backed key-value store.
type KV struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and migrates the
// schema. Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*KV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite kv: open %q: %w", path, err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// from being split across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite kv: migrate: %w", err)
	}
	return &KV{db: db}, nil
}

// Get implements [store.KV].
func (k *KV) Get(ctx context.Context, key, def string) (string, error) {
	var v string
	err := k.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("sqlite kv: get %q: %w", key, err)
	}
	return v, nil
}

// Put implements [store.KV].
func (k *KV) Put(ctx context.Context, key, value string) error {
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite kv: put %q: %w", key, err)
	}
	return nil
}

// Ping implements [store.KV].
func (k *KV) Ping(ctx context.Context) error {
	return k.db.PingContext(ctx)
}

// Close implements [store.KV].
func (k *KV) Close() error {
	return k.db.Close()
}

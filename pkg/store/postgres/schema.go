package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlRecords = `
CREATE TABLE IF NOT EXISTS observation_records (
    id          BIGSERIAL    PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    collection  TEXT         NOT NULL,
    emotion     TEXT         NOT NULL DEFAULT '',
    fields      JSONB        NOT NULL DEFAULT '{}'::jsonb,
    recorded_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_observation_records_latest
    ON observation_records (user_id, collection, recorded_at DESC);
`

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS user_profiles (
    user_id TEXT    PRIMARY KEY,
    age     INTEGER NOT NULL DEFAULT 0,
    gender  TEXT    NOT NULL DEFAULT ''
);
`

// Migrate creates the tables and indexes used by [Remote]. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlRecords, ddlProfiles} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

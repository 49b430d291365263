// Package postgres provides a PostgreSQL-backed [store.Remote]. All users
// share one table of append-only observation records keyed by
// (user_id, collection) and a profile table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/moodsense/pkg/store"
)

var _ store.Remote = (*Remote)(nil)

// Remote is a PostgreSQL-backed remote store scoped to a single user.
// It is safe for concurrent use.
type Remote struct {
	pool   *pgxpool.Pool
	userID string
}

// New connects to dsn, pings the server and runs [Migrate].
func New(ctx context.Context, dsn, userID string) (*Remote, error) {
	if userID == "" {
		return nil, fmt.Errorf("postgres remote: user id must not be empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres remote: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres remote: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres remote: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres remote: %w", err)
	}
	return &Remote{pool: pool, userID: userID}, nil
}

// Append implements [store.Remote].
func (r *Remote) Append(ctx context.Context, collection string, rec store.Record) error {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO observation_records (user_id, collection, emotion, fields, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		r.userID, collection, rec.Emotion, fields, ts,
	)
	if err != nil {
		return fmt.Errorf("postgres remote: append %s: %w", store.UserPath(r.userID, collection), err)
	}
	return nil
}

// QueryLatest implements [store.Remote].
func (r *Remote) QueryLatest(ctx context.Context, collection string) (store.Record, bool, error) {
	var rec store.Record
	err := r.pool.QueryRow(ctx, `
		SELECT emotion, fields, recorded_at
		FROM observation_records
		WHERE user_id = $1 AND collection = $2
		ORDER BY recorded_at DESC
		LIMIT 1`,
		r.userID, collection,
	).Scan(&rec.Emotion, &rec.Fields, &rec.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, fmt.Errorf("postgres remote: query latest %s: %w", store.UserPath(r.userID, collection), err)
	}
	return rec, true, nil
}

// Profile implements [store.Remote].
func (r *Remote) Profile(ctx context.Context) (store.Profile, error) {
	var p store.Profile
	err := r.pool.QueryRow(ctx,
		`SELECT age, gender FROM user_profiles WHERE user_id = $1`, r.userID,
	).Scan(&p.Age, &p.Gender)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Profile{}, store.ErrNotFound
	}
	if err != nil {
		return store.Profile{}, fmt.Errorf("postgres remote: profile: %w", err)
	}
	return p, nil
}

// UpsertProfile creates or replaces the user's profile.
func (r *Remote) UpsertProfile(ctx context.Context, p store.Profile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, age, gender) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET age = EXCLUDED.age, gender = EXCLUDED.gender`,
		r.userID, p.Age, p.Gender,
	)
	if err != nil {
		return fmt.Errorf("postgres remote: upsert profile: %w", err)
	}
	return nil
}

// Ping implements [store.Remote].
func (r *Remote) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close implements [store.Remote].
func (r *Remote) Close() error {
	r.pool.Close()
	return nil
}

// Package store defines the persistence boundary used by moodsense.
//
// Two kinds of storage exist:
//
//   - [KV] is durable local key-value state. The aggregator mirrors the whole
//     CombinedState into it on every update and reloads it at start.
//   - [Remote] is the per-user system of record: append-only collections of
//     observation records (text_emotions, audio_emotions, Video_emotions,
//     activityData, bipolar_stages) plus the user's profile document.
//
// Backends live in sub-packages (memory, sqlite, redis, postgres, mongo).
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned by backends when a requested document does not exist.
var ErrNotFound = errors.New("store: not found")

// KV is a durable local key-value store. Implementations must be safe for
// concurrent use.
type KV interface {
	// Get returns the value stored under key, or def when the key is absent.
	Get(ctx context.Context, key, def string) (string, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key, value string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Record is one entry in a remote append-only collection.
type Record struct {
	// Emotion is set for emotion collections; empty for activity records.
	Emotion string

	// Fields carries any additional payload (steps, timeMoving, stage, ...).
	Fields map[string]any

	// Timestamp orders records within a collection.
	Timestamp time.Time
}

// Profile holds the user profile fields used for recommendations.
type Profile struct {
	Age    int
	Gender string
}

// Remote is a per-user remote document store. A Remote value is scoped to a
// single user; collection names are relative to users/<uid>/.
// Implementations must be safe for concurrent use.
type Remote interface {
	// Append adds rec to collection. Records are never updated in place.
	Append(ctx context.Context, collection string, rec Record) error

	// QueryLatest returns the record with the greatest timestamp in
	// collection. ok is false when the collection is empty.
	QueryLatest(ctx context.Context, collection string) (rec Record, ok bool, err error)

	// Profile returns the user's profile. A missing profile yields the zero
	// Profile and [ErrNotFound].
	Profile(ctx context.Context) (Profile, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// GetInt reads key from kv as a decimal integer, returning def when the key is
// absent or holds a non-integer value.
func GetInt(ctx context.Context, kv KV, key string, def int) (int, error) {
	v, err := kv.Get(ctx, key, strconv.Itoa(def))
	if err != nil {
		return def, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// PutInt stores v under key as a decimal string.
func PutInt(ctx context.Context, kv KV, key string, v int) error {
	return kv.Put(ctx, key, strconv.Itoa(v))
}

// UserPath returns the document path of collection for userID.
func UserPath(userID, collection string) string {
	return fmt.Sprintf("users/%s/%s", userID, collection)
}

// Package memory provides in-process implementations of [store.KV] and
// [store.Remote]. They are the default when no backend is configured and are
// used throughout the tests.
package memory

import (
	"context"
	"sync"

	"github.com/MrWong99/moodsense/pkg/store"
)

var (
	_ store.KV     = (*KV)(nil)
	_ store.Remote = (*Remote)(nil)
)

// KV is a map-backed [store.KV]. The zero value is not usable; call [NewKV].
type KV struct {
	mu   sync.RWMutex
	data map[string]string
	err  error
}

// NewKV returns an empty KV.
func NewKV() *KV {
	return &KV{data: make(map[string]string)}
}

// Get implements [store.KV].
func (k *KV) Get(_ context.Context, key, def string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.err != nil {
		return def, k.err
	}
	if v, ok := k.data[key]; ok {
		return v, nil
	}
	return def, nil
}

// Put implements [store.KV].
func (k *KV) Put(_ context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return k.err
	}
	k.data[key] = value
	return nil
}

// Ping implements [store.KV].
func (k *KV) Ping(context.Context) error { return nil }

// Close implements [store.KV].
func (k *KV) Close() error { return nil }

// SetErr makes every subsequent Get and Put fail with err. Pass nil to clear.
func (k *KV) SetErr(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.err = err
}

// Snapshot returns a copy of all stored pairs.
func (k *KV) Snapshot() map[string]string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]string, len(k.data))
	for key, v := range k.data {
		out[key] = v
	}
	return out
}

// Remote is a slice-backed [store.Remote].
type Remote struct {
	mu          sync.Mutex
	collections map[string][]store.Record
	profile     *store.Profile
	appendErr   error
	queryErr    error
}

// NewRemote returns an empty Remote with no profile.
func NewRemote() *Remote {
	return &Remote{collections: make(map[string][]store.Record)}
}

// Append implements [store.Remote].
func (r *Remote) Append(_ context.Context, collection string, rec store.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.collections[collection] = append(r.collections[collection], rec)
	return nil
}

// QueryLatest implements [store.Remote].
func (r *Remote) QueryLatest(_ context.Context, collection string) (store.Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queryErr != nil {
		return store.Record{}, false, r.queryErr
	}
	recs := r.collections[collection]
	if len(recs) == 0 {
		return store.Record{}, false, nil
	}
	latest := recs[0]
	for _, rec := range recs[1:] {
		if !rec.Timestamp.Before(latest.Timestamp) {
			latest = rec
		}
	}
	return latest, true, nil
}

// Profile implements [store.Remote].
func (r *Remote) Profile(context.Context) (store.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile == nil {
		return store.Profile{}, store.ErrNotFound
	}
	return *r.profile, nil
}

// Ping implements [store.Remote].
func (r *Remote) Ping(context.Context) error { return nil }

// Close implements [store.Remote].
func (r *Remote) Close() error { return nil }

// SetProfile stores the user's profile.
func (r *Remote) SetProfile(p store.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profile = &p
}

// SetAppendErr makes subsequent Append calls fail with err. Pass nil to clear.
func (r *Remote) SetAppendErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendErr = err
}

// SetQueryErr makes subsequent QueryLatest calls fail with err.
func (r *Remote) SetQueryErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queryErr = err
}

// Records returns a copy of the records appended to collection.
func (r *Remote) Records(collection string) []store.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Record(nil), r.collections[collection]...)
}

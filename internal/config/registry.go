package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/moodsense/pkg/classifier"
	"github.com/MrWong99/moodsense/pkg/store"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// KVFactory opens a local key-value store.
type KVFactory func(ctx context.Context, cfg LocalStoreConfig) (store.KV, error)

// RemoteFactory opens a remote store scoped to userID.
type RemoteFactory func(ctx context.Context, cfg RemoteStoreConfig, userID string) (store.Remote, error)

// ClassifierFactory builds a classifier backend.
type ClassifierFactory func(entry BackendEntry, env ClassifierEnv) (classifier.Classifier, error)

// ClassifierEnv carries settings shared by every classifier backend.
type ClassifierEnv struct {
	UserID  string
	Timeout time.Duration
}

// Registry maps backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	kv          map[string]KVFactory
	remote      map[string]RemoteFactory
	classifiers map[string]ClassifierFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		kv:          make(map[string]KVFactory),
		remote:      make(map[string]RemoteFactory),
		classifiers: make(map[string]ClassifierFactory),
	}
}

// RegisterKV registers a local store factory under name. Later calls with
// the same name overwrite earlier ones.
func (r *Registry) RegisterKV(name string, f KVFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kv[name] = f
}

// RegisterRemote registers a remote store factory under name.
func (r *Registry) RegisterRemote(name string, f RemoteFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote[name] = f
}

// RegisterClassifier registers a classifier factory under name. A factory
// registered as "anyllm" also serves every "anyllm:<provider>" entry.
func (r *Registry) RegisterClassifier(name string, f ClassifierFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[name] = f
}

// CreateKV opens the local store selected by cfg.Backend.
func (r *Registry) CreateKV(ctx context.Context, cfg LocalStoreConfig) (store.KV, error) {
	r.mu.RLock()
	f, ok := r.kv[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kv/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return f(ctx, cfg)
}

// CreateRemote opens the remote store selected by cfg.Backend.
func (r *Registry) CreateRemote(ctx context.Context, cfg RemoteStoreConfig, userID string) (store.Remote, error) {
	r.mu.RLock()
	f, ok := r.remote[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: remote/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return f(ctx, cfg, userID)
}

// CreateClassifier builds the classifier selected by entry.Name. An exact
// match wins; otherwise the part before the first ':' is looked up.
func (r *Registry) CreateClassifier(entry BackendEntry, env ClassifierEnv) (classifier.Classifier, error) {
	r.mu.RLock()
	f, ok := r.classifiers[entry.Name]
	if !ok {
		if base, _, found := strings.Cut(entry.Name, ":"); found {
			f, ok = r.classifiers[base]
		}
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier/%q", ErrBackendNotRegistered, entry.Name)
	}
	return f(entry, env)
}

// Names returns the sorted registered names per kind ("kv", "remote",
// "classifier").
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string][]string{
		"kv":         keys(r.kv),
		"remote":     keys(r.remote),
		"classifier": keys(r.classifiers),
	}
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/moodsense/internal/app"
	"github.com/MrWong99/moodsense/internal/config"
	"github.com/MrWong99/moodsense/internal/observe"
	"github.com/MrWong99/moodsense/internal/resilience"
	"github.com/MrWong99/moodsense/pkg/classifier"
	"github.com/MrWong99/moodsense/pkg/classifier/httpapi"
	"github.com/MrWong99/moodsense/pkg/classifier/llm"
	"github.com/MrWong99/moodsense/pkg/classifier/mock"
	"github.com/MrWong99/moodsense/pkg/recommend"
	"github.com/MrWong99/moodsense/pkg/store"
	"github.com/MrWong99/moodsense/pkg/store/memory"
	"github.com/MrWong99/moodsense/pkg/store/mongo"
	"github.com/MrWong99/moodsense/pkg/store/postgres"
	"github.com/MrWong99/moodsense/pkg/store/redis"
	"github.com/MrWong99/moodsense/pkg/store/sqlite"
)

// registerBuiltinBackends wires all built-in store and classifier factories
// into reg.
func registerBuiltinBackends(reg *config.Registry) {
	// ── Local key-value stores ───────────────────────────────────────────
	reg.RegisterKV("sqlite", func(ctx context.Context, cfg config.LocalStoreConfig) (store.KV, error) {
		return sqlite.Open(ctx, cfg.Path)
	})
	reg.RegisterKV("redis", func(ctx context.Context, cfg config.LocalStoreConfig) (store.KV, error) {
		return redis.Open(ctx, cfg.URL)
	})
	reg.RegisterKV("memory", func(context.Context, config.LocalStoreConfig) (store.KV, error) {
		return memory.NewKV(), nil
	})

	// ── Remote document stores ───────────────────────────────────────────
	reg.RegisterRemote("postgres", func(ctx context.Context, cfg config.RemoteStoreConfig, userID string) (store.Remote, error) {
		return postgres.New(ctx, cfg.DSN, userID)
	})
	reg.RegisterRemote("mongo", func(ctx context.Context, cfg config.RemoteStoreConfig, userID string) (store.Remote, error) {
		return mongo.New(ctx, cfg.DSN, cfg.Database, userID)
	})
	reg.RegisterRemote("memory", func(context.Context, config.RemoteStoreConfig, string) (store.Remote, error) {
		return memory.NewRemote(), nil
	})

	// ── Classifiers ──────────────────────────────────────────────────────
	reg.RegisterClassifier("http", func(entry config.BackendEntry, env config.ClassifierEnv) (classifier.Classifier, error) {
		opts := []httpapi.Option{httpapi.WithTimeout(env.Timeout)}
		if entry.APIKey != "" {
			opts = append(opts, httpapi.WithAPIKey(entry.APIKey))
		}
		return httpapi.New(entry.BaseURL, env.UserID, opts...)
	})
	reg.RegisterClassifier("openai", func(entry config.BackendEntry, env config.ClassifierEnv) (classifier.Classifier, error) {
		opts := []llm.Option{llm.WithTimeout(env.Timeout)}
		if entry.BaseURL != "" {
			opts = append(opts, llm.WithBaseURL(entry.BaseURL))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, llm.WithMaxRetries(n))
		}
		return llm.NewOpenAI(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterClassifier("anyllm", func(entry config.BackendEntry, _ config.ClassifierEnv) (classifier.Classifier, error) {
		_, provider, _ := strings.Cut(entry.Name, ":")
		if provider == "" {
			provider = optString(entry.Options, "provider")
		}
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return llm.NewAnyLLM(provider, entry.Model, opts...)
	})
	reg.RegisterClassifier("mock", func(entry config.BackendEntry, _ config.ClassifierEnv) (classifier.Classifier, error) {
		label := optString(entry.Options, "label")
		if label == "" {
			label = "Neutral"
		}
		return &mock.Classifier{ImageLabel: label, AudioLabel: label, TextLabel: label}, nil
	})
}

// buildBackends opens the stores and builds the classifier chain and the
// recommendation client named in cfg. Stores opened before a failure are
// closed again.
func buildBackends(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Backends, error) {
	b := &app.Backends{}

	kv, err := reg.CreateKV(ctx, cfg.Store.Local)
	if err != nil {
		return nil, fmt.Errorf("create local store %q: %w", cfg.Store.Local.Backend, err)
	}
	b.KV = kv
	slog.Info("backend created", "kind", "kv", "name", cfg.Store.Local.Backend)

	remote, err := reg.CreateRemote(ctx, cfg.Store.Remote, cfg.User.ID)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("create remote store %q: %w", cfg.Store.Remote.Backend, err)
	}
	b.Remote = remote
	slog.Info("backend created", "kind", "remote", "name", cfg.Store.Remote.Backend)

	c, err := buildClassifier(cfg, reg)
	if err != nil {
		_ = kv.Close()
		_ = remote.Close()
		return nil, err
	}
	if c != nil {
		b.Classifier = c
	}

	if cfg.Recommend.BaseURL != "" {
		rc, err := recommend.New(cfg.Recommend.BaseURL, recommend.WithTimeout(cfg.Recommend.Timeout))
		if err != nil {
			_ = kv.Close()
			_ = remote.Close()
			return nil, fmt.Errorf("create recommendation client: %w", err)
		}
		b.Recommender = rc
	}
	return b, nil
}

// buildClassifier builds the primary classifier and its fallbacks behind
// per-backend circuit breakers. It returns nil when no primary is named.
func buildClassifier(cfg *config.Config, reg *config.Registry) (*resilience.ClassifierFallback, error) {
	primary := cfg.Classifier.Primary
	if primary.Name == "" {
		return nil, nil
	}
	env := config.ClassifierEnv{UserID: cfg.User.ID, Timeout: cfg.Classifier.Timeout}

	first, err := reg.CreateClassifier(primary, env)
	if err != nil {
		return nil, fmt.Errorf("create classifier %q: %w", primary.Name, err)
	}
	metrics := observe.DefaultMetrics()
	chain := resilience.NewClassifierFallback(first, primary.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: time.Minute,
			OnStateChange: func(name string, to resilience.State) {
				slog.Warn("classifier breaker state changed", "backend", name, "state", to.String())
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	})
	slog.Info("backend created", "kind", "classifier", "name", primary.Name)

	for _, fb := range cfg.Classifier.Fallbacks {
		c, err := reg.CreateClassifier(fb, env)
		if errors.Is(err, config.ErrBackendNotRegistered) {
			slog.Warn("classifier fallback not available, skipping", "name", fb.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create classifier fallback %q: %w", fb.Name, err)
		}
		chain.AddFallback(fb.Name, c)
		slog.Info("backend created", "kind", "classifier_fallback", "name", fb.Name)
	}
	return chain, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a backend Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer from a backend Options map. YAML decodes whole
// numbers as int.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/moodsense/internal/config"
	"github.com/MrWong99/moodsense/pkg/classifier"
	"github.com/MrWong99/moodsense/pkg/classifier/mock"
	"github.com/MrWong99/moodsense/pkg/store"
	"github.com/MrWong99/moodsense/pkg/store/memory"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestRegistry_Stores(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterKV("memory", func(context.Context, config.LocalStoreConfig) (store.KV, error) {
		return memory.NewKV(), nil
	})
	var gotUser string
	reg.RegisterRemote("memory", func(_ context.Context, _ config.RemoteStoreConfig, userID string) (store.Remote, error) {
		gotUser = userID
		return memory.NewRemote(), nil
	})

	ctx := context.Background()
	if _, err := reg.CreateKV(ctx, config.LocalStoreConfig{Backend: "memory"}); err != nil {
		t.Fatalf("CreateKV: %v", err)
	}
	if _, err := reg.CreateRemote(ctx, config.RemoteStoreConfig{Backend: "memory"}, "alice"); err != nil {
		t.Fatalf("CreateRemote: %v", err)
	}
	if gotUser != "alice" {
		t.Errorf("factory user = %q", gotUser)
	}

	_, err := reg.CreateKV(ctx, config.LocalStoreConfig{Backend: "sqlite"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateKV(sqlite) error = %v, want ErrBackendNotRegistered", err)
	}
	_, err = reg.CreateRemote(ctx, config.RemoteStoreConfig{Backend: "mongo"}, "alice")
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateRemote(mongo) error = %v", err)
	}
}

func TestRegistry_ClassifierPrefixLookup(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var seen []string
	factory := func(entry config.BackendEntry, _ config.ClassifierEnv) (classifier.Classifier, error) {
		seen = append(seen, entry.Name)
		return &mock.Classifier{}, nil
	}
	reg.RegisterClassifier("anyllm", factory)
	reg.RegisterClassifier("anyllm:groq", factory)

	for _, name := range []string{"anyllm:anthropic", "anyllm:groq"} {
		if _, err := reg.CreateClassifier(config.BackendEntry{Name: name}, config.ClassifierEnv{}); err != nil {
			t.Fatalf("CreateClassifier(%s): %v", name, err)
		}
	}
	if len(seen) != 2 {
		t.Fatalf("factory calls = %v", seen)
	}
	if _, err := reg.CreateClassifier(config.BackendEntry{Name: "onnx"}, config.ClassifierEnv{}); !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Fatalf("unknown classifier error = %v", err)
	}

	names := reg.Names()
	if got := names["classifier"]; len(got) != 2 || got[0] != "anyllm" {
		t.Fatalf("Names()[classifier] = %v", got)
	}
}

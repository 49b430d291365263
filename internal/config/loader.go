package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/moodsense/pkg/recommend"
)

// Backend names accepted per kind. Used by [Validate].
var (
	LocalBackends  = []string{"sqlite", "redis", "memory"}
	RemoteBackends = []string{"postgres", "mongo", "memory"}
)

// KnownClassifiers lists built-in classifier backend names. Names starting
// with "anyllm:" are also accepted.
var KnownClassifiers = []string{"http", "openai", "mock"}

// LoadDotEnv seeds the process environment from the given .env files.
// Variables already set win. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references, decodes the YAML from r, applies
// defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with environment values.
// A bare $ is left alone so secrets may contain it.
func ExpandEnv(b []byte) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		sub := envRef.FindSubmatch(m)
		if v, ok := os.LookupEnv(string(sub[1])); ok {
			return []byte(v)
		}
		return sub[2]
	})
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	setStr(&cfg.Server.ListenAddr, ":8080")
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	setStr(&cfg.User.ID, "default")

	setDur(&cfg.Motion.Tick, time.Second)
	setDur(&cfg.Motion.FlushInterval, 30*time.Second)
	setDur(&cfg.Motion.IsolationAfter, 30*time.Minute)

	setStr(&cfg.Audio.Source, "stdin")
	setInt(&cfg.Audio.SampleRate, 16000)
	setInt(&cfg.Audio.InputSampleRate, cfg.Audio.SampleRate)
	setInt(&cfg.Audio.InputChannels, 1)
	setInt(&cfg.Audio.WindowSamples, 1024)
	if cfg.Audio.SilenceThreshold == 0 {
		cfg.Audio.SilenceThreshold = 0.001
	}
	setDur(&cfg.Audio.SilenceTimeout, 5*time.Second)
	setDur(&cfg.Audio.ChunkDuration, 60*time.Second)
	setStr(&cfg.Audio.Dir, "recordings")

	setDur(&cfg.Web.DedupWindow, 5*time.Second)
	setInt(&cfg.Web.FetchAttempts, 3)
	setDur(&cfg.Web.FetchBackoff, time.Second)
	setDur(&cfg.Web.FetchTimeout, 10*time.Second)
	setInt(&cfg.Web.MaxDigest, 500)
	setDur(&cfg.Web.WatchdogInterval, 5*time.Minute)

	setDur(&cfg.Classifier.Timeout, 300*time.Second)
	setDur(&cfg.Recommend.Timeout, 30*time.Second)
	setStr(&cfg.Recommend.DefaultStage, recommend.StageEuthymia)

	setStr(&cfg.Store.Local.Backend, "sqlite")
	if cfg.Store.Local.Backend == "sqlite" {
		setStr(&cfg.Store.Local.Path, "moodsense.db")
	}
	setStr(&cfg.Store.Remote.Backend, "memory")
	if cfg.Store.Remote.Backend == "mongo" {
		setStr(&cfg.Store.Remote.Database, "moodsense")
	}
}

func setStr(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}

func setDur(p *time.Duration, v time.Duration) {
	if *p == 0 {
		*p = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file"))
	}
	if strings.ContainsAny(cfg.User.ID, "/ ") {
		errs = append(errs, fmt.Errorf("user.id %q must not contain '/' or spaces", cfg.User.ID))
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"motion.tick", cfg.Motion.Tick},
		{"motion.flush_interval", cfg.Motion.FlushInterval},
		{"motion.isolation_after", cfg.Motion.IsolationAfter},
		{"audio.silence_timeout", cfg.Audio.SilenceTimeout},
		{"audio.chunk_duration", cfg.Audio.ChunkDuration},
		{"web.dedup_window", cfg.Web.DedupWindow},
		{"web.fetch_backoff", cfg.Web.FetchBackoff},
		{"web.fetch_timeout", cfg.Web.FetchTimeout},
		{"web.watchdog_interval", cfg.Web.WatchdogInterval},
		{"classifier.timeout", cfg.Classifier.Timeout},
	}
	for _, p := range positive {
		if p.d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", p.name))
		}
	}

	if cfg.Audio.Enabled {
		src := cfg.Audio.Source
		if src != "stdin" && !strings.HasPrefix(src, "file:") && !strings.HasPrefix(src, "tcp:") {
			errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid forms: stdin, file:<path>, tcp:<addr>", src))
		}
		if cfg.Audio.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
		}
		if cfg.Audio.InputChannels < 1 || cfg.Audio.InputChannels > 2 {
			errs = append(errs, fmt.Errorf("audio.input_channels %d must be 1 or 2", cfg.Audio.InputChannels))
		}
		if cfg.Audio.SilenceThreshold < 0 || cfg.Audio.SilenceThreshold >= 1 {
			errs = append(errs, fmt.Errorf("audio.silence_threshold %.4f is out of range [0, 1)", cfg.Audio.SilenceThreshold))
		}
		if cfg.Classifier.Primary.Name == "" {
			slog.Warn("audio is enabled but no classifier is configured; audio emotion will stay Unknown")
		}
	}
	if cfg.Web.Enabled {
		if cfg.Web.FetchAttempts < 1 {
			errs = append(errs, fmt.Errorf("web.fetch_attempts %d must be at least 1", cfg.Web.FetchAttempts))
		}
		if cfg.Web.MaxDigest < 1 {
			errs = append(errs, fmt.Errorf("web.max_digest %d must be at least 1", cfg.Web.MaxDigest))
		}
	}

	entries := append([]BackendEntry{cfg.Classifier.Primary}, cfg.Classifier.Fallbacks...)
	for i, e := range entries {
		prefix := "classifier.primary"
		if i > 0 {
			prefix = fmt.Sprintf("classifier.fallbacks[%d]", i-1)
		}
		if i > 0 && e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateClassifierName(prefix, e.Name)
		if e.Name == "http" && e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for the http classifier", prefix))
		}
	}
	if cfg.Classifier.Primary.Name == "" && len(cfg.Classifier.Fallbacks) > 0 {
		errs = append(errs, errors.New("classifier.fallbacks require classifier.primary"))
	}

	if cfg.Recommend.DefaultStage != "" && !recommend.IsStage(cfg.Recommend.DefaultStage) {
		errs = append(errs, fmt.Errorf("recommend.default_stage %q is invalid; valid values: %s", cfg.Recommend.DefaultStage, strings.Join(recommend.Stages, ", ")))
	}

	if !slices.Contains(LocalBackends, cfg.Store.Local.Backend) {
		errs = append(errs, fmt.Errorf("store.local.backend %q is invalid; valid values: %s", cfg.Store.Local.Backend, strings.Join(LocalBackends, ", ")))
	}
	if cfg.Store.Local.Backend == "redis" && cfg.Store.Local.URL == "" {
		errs = append(errs, errors.New("store.local.url is required for the redis backend"))
	}
	if !slices.Contains(RemoteBackends, cfg.Store.Remote.Backend) {
		errs = append(errs, fmt.Errorf("store.remote.backend %q is invalid; valid values: %s", cfg.Store.Remote.Backend, strings.Join(RemoteBackends, ", ")))
	}
	if cfg.Store.Remote.Backend != "memory" && cfg.Store.Remote.DSN == "" {
		errs = append(errs, fmt.Errorf("store.remote.dsn is required for the %s backend", cfg.Store.Remote.Backend))
	}
	if cfg.Store.Remote.Backend == "memory" {
		slog.Debug("remote store is in-memory; observations are not durable")
	}

	return errors.Join(errs...)
}

// validateClassifierName logs a warning for unknown backend names.
func validateClassifierName(prefix, name string) {
	if name == "" || slices.Contains(KnownClassifiers, name) || strings.HasPrefix(name, "anyllm:") {
		return
	}
	slog.Warn("unknown classifier backend; may be a typo or a registered extension",
		"field", prefix,
		"name", name,
		"known", KnownClassifiers,
	)
}

// Package config provides the configuration schema, loader, hot-reload
// watcher and backend registry for the moodsense daemon.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	User       UserConfig       `yaml:"user"`
	Motion     MotionConfig     `yaml:"motion"`
	Audio      AudioConfig      `yaml:"audio"`
	Web        WebConfig        `yaml:"web"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Recommend  RecommendConfig  `yaml:"recommend"`
	Store      StoreConfig      `yaml:"store"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
}

// ServerConfig holds the status server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the status server (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// UserConfig identifies the monitored user. Remote collections live under
// users/<id>/.
type UserConfig struct {
	ID string `yaml:"id"`
}

// MotionConfig tunes the step tracker.
type MotionConfig struct {
	Tick           time.Duration `yaml:"tick"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	IsolationAfter time.Duration `yaml:"isolation_after"`

	// MQTTTopic carries raw step counter readings. Empty derives
	// moodsense/<user>/steps.
	MQTTTopic string `yaml:"mqtt_topic"`
}

// AudioConfig tunes the playback segmenter.
type AudioConfig struct {
	Enabled bool `yaml:"enabled"`

	// Source is "stdin", "file:<path>" or "tcp:<addr>". The stream is mono
	// 16-bit little-endian PCM.
	Source string `yaml:"source"`

	// InputSampleRate and InputChannels describe the capture stream when it
	// differs from the analysis format. The stream is converted to mono at
	// SampleRate before segmentation. Defaults: SampleRate and 1.
	InputSampleRate int `yaml:"input_sample_rate"`
	InputChannels   int `yaml:"input_channels"`

	SampleRate       int           `yaml:"sample_rate"`
	WindowSamples    int           `yaml:"window_samples"`
	SilenceThreshold float64       `yaml:"silence_threshold"`
	SilenceTimeout   time.Duration `yaml:"silence_timeout"`
	ChunkDuration    time.Duration `yaml:"chunk_duration"`

	// Dir receives the archive and chunk WAV files.
	Dir string `yaml:"dir"`
}

// WebConfig tunes the web content watcher.
type WebConfig struct {
	Enabled bool `yaml:"enabled"`

	// AllowedPackages replaces the default browser allow-list when non-empty.
	AllowedPackages []string `yaml:"allowed_packages"`

	// SearchPatterns replaces the default search page patterns when non-nil.
	SearchPatterns []string `yaml:"search_patterns"`

	DedupWindow      time.Duration `yaml:"dedup_window"`
	FetchAttempts    int           `yaml:"fetch_attempts"`
	FetchBackoff     time.Duration `yaml:"fetch_backoff"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	MaxDigest        int           `yaml:"max_digest"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`

	// MQTTTopic carries navigation events. Empty derives
	// moodsense/<user>/navigation.
	MQTTTopic string `yaml:"mqtt_topic"`
}

// ClassifierConfig selects the emotion classifier backends. Fallbacks are
// tried in order when the primary fails or its circuit breaker is open.
type ClassifierConfig struct {
	Primary   BackendEntry   `yaml:"primary"`
	Fallbacks []BackendEntry `yaml:"fallbacks"`

	// Timeout bounds a single classification call.
	Timeout time.Duration `yaml:"timeout"`
}

// BackendEntry is the common configuration block of a classifier backend.
// Name selects the constructor in the [Registry].
type BackendEntry struct {
	// Name is "http", "openai", "anyllm:<provider>" or "mock".
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// RecommendConfig points at the recommendation service. An empty BaseURL
// disables the video recommendation pipeline.
type RecommendConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	DefaultStage string        `yaml:"default_stage"`
}

// StoreConfig selects the local and remote storage backends.
type StoreConfig struct {
	Local  LocalStoreConfig  `yaml:"local"`
	Remote RemoteStoreConfig `yaml:"remote"`
}

// LocalStoreConfig selects the local key-value backend.
type LocalStoreConfig struct {
	// Backend is "sqlite", "redis" or "memory".
	Backend string `yaml:"backend"`

	// Path is the sqlite database file.
	Path string `yaml:"path"`

	// URL is the redis connection URL.
	URL string `yaml:"url"`
}

// RemoteStoreConfig selects the remote document backend.
type RemoteStoreConfig struct {
	// Backend is "postgres", "mongo" or "memory".
	Backend string `yaml:"backend"`

	// DSN is the postgres connection string or the mongo URI.
	DSN string `yaml:"dsn"`

	// Database is the mongo database name.
	Database string `yaml:"database"`
}

// MQTTConfig holds the broker connection. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// DisplayTopic receives the retained display line. Empty derives
	// moodsense/<user>/display.
	DisplayTopic string `yaml:"display_topic"`
}

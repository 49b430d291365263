package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// fingerprint identifies one version of a watched file.
type fingerprint struct {
	mtime   time.Time
	sum     [sha256.Size]byte
	missing bool
}

// Watcher reloads the config file when it, or the dotenv file its ${VAR}
// references are expanded from, changes on disk. A change is detected by
// mtime and confirmed by SHA-256, so touching a file is not a reload. An edit
// that fails to validate is logged once and the last valid config stays
// current.
type Watcher struct {
	path     string
	envPath  string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	files   map[string]fingerprint

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnvFile also watches a dotenv file. When it changes its values are
// loaded into the process environment, overriding earlier ones, before the
// config is expanded again. The file may be absent.
func WithEnvFile(path string) WatcherOption {
	return func(w *Watcher) { w.envPath = path }
}

// NewWatcher loads the config at path and starts polling it in the
// background. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		files:    make(map[string]fingerprint),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, p := range w.watched() {
		fp, err := readFingerprint(p, fingerprint{})
		if err != nil {
			return nil, fmt.Errorf("config: watcher initial load: %w", err)
		}
		w.files[p] = fp
	}
	if w.files[w.path].missing {
		return nil, fmt.Errorf("config: watcher initial load: %w", fs.ErrNotExist)
	}
	cfg, err := Load(w.path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check compares the watched files with their last fingerprints and reloads
// the config when any content changed. It reports whether onChange ran.
func (w *Watcher) Check() bool {
	w.mu.Lock()
	var changed []string
	for _, p := range w.watched() {
		fp, err := readFingerprint(p, w.files[p])
		if err != nil {
			slog.Warn("config watcher: cannot read file", "path", p, "err", err)
			continue
		}
		prev := w.files[p]
		if fp.sum != prev.sum || fp.missing != prev.missing {
			changed = append(changed, p)
		}
		w.files[p] = fp
	}
	w.mu.Unlock()
	if len(changed) == 0 {
		return false
	}

	if w.envPath != "" && containsPath(changed, w.envPath) {
		if err := godotenv.Overload(w.envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config watcher: cannot load env file", "path", w.envPath, "err", err)
		}
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot read config", "path", w.path, "err", err)
		return false
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("config watcher: edit rejected, keeping previous config", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path, "changed", changed)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

func (w *Watcher) watched() []string {
	if w.envPath == "" {
		return []string{w.path}
	}
	return []string{w.path, w.envPath}
}

// readFingerprint stats path and hashes it unless the mtime matches prev.
func readFingerprint(path string, prev fingerprint) (fingerprint, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fingerprint{missing: true}, nil
	}
	if err != nil {
		return fingerprint{}, err
	}
	if !prev.missing && !prev.mtime.IsZero() && info.ModTime().Equal(prev.mtime) {
		return prev, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fingerprint{}, err
	}
	return fingerprint{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}

func containsPath(paths []string, p string) bool {
	for _, q := range paths {
		if q == p {
			return true
		}
	}
	return false
}

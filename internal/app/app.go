// Package app wires all moodsense subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the trackers and the status server, and Shutdown
// tears everything down in order.
//
// Storage, classifier and recommendation backends arrive through [Backends],
// populated by main.go via the config registry. Tests pass in-memory stores
// and the mock classifier instead.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/moodsense/internal/aggregator"
	"github.com/MrWong99/moodsense/internal/config"
	"github.com/MrWong99/moodsense/internal/health"
	"github.com/MrWong99/moodsense/internal/motion"
	"github.com/MrWong99/moodsense/internal/mqttbridge"
	"github.com/MrWong99/moodsense/internal/observe"
	"github.com/MrWong99/moodsense/internal/segmenter"
	"github.com/MrWong99/moodsense/internal/server"
	"github.com/MrWong99/moodsense/internal/webwatch"
	"github.com/MrWong99/moodsense/pkg/audio"
	"github.com/MrWong99/moodsense/pkg/classifier"
	"github.com/MrWong99/moodsense/pkg/store"
)

// serverShutdownTimeout bounds the graceful stop of the status server.
const serverShutdownTimeout = 5 * time.Second

// Backends holds the externally constructed collaborators. KV and Remote are
// required. A nil Classifier disables the audio and web trackers and the
// frame endpoint; a nil Recommender disables the recommendation pipeline.
type Backends struct {
	KV          store.KV
	Remote      store.Remote
	Classifier  classifier.Classifier
	Recommender aggregator.Recommender
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	backends *Backends

	metrics  *observe.Metrics
	levelVar *slog.LevelVar
	audioIn  io.ReadCloser

	// Subsystems, initialised in New and torn down in Shutdown.
	agg       *aggregator.Aggregator
	tracker   *motion.Tracker
	segmenter *segmenter.Segmenter
	watcher   *webwatch.Watcher
	bridge    *mqttbridge.Bridge
	server    *server.Server
	listener  net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.Reload] change the log level of the process logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithAudioInput replaces the configured audio source with r.
func WithAudioInput(r io.ReadCloser) Option {
	return func(a *App) { a.audioIn = r }
}

// WithListener serves the status API on ln instead of listening on
// cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The combined state
// is restored from the local store before New returns.
func New(ctx context.Context, cfg *config.Config, backends *Backends, opts ...Option) (*App, error) {
	if backends == nil || backends.KV == nil || backends.Remote == nil {
		return nil, errors.New("app: local and remote stores are required")
	}
	a := &App{
		cfg:      cfg,
		backends: backends,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Aggregator ────────────────────────────────────────────────────
	if err := a.initAggregator(ctx); err != nil {
		return nil, fmt.Errorf("app: init aggregator: %w", err)
	}

	// ── 2. Motion tracker ────────────────────────────────────────────────
	a.tracker = motion.New(backends.Remote, a.agg.Sink,
		motion.WithTick(cfg.Motion.Tick),
		motion.WithFlushInterval(cfg.Motion.FlushInterval),
		motion.WithIsolationAfter(cfg.Motion.IsolationAfter),
		motion.WithMetrics(a.metrics),
	)

	// ── 3. Audio segmenter ───────────────────────────────────────────────
	if err := a.initSegmenter(ctx); err != nil {
		return nil, fmt.Errorf("app: init segmenter: %w", err)
	}

	// ── 4. Web content watcher ───────────────────────────────────────────
	a.initWatcher()

	// ── 5. MQTT bridge ───────────────────────────────────────────────────
	a.initBridge()

	// ── 6. Status server ─────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initAggregator(ctx context.Context) error {
	opts := []aggregator.Option{
		aggregator.WithUserID(a.cfg.User.ID),
		aggregator.WithDefaultStage(a.cfg.Recommend.DefaultStage),
		aggregator.WithIsolationAfter(a.cfg.Motion.IsolationAfter),
		aggregator.WithMetrics(a.metrics),
	}
	if a.backends.Recommender != nil {
		opts = append(opts, aggregator.WithRecommender(a.backends.Recommender))
	}
	a.agg = aggregator.New(a.backends.KV, a.backends.Remote, opts...)
	return a.agg.Load(ctx)
}

func (a *App) initSegmenter(ctx context.Context) error {
	if !a.cfg.Audio.Enabled {
		return nil
	}
	if a.backends.Classifier == nil {
		slog.Warn("audio tracking disabled: no classifier configured")
		return nil
	}
	seg, err := segmenter.New(segmenter.Config{
		Dir:            a.cfg.Audio.Dir,
		SampleRate:     a.cfg.Audio.SampleRate,
		WindowSamples:  a.cfg.Audio.WindowSamples,
		Threshold:      a.cfg.Audio.SilenceThreshold,
		SilenceTimeout: a.cfg.Audio.SilenceTimeout,
		ChunkDuration:  a.cfg.Audio.ChunkDuration,
	},
		segmenter.ClassifyHandler(a.backends.Classifier, a.agg.Sink, a.metrics),
		segmenter.WithMetrics(a.metrics),
		segmenter.WithSubmitContext(ctx),
	)
	if err != nil {
		return err
	}
	a.segmenter = seg
	return nil
}

func (a *App) initWatcher() {
	if !a.cfg.Web.Enabled {
		return
	}
	if a.backends.Classifier == nil {
		slog.Warn("web tracking disabled: no classifier configured")
		return
	}
	a.watcher = webwatch.New(webwatch.Config{
		AllowedPackages:  a.cfg.Web.AllowedPackages,
		SearchPatterns:   a.cfg.Web.SearchPatterns,
		DedupWindow:      a.cfg.Web.DedupWindow,
		FetchAttempts:    a.cfg.Web.FetchAttempts,
		FetchBackoff:     a.cfg.Web.FetchBackoff,
		FetchTimeout:     a.cfg.Web.FetchTimeout,
		MaxDigest:        a.cfg.Web.MaxDigest,
		WatchdogInterval: a.cfg.Web.WatchdogInterval,
	}, a.backends.Classifier, a.agg.Sink, webwatch.WithMetrics(a.metrics))
}

// initBridge connects to the MQTT broker. A broker that cannot be reached
// leaves the bridge disabled; the HTTP ingestion endpoints still work.
func (a *App) initBridge() {
	if a.cfg.MQTT.Broker == "" {
		return
	}
	b, err := mqttbridge.Dial(mqttbridge.Config{
		Broker:          a.cfg.MQTT.Broker,
		ClientID:        a.cfg.MQTT.ClientID,
		Username:        a.cfg.MQTT.Username,
		Password:        a.cfg.MQTT.Password,
		UserID:          a.cfg.User.ID,
		StepsTopic:      a.cfg.Motion.MQTTTopic,
		NavigationTopic: a.cfg.Web.MQTTTopic,
		DisplayTopic:    a.cfg.MQTT.DisplayTopic,
	})
	if err != nil {
		slog.Warn("mqtt disabled", "broker", a.cfg.MQTT.Broker, "err", err)
		return
	}
	a.bridge = b
	a.closers = append(a.closers, b.Close)

	if err := b.SubscribeSteps(a.tracker.OnCounter); err != nil {
		slog.Warn("mqtt step subscription failed", "err", err)
	}
	if a.watcher != nil {
		if err := a.watcher.AddSource(b.NavigationSource()); err != nil {
			slog.Warn("mqtt navigation source rejected", "err", err)
		}
	}
}

func (a *App) initServer() error {
	checkers := []health.Checker{
		health.Ping("local_store", a.backends.KV),
		health.Ping("remote_store", a.backends.Remote),
	}
	if a.bridge != nil {
		checkers = append(checkers, health.OptionalPing("mqtt", a.bridge))
	}

	deps := server.Deps{
		State:      a.agg,
		Classifier: a.backends.Classifier,
		Steps:      a.tracker,
		Health:     health.New(checkers...),
		Metrics:    a.metrics,
	}
	if a.watcher != nil {
		deps.Navigation = a.watcher
	}
	a.server = server.New(deps)

	if a.listener == nil {
		ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return err
		}
		a.listener = ln
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Addr returns the address the status server listens on.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Aggregator returns the state aggregator.
func (a *App) Aggregator() *aggregator.Aggregator { return a.agg }

// Run starts every enabled tracker and the status server, then blocks until
// ctx is cancelled or a component fails. Cancellation is not an error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.tracker.Run(gctx) })
	if a.segmenter != nil {
		g.Go(func() error { return a.runAudio(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.bridge != nil {
		g.Go(func() error { return a.bridge.PublishUpdates(gctx, a.agg) })
	}
	g.Go(func() error { return a.serve(gctx) })

	slog.Info("app running",
		"addr", a.Addr().String(),
		"audio", a.segmenter != nil,
		"web", a.watcher != nil,
		"mqtt", a.bridge != nil,
	)
	return g.Wait()
}

// runAudio feeds the configured PCM stream to the segmenter. The end of the
// stream stops audio tracking only.
func (a *App) runAudio(ctx context.Context) error {
	r := a.audioIn
	if r == nil {
		var err error
		r, err = audio.OpenSource(ctx, a.cfg.Audio.Source)
		if err != nil {
			slog.Warn("audio tracking disabled", "source", a.cfg.Audio.Source, "err", err)
			return nil
		}
	}
	defer r.Close()

	from := audio.Format{SampleRate: a.cfg.Audio.InputSampleRate, Channels: a.cfg.Audio.InputChannels}
	if to := a.segmenter.Format(); from != to && from.SampleRate > 0 && from.Channels > 0 {
		r = convertCloser{Reader: audio.NewConvertReader(r, from, to), Closer: r}
	}
	if err := a.segmenter.Run(ctx, r); err != nil {
		slog.Warn("audio stream ended with error", "err", err)
	}
	return nil
}

func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- srv.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(a.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("status server shutdown", "err", err)
		}
		<-errCh
		return nil
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the live parts of a configuration change and returns the
// diff so the caller can report sections that need a restart.
func (a *App) Reload(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if a.watcher != nil {
		if d.AllowedPackagesChanged {
			a.watcher.Filter().SetAllowed(new.Web.AllowedPackages)
			slog.Info("web allow-list updated", "packages", len(new.Web.AllowedPackages))
		}
		if d.SearchPatternsChanged {
			a.watcher.Filter().SetSearchPatterns(new.Web.SearchPatterns)
			slog.Info("web search patterns updated", "patterns", len(new.Web.SearchPatterns))
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change requires restart", "sections", d.RestartRequired)
	}
	return d
}

// SlogLevel maps a config log level onto slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown waits for in-flight classifications and remote writes, then
// closes the MQTT bridge and the stores. It respects the context deadline:
// if ctx expires, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers)+2)

		if a.segmenter != nil {
			if err := a.segmenter.Close(); err != nil {
				slog.Warn("segmenter close error", "err", err)
			}
			if err := a.segmenter.Wait(ctx); err != nil {
				slog.Warn("audio classifications still running", "err", err)
			}
		}
		if a.watcher != nil {
			if err := a.watcher.Wait(ctx); err != nil {
				slog.Warn("page classifications still running", "err", err)
			}
		}
		if err := a.agg.Wait(ctx); err != nil {
			slog.Warn("remote writes still running", "err", err)
		}

		closers := append(a.closers, a.backends.Remote.Close, a.backends.KV.Close)
		for i, closer := range closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// convertCloser keeps the capture stream closable behind a format converter
// so cancellation still unblocks a pending read.
type convertCloser struct {
	io.Reader
	io.Closer
}

// closeAll releases what New opened before it failed.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}

// Package webwatch turns browser navigation events into text emotion
// observations. Events pass a filter pipeline, the page is fetched and
// reduced to a title and a short digest, and the digest is classified.
//
// A watchdog restarts the event sources when nothing has arrived for a
// while, since a silently dead subscription looks exactly like an idle user.
package webwatch

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MrWong99/moodsense/internal/observe"
	"github.com/MrWong99/moodsense/pkg/classifier"
	"github.com/MrWong99/moodsense/pkg/emotion"
)

// Event is one navigation signal: the package that produced it and the raw
// address bar text.
type Event struct {
	Package string `json:"package"`
	Text    string `json:"text"`
}

// Handler receives events from an [EventSource].
type Handler func(ctx context.Context, ev Event)

// EventSource delivers navigation events. Start must not block; Stop must
// make a later Start possible.
type EventSource interface {
	Name() string
	Start(ctx context.Context, h Handler) error
	Stop() error
}

// Sink receives text observations.
type Sink func(ctx context.Context, obs emotion.Observation)

// Config tunes the watcher. Zero values select defaults.
type Config struct {
	AllowedPackages  []string
	SearchPatterns   []string
	DedupWindow      time.Duration
	FetchAttempts    int
	FetchBackoff     time.Duration
	FetchTimeout     time.Duration
	MaxDigest        int
	WatchdogInterval time.Duration
}

// Watcher is safe for concurrent use.
type Watcher struct {
	filter     *Filter
	fetcher    *Fetcher
	classifier classifier.Classifier
	sink       Sink
	metrics    *observe.Metrics
	now        func() time.Time
	maxDigest  int
	watchdog   time.Duration

	mu        sync.Mutex
	sources   []EventSource
	lastEvent time.Time
	runCtx    context.Context
	running   bool

	inflight sync.WaitGroup
}

// Option is a functional option for [New].
type Option func(*Watcher)

// WithClock replaces time.Now for the dedup window, the watchdog and
// observation timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// WithHTTPClient sets the client used for page fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Watcher) { w.fetcher.client = c }
}

// WithMetrics records fetches and drops on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Watcher) {
		w.metrics = m
		w.fetcher.metrics = m
	}
}

// New returns a watcher classifying pages with c and reporting to sink.
func New(cfg Config, c classifier.Classifier, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		fetcher:    NewFetcher(nil, cfg.FetchAttempts, cfg.FetchBackoff, cfg.FetchTimeout),
		classifier: c,
		sink:       sink,
		now:        time.Now,
		maxDigest:  cfg.MaxDigest,
		watchdog:   cfg.WatchdogInterval,
		runCtx:     context.Background(),
	}
	if w.watchdog <= 0 {
		w.watchdog = 5 * time.Minute
	}
	for _, o := range opts {
		o(w)
	}
	w.filter = NewFilter(cfg.AllowedPackages, cfg.SearchPatterns, cfg.DedupWindow, w.now)
	w.lastEvent = w.now()
	return w
}

// Filter exposes the filter so its lists can be updated at runtime.
func (w *Watcher) Filter() *Filter { return w.filter }

// AddSource registers an event source. Sources added before Run are started
// by Run; sources added afterwards are started immediately.
func (w *Watcher) AddSource(src EventSource) error {
	w.mu.Lock()
	w.sources = append(w.sources, src)
	ctx, running := w.runCtx, w.running
	w.mu.Unlock()
	if running {
		return src.Start(ctx, w.Handle)
	}
	return nil
}

// Handle accepts one navigation event. Accepted URLs are fetched and
// classified on a separate goroutine; Handle itself never blocks on I/O.
func (w *Watcher) Handle(ctx context.Context, ev Event) {
	w.mu.Lock()
	w.lastEvent = w.now()
	w.mu.Unlock()

	url, reason, ok := w.filter.Accept(ev.Package, ev.Text)
	if !ok {
		if w.metrics != nil {
			w.metrics.RecordDrop(ctx, reason)
		}
		slog.Debug("navigation event dropped", "package", ev.Package, "reason", reason)
		return
	}
	slog.Info("navigation accepted", "url", url)

	pctx := context.WithoutCancel(ctx)
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		w.process(pctx, url)
	}()
}

func (w *Watcher) process(ctx context.Context, url string) {
	ctx, span := observe.StartSpan(ctx, "webwatch.page")
	var err error
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx)

	body, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		log.Warn("page fetch failed", "url", url, "err", err)
		return
	}
	page, err := Extract(bytes.NewReader(body), w.maxDigest)
	if err != nil {
		log.Warn("page parse failed", "url", url, "err", err)
		return
	}

	cctx, call := observe.StartClassification(ctx, w.metrics, "text")
	label, err := w.classifier.ClassifyText(cctx, page.Title, page.Digest)
	call.End(label, err)
	if err != nil {
		log.Warn("text classification failed", "url", url, "err", err)
		return
	}
	log.Info("page classified", "url", url, "title", page.Title, "label", label)
	w.sink(ctx, emotion.New(emotion.SourceText, label, w.now()))
}

// Run starts all sources and the watchdog, then blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	w.runCtx = ctx
	w.running = true
	w.lastEvent = w.now()
	sources := append([]EventSource(nil), w.sources...)
	w.mu.Unlock()

	for _, src := range sources {
		if err := src.Start(ctx, w.Handle); err != nil {
			slog.Warn("event source failed to start", "source", src.Name(), "err", err)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc("@every "+w.watchdog.String(), func() { w.CheckStall(ctx) }); err != nil {
		return err
	}
	c.Start()

	<-ctx.Done()

	<-c.Stop().Done()
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	for _, src := range sources {
		if err := src.Stop(); err != nil {
			slog.Warn("event source failed to stop", "source", src.Name(), "err", err)
		}
	}
	return nil
}

// CheckStall restarts every source when no event arrived within the watchdog
// interval. It reports whether a restart happened.
func (w *Watcher) CheckStall(ctx context.Context) bool {
	w.mu.Lock()
	idle := w.now().Sub(w.lastEvent)
	sources := append([]EventSource(nil), w.sources...)
	if idle > w.watchdog {
		w.lastEvent = w.now()
	}
	w.mu.Unlock()

	if idle <= w.watchdog {
		return false
	}
	slog.Warn("no navigation events, restarting sources", "idle", idle)
	for _, src := range sources {
		if err := src.Stop(); err != nil {
			slog.Warn("event source failed to stop", "source", src.Name(), "err", err)
		}
		if err := src.Start(ctx, w.Handle); err != nil {
			slog.Warn("event source failed to restart", "source", src.Name(), "err", err)
		}
	}
	return true
}

// Wait blocks until all in-flight page processing has finished or ctx is done.
func (w *Watcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

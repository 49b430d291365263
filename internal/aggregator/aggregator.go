// Package aggregator merges the observations of every producer into one
// [CombinedState]. Each observation is applied in a single critical section
// that updates the owned fields, persists the state locally and publishes the
// new display line. Remote mirroring and the video recommendation pipeline run
// asynchronously and never block a producer.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/moodsense/internal/observe"
	"github.com/MrWong99/moodsense/pkg/emotion"
	"github.com/MrWong99/moodsense/pkg/recommend"
	"github.com/MrWong99/moodsense/pkg/store"
)

// Recommender is the recommendation service used by the video pipeline.
// [*recommend.Client] satisfies it.
type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (recommend.Response, error)
	PredictStage(ctx context.Context, req recommend.StageRequest) (string, error)
}

var _ Recommender = (*recommend.Client)(nil)

// Update is published to subscribers after every change.
type Update struct {
	State CombinedState
	Line  string

	// Err carries a transient failure of the video pipeline. State and Line
	// are still current.
	Err error
}

// Advice is the outcome of the last successful video pipeline run.
type Advice struct {
	Mood      string
	Stage     string
	Response  recommend.Response
	UpdatedAt time.Time
}

const defaultSubscriberBuffer = 8

// Aggregator is safe for concurrent use.
type Aggregator struct {
	kv          store.KV
	remote      store.Remote
	recommender Recommender
	userID      string
	stage       string
	metrics     *observe.Metrics
	now         func() time.Time
	isolation   time.Duration
	remoteTO    time.Duration

	mu    sync.Mutex
	state CombinedState

	subMu  sync.Mutex
	subs   map[int]chan Update
	nextID int

	adviceMu sync.RWMutex
	advice   Advice
	hasAdv   bool

	bg sync.WaitGroup
}

// Option is a functional option for [New].
type Option func(*Aggregator)

// WithRecommender enables the video pipeline.
func WithRecommender(r Recommender) Option {
	return func(a *Aggregator) { a.recommender = r }
}

// WithUserID sets the user id sent to the recommendation service.
func WithUserID(id string) Option {
	return func(a *Aggregator) { a.userID = id }
}

// WithDefaultStage sets the stage sent with recommendation requests. The
// default is [recommend.StageEuthymia].
func WithDefaultStage(stage string) Option {
	return func(a *Aggregator) {
		if stage != "" {
			a.stage = stage
		}
	}
}

// WithMetrics records observations and recommendation calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithIsolationAfter sets how long without movement counts as isolated. The
// default is 30 minutes.
func WithIsolationAfter(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.isolation = d
		}
	}
}

// New returns an aggregator persisting to kv and mirroring to remote. remote
// may be nil, which disables mirroring and the video pipeline.
func New(kv store.KV, remote store.Remote, opts ...Option) *Aggregator {
	a := &Aggregator{
		kv:        kv,
		remote:    remote,
		stage:     recommend.StageEuthymia,
		now:       time.Now,
		isolation: 30 * time.Minute,
		remoteTO:  30 * time.Second,
		state:     DefaultState(),
		subs:      make(map[int]chan Update),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Load replaces the in-memory state with the one stored in the local KV.
// Keys that cannot be read keep their defaults; the joined read errors are
// returned.
func (a *Aggregator) Load(ctx context.Context) error {
	s, err := load(ctx, a.kv)
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	return err
}

// Snapshot returns the current state with Isolated recomputed.
func (a *Aggregator) Snapshot() CombinedState {
	a.mu.Lock()
	s := a.state
	a.mu.Unlock()
	s.Isolated = s.IsIsolated(a.now(), a.isolation)
	return s
}

// Line returns the current display line.
func (a *Aggregator) Line() string {
	return a.Snapshot().DisplayLine()
}

// Sink adapts Apply to the producers' sink signature.
func (a *Aggregator) Sink(ctx context.Context, obs emotion.Observation) {
	a.Apply(ctx, obs)
}

// Apply folds obs into the state, persists it and notifies subscribers. A
// failing local write is logged; the in-memory state is still updated.
func (a *Aggregator) Apply(ctx context.Context, obs emotion.Observation) CombinedState {
	a.mu.Lock()
	next := a.state.apply(obs)
	next.Isolated = next.IsIsolated(a.now(), a.isolation)
	a.state = next
	if err := save(ctx, a.kv, next); err != nil {
		slog.Warn("aggregator: local persist failed", "source", obs.Source, "err", err)
	}
	a.publish(Update{State: next, Line: next.DisplayLine()})
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordObservation(ctx, obs.Source.String())
	}
	if obs.Source != emotion.SourceMotion {
		slog.Info("aggregator: emotion updated", "source", obs.Source, "label", obs.Label)
	}

	switch obs.Source {
	case emotion.SourceText, emotion.SourceAudio:
		a.goBackground(ctx, func(ctx context.Context) { a.mirror(ctx, obs) })
	case emotion.SourceVideo:
		a.goBackground(ctx, func(ctx context.Context) { a.runVideo(ctx, obs, next.StepCount) })
	}
	return next
}

func (a *Aggregator) goBackground(ctx context.Context, fn func(context.Context)) {
	if a.remote == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		fn(ctx)
	}()
}

func emotionRecord(obs emotion.Observation) store.Record {
	return store.Record{Emotion: obs.Label, Timestamp: obs.Timestamp}
}

func (a *Aggregator) mirror(ctx context.Context, obs emotion.Observation) {
	ctx, cancel := context.WithTimeout(ctx, a.remoteTO)
	defer cancel()
	coll := obs.Source.Collection()
	if err := a.remote.Append(ctx, coll, emotionRecord(obs)); err != nil {
		slog.Warn("aggregator: remote mirror failed", "collection", coll, "err", err)
	}
}

// runVideo records the video observation remotely, derives the user's mood
// from the freshest emotion across all signals and asks the recommendation
// service for advice.
func (a *Aggregator) runVideo(ctx context.Context, obs emotion.Observation, steps int) {
	ctx, span := observe.StartSpan(ctx, "aggregator.video")
	var err error
	defer func() {
		observe.EndSpan(span, err)
		if err != nil {
			observe.Logger(ctx).Warn("aggregator: video pipeline failed", "err", err)
			a.publishErr(err)
		}
	}()

	rctx, cancel := context.WithTimeout(ctx, a.remoteTO)
	defer cancel()

	if err = a.remote.Append(rctx, emotion.CollectionVideo, emotionRecord(obs)); err != nil {
		return
	}
	if a.recommender == nil {
		return
	}

	latest, err := a.latestEmotion(rctx)
	if err != nil {
		return
	}
	mood := emotion.Capitalize(latest.Emotion)
	if mood == "" {
		mood = emotion.Capitalize(obs.Label)
	}

	profile, perr := a.remote.Profile(rctx)
	if perr != nil && !errors.Is(perr, store.ErrNotFound) {
		observe.Logger(ctx).Warn("aggregator: profile read failed", "err", perr)
	}

	resp, err := a.recommender.Recommend(ctx, recommend.Request{
		UserID: a.userID,
		Mood:   mood,
		Stage:  a.stage,
		Age:    profile.Age,
		Gender: profile.Gender,
	})
	if a.metrics != nil {
		a.metrics.RecordRecommend(ctx, "recommendations", err)
	}
	if err != nil {
		return
	}

	snap := a.Snapshot()
	stage, serr := a.recommender.PredictStage(ctx, recommend.StageRequest{
		UserID:       a.userID,
		VideoEmotion: snap.VideoEmotion,
		TextEmotion:  snap.TextEmotion,
		AudioEmotion: snap.AudioEmotion,
		Activity:     recommend.ActivityLevel(steps),
	})
	if a.metrics != nil {
		a.metrics.RecordRecommend(ctx, "predict_stage", serr)
	}
	if serr != nil {
		observe.Logger(ctx).Warn("aggregator: stage prediction failed", "err", serr)
	} else {
		rec := store.Record{Fields: map[string]any{"stage": stage}, Timestamp: a.now()}
		if aerr := a.remote.Append(rctx, emotion.CollectionStages, rec); aerr != nil {
			observe.Logger(ctx).Warn("aggregator: stage store failed", "err", aerr)
		}
	}

	a.adviceMu.Lock()
	a.advice = Advice{Mood: mood, Stage: stage, Response: resp, UpdatedAt: a.now()}
	a.hasAdv = true
	a.adviceMu.Unlock()
	observe.Logger(ctx).Info("aggregator: recommendations updated", "mood", mood, "stage", stage, "count", len(resp.Recommendations))
}

// latestEmotion returns the newest record across the three emotion
// collections.
func (a *Aggregator) latestEmotion(ctx context.Context) (store.Record, error) {
	var best store.Record
	found := false
	for _, coll := range []string{emotion.CollectionText, emotion.CollectionAudio, emotion.CollectionVideo} {
		rec, ok, err := a.remote.QueryLatest(ctx, coll)
		if err != nil {
			return store.Record{}, err
		}
		if ok && (!found || rec.Timestamp.After(best.Timestamp)) {
			best, found = rec, true
		}
	}
	return best, nil
}

// Recommendations returns the last successful advice. ok is false until the
// video pipeline has succeeded once.
func (a *Aggregator) Recommendations() (Advice, bool) {
	a.adviceMu.RLock()
	defer a.adviceMu.RUnlock()
	return a.advice, a.hasAdv
}

// Subscribe registers for state updates. The returned channel receives the
// current state immediately. Delivery is best effort: when the buffer is full
// the update is dropped for that subscriber. Call cancel to unsubscribe.
func (a *Aggregator) Subscribe(ctx context.Context, buffer int) (updates <-chan Update, cancel func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Update, buffer)
	snap := a.Snapshot()
	ch <- Update{State: snap, Line: snap.DisplayLine()}

	a.subMu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = ch
	a.subMu.Unlock()
	if a.metrics != nil {
		a.metrics.ActiveSubscribers.Add(ctx, 1)
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subs, id)
			close(ch)
			a.subMu.Unlock()
			if a.metrics != nil {
				a.metrics.ActiveSubscribers.Add(context.WithoutCancel(ctx), -1)
			}
		})
	}
}

func (a *Aggregator) publish(u Update) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (a *Aggregator) publishErr(err error) {
	snap := a.Snapshot()
	a.publish(Update{State: snap, Line: snap.DisplayLine(), Err: err})
}

// Wait blocks until background mirroring and video pipelines have finished
// or ctx is done.
func (a *Aggregator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

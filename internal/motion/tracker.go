// Package motion turns raw cumulative step counter readings into per-second
// activity: steps since start, seconds spent moving or stationary, and the
// time of the last movement. It feeds every tick to the aggregator and
// periodically appends the accumulated deltas to the remote activityData
// collection.
package motion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/moodsense/internal/observe"
	"github.com/MrWong99/moodsense/pkg/emotion"
	"github.com/MrWong99/moodsense/pkg/store"
)

const (
	defaultTick           = time.Second
	defaultFlushInterval  = 30 * time.Second
	defaultIsolationAfter = 30 * time.Minute
	defaultFlushTimeout   = 10 * time.Second

	// rebootDrop is how far a reading must fall below the highest one seen
	// before it is taken as a device restart rather than a late delivery.
	rebootDrop = 1000
)

// Sink receives every motion observation.
type Sink func(ctx context.Context, obs emotion.Observation)

// Counters is a point-in-time copy of the tracker state.
type Counters struct {
	// Steps is the count since the first counter reading, or -1 before it.
	Steps int

	TimeMoving     int
	TimeStationary int

	// LastMovement is zero until the first moving tick.
	LastMovement time.Time
}

// Isolated reports whether no movement has been seen for longer than after.
// A tracker that never saw movement is isolated.
func (c Counters) Isolated(now time.Time, after time.Duration) bool {
	return c.LastMovement.IsZero() || now.Sub(c.LastMovement) > after
}

// accumulator holds deltas not yet written to the remote store.
type accumulator struct {
	steps          int
	timeMoving     int
	timeStationary int
}

// Tracker is safe for concurrent use: counter readings arrive from transport
// goroutines while Run ticks on its own.
type Tracker struct {
	remote         store.Remote
	sink           Sink
	metrics        *observe.Metrics
	now            func() time.Time
	tick           time.Duration
	flushInterval  time.Duration
	isolationAfter time.Duration

	mu           sync.Mutex
	baseline     int64
	haveBaseline bool
	highRaw      int64
	counters     Counters
	prevSteps    int
	acc          accumulator
	lastFlush    time.Time
	flushing     bool
}

// Option is a functional option for [New].
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTick sets the tick period used by Run. Default 1s.
func WithTick(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.tick = d
		}
	}
}

// WithFlushInterval sets the minimum time between remote flush attempts.
// Default 30s.
func WithFlushInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.flushInterval = d
		}
	}
}

// WithIsolationAfter sets how long without movement counts as isolated.
// Default 30m.
func WithIsolationAfter(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.isolationAfter = d
		}
	}
}

// WithMetrics records flush outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// New returns a Tracker that flushes to remote and reports to sink. Either may
// be nil.
func New(remote store.Remote, sink Sink, opts ...Option) *Tracker {
	t := &Tracker{
		remote:         remote,
		sink:           sink,
		now:            time.Now,
		tick:           defaultTick,
		flushInterval:  defaultFlushInterval,
		isolationAfter: defaultIsolationAfter,
		counters:       Counters{Steps: -1},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// OnCounter records a raw cumulative counter reading. The first reading
// becomes the baseline.
//
// A reading below the baseline, or more than rebootDrop below the highest
// reading so far, means the device counter restarted: the baseline moves so
// the step count continues from its current value. Any other lower reading is
// a stale or reordered delivery and is ignored.
func (t *Tracker) OnCounter(raw int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.haveBaseline {
		t.baseline = raw
		t.highRaw = raw
		t.haveBaseline = true
	}
	cur := max(t.counters.Steps, 0)
	switch {
	case raw < t.baseline || t.highRaw-raw > rebootDrop:
		slog.Info("step counter restarted, rebasing", "raw", raw, "steps", cur)
		t.baseline = raw - int64(cur)
		t.highRaw = raw
		t.counters.Steps = cur
		return
	case raw < t.highRaw:
		slog.Debug("stale step reading ignored", "raw", raw, "latest", t.highRaw)
		return
	}
	t.highRaw = raw
	t.counters.Steps = int(raw - t.baseline)
}

// Tick classifies the second ending at now, emits the updated counters to
// the sink, and flushes the accumulator when the flush interval has elapsed.
func (t *Tracker) Tick(ctx context.Context, now time.Time) {
	t.mu.Lock()
	cur := max(t.counters.Steps, 0)
	stepDelta := cur - t.prevSteps
	t.prevSteps = cur

	if stepDelta > 0 {
		t.counters.TimeMoving++
		t.counters.LastMovement = now
		t.acc.timeMoving++
	} else {
		t.counters.TimeStationary++
		t.acc.timeStationary++
	}
	if stepDelta > 0 {
		t.acc.steps += stepDelta
	}
	snap := t.counters

	var pending accumulator
	due := !t.flushing && now.Sub(t.lastFlush) >= t.flushInterval
	if due {
		t.lastFlush = now
		t.flushing = true
		pending = t.acc
	}
	t.mu.Unlock()

	if t.sink != nil {
		t.sink(ctx, emotion.NewMotion(emotion.MotionSample{
			Steps:                 snap.Steps,
			TimeMovingSeconds:     snap.TimeMoving,
			TimeStationarySeconds: snap.TimeStationary,
			LastMovement:          snap.LastMovement,
		}, now))
	}

	if due {
		t.flush(ctx, now, pending, snap.Isolated(now, t.isolationAfter))
	}
}

// flush appends pending to the remote store. On success exactly the flushed
// amounts are subtracted, so deltas accumulated meanwhile survive. On failure
// nothing changes and the next interval carries the deltas along.
func (t *Tracker) flush(ctx context.Context, now time.Time, pending accumulator, isolated bool) {
	var err error
	if t.remote != nil {
		fctx, cancel := context.WithTimeout(ctx, defaultFlushTimeout)
		err = t.remote.Append(fctx, emotion.CollectionActivity, store.Record{
			Fields: map[string]any{
				"steps":          pending.steps,
				"timeMoving":     pending.timeMoving,
				"timeStationary": pending.timeStationary,
				"isolated":       isolated,
			},
			Timestamp: now,
		})
		cancel()
	}
	if t.metrics != nil {
		t.metrics.RecordFlush(ctx, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushing = false
	if err != nil {
		slog.Warn("activity flush failed", "err", err)
		return
	}
	t.acc.steps -= pending.steps
	t.acc.timeMoving -= pending.timeMoving
	t.acc.timeStationary -= pending.timeStationary
	slog.Debug("activity flushed",
		"steps", pending.steps,
		"time_moving", pending.timeMoving,
		"time_stationary", pending.timeStationary,
		"isolated", isolated)
}

// Run ticks until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Tick(ctx, t.now())
		}
	}
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

// Isolated reports whether the user has not moved for the isolation period.
func (t *Tracker) Isolated(now time.Time) bool {
	return t.Snapshot().Isolated(now, t.isolationAfter)
}

// Pending returns the accumulated deltas not yet flushed.
func (t *Tracker) Pending() (steps, timeMoving, timeStationary int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acc.steps, t.acc.timeMoving, t.acc.timeStationary
}

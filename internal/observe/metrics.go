// Package observe provides the observability primitives for moodsense:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed for
// Prometheus scraping by the exporter bridge set up in [InitProvider]. A
// package-level [Metrics] instance is available through [DefaultMetrics];
// tests should build their own with [NewMetrics] and a private
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all moodsense metrics.
const meterName = "github.com/MrWong99/moodsense"

// Metrics holds every metric instrument of the daemon. The OTel instruments
// synchronise internally, so a *Metrics is safe for concurrent use.
type Metrics struct {
	// Observations counts observations applied to the combined state.
	//   attribute.String("source", ...)
	Observations metric.Int64Counter

	// ClassifyDuration tracks classifier round-trip latency.
	//   attribute.String("kind", "image"|"audio"|"text")
	ClassifyDuration metric.Float64Histogram

	// ClassifyErrors counts failed classifications.
	//   attribute.String("kind", ...)
	ClassifyErrors metric.Int64Counter

	// AudioFiles counts finalized WAV files.
	//   attribute.String("kind", "chunk"|"archive")
	AudioFiles metric.Int64Counter

	// WebFetches counts page fetch attempts.
	//   attribute.String("outcome", "ok"|"error"|"status")
	WebFetches metric.Int64Counter

	// WebEventsDropped counts navigation events rejected by the filter pipeline.
	//   attribute.String("reason", ...)
	WebEventsDropped metric.Int64Counter

	// MotionFlushes counts activity flushes to the remote store.
	//   attribute.String("status", "ok"|"error")
	MotionFlushes metric.Int64Counter

	// RecommendRequests counts calls to the recommendation service.
	//   attribute.String("endpoint", ...), attribute.String("status", ...)
	RecommendRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	//   attribute.String("breaker", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// ActiveSubscribers is the number of live state update subscriptions.
	ActiveSubscribers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks status server latency.
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// classifyBuckets covers classifier latencies, which are dominated by remote
// model inference.
var classifyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Observations, err = m.Int64Counter("moodsense.observations",
		metric.WithDescription("Observations applied to the combined state by source."),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("moodsense.classify.duration",
		metric.WithDescription("Latency of emotion classification by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(classifyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifyErrors, err = m.Int64Counter("moodsense.classify.errors",
		metric.WithDescription("Failed emotion classifications by kind."),
	); err != nil {
		return nil, err
	}
	if met.AudioFiles, err = m.Int64Counter("moodsense.audio.files",
		metric.WithDescription("Finalized WAV files by kind."),
	); err != nil {
		return nil, err
	}
	if met.WebFetches, err = m.Int64Counter("moodsense.web.fetches",
		metric.WithDescription("Page fetch attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.WebEventsDropped, err = m.Int64Counter("moodsense.web.dropped",
		metric.WithDescription("Navigation events dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.MotionFlushes, err = m.Int64Counter("moodsense.motion.flushes",
		metric.WithDescription("Activity flushes to the remote store by status."),
	); err != nil {
		return nil, err
	}
	if met.RecommendRequests, err = m.Int64Counter("moodsense.recommend.requests",
		metric.WithDescription("Recommendation service calls by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("moodsense.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and new state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSubscribers, err = m.Int64UpDownCounter("moodsense.active_subscribers",
		metric.WithDescription("Number of live state update subscriptions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("moodsense.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. It panics if instrument creation fails, which does
// not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordObservation counts one applied observation.
func (m *Metrics) RecordObservation(ctx context.Context, source string) {
	m.Observations.Add(ctx, 1, metric.WithAttributes(Attr("source", source)))
}

// RecordClassification records the latency of one classification and counts
// it as an error when err is non-nil.
func (m *Metrics) RecordClassification(ctx context.Context, kind string, d time.Duration, err error) {
	attrs := metric.WithAttributes(Attr("kind", kind))
	m.ClassifyDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.ClassifyErrors.Add(ctx, 1, attrs)
	}
}

// RecordAudioFile counts one finalized WAV file.
func (m *Metrics) RecordAudioFile(ctx context.Context, kind string) {
	m.AudioFiles.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordFetch counts one page fetch attempt.
func (m *Metrics) RecordFetch(ctx context.Context, outcome string) {
	m.WebFetches.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordDrop counts one navigation event dropped for reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.WebEventsDropped.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordFlush counts one activity flush attempt.
func (m *Metrics) RecordFlush(ctx context.Context, err error) {
	m.MotionFlushes.Add(ctx, 1, metric.WithAttributes(Attr("status", status(err))))
}

// RecordRecommend counts one recommendation service call.
func (m *Metrics) RecordRecommend(ctx context.Context, endpoint string, err error) {
	m.RecommendRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("endpoint", endpoint),
		Attr("status", status(err)),
	))
}

// RecordBreakerTransition counts a circuit breaker moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("breaker", breaker),
		Attr("state", state),
	))
}

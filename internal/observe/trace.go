package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/moodsense"

// Tracer returns the moodsense tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// no valid span.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with trace_id and span_id from
// ctx. Without an active span it is the default logger unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// Classification covers one classifier call with a "classify.<modality>"
// span and, when metrics are configured, a latency sample.
type Classification struct {
	ctx      context.Context
	span     trace.Span
	metrics  *Metrics
	modality string
	start    time.Time
}

// StartClassification opens the span for a classifier call on modality
// ("image", "audio" or "text"). m may be nil. The returned context carries
// the span and should be passed to the classifier.
func StartClassification(ctx context.Context, m *Metrics, modality string) (context.Context, *Classification) {
	ctx, span := StartSpan(ctx, "classify."+modality,
		trace.WithAttributes(attribute.String("moodsense.modality", modality)))
	return ctx, &Classification{ctx: ctx, span: span, metrics: m, modality: modality, start: time.Now()}
}

// End records the outcome and closes the span.
func (c *Classification) End(label string, err error) {
	if label != "" {
		c.span.SetAttributes(attribute.String("moodsense.label", label))
	}
	if c.metrics != nil {
		c.metrics.RecordClassification(c.ctx, c.modality, time.Since(c.start), err)
	}
	EndSpan(c.span, err)
}

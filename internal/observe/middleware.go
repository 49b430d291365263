package observe

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the request's trace ID back to the caller.
const CorrelationHeader = "X-Correlation-ID"

// probePaths are logged at debug level and kept out of the latency histogram.
var probePaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// responseWriter remembers the status the handler wrote. Hijack is passed
// through so the state stream can upgrade to a WebSocket.
type responseWriter struct {
	http.ResponseWriter
	status   int
	upgraded bool
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: response writer cannot be hijacked")
	}
	w.status = http.StatusSwitchingProtocols
	w.upgraded = true
	return hj.Hijack()
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MiddlewareOption tunes [Middleware].
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	propagator propagation.TextMapPropagator
}

// WithPropagator overrides the propagator used to read and write trace
// headers. By default the global one installed by [InitProvider] is used,
// falling back to W3C Trace Context when none is set.
func WithPropagator(p propagation.TextMapPropagator) MiddlewareOption {
	return func(c *middlewareConfig) { c.propagator = p }
}

// Middleware traces, measures and logs every request to the moodsense API.
//
// The span is renamed to the matched mux pattern once the request has been
// dispatched; unmatched requests keep "METHOD /path".
// Upgraded connections (the state stream) are traced but their lifetime is
// not recorded as request latency.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{propagator: otel.GetTextMapPropagator()}
	for _, o := range opts {
		o(&cfg)
	}
	if len(cfg.propagator.Fields()) == 0 {
		cfg.propagator = propagation.TraceContext{}
	}
	prop := cfg.propagator

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set(CorrelationHeader, cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := routeOf(r)
			span.SetName(route)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status))
			if r.Pattern != "" {
				span.SetAttributes(semconv.HTTPRoute(r.Pattern))
			}

			elapsed := time.Since(start)
			probe := probePaths[r.URL.Path]
			if m != nil && !probe && !rw.upgraded {
				m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
					metric.WithAttributes(
						attribute.String("method", r.Method),
						attribute.String("path", route),
						attribute.String("status_class", statusClass(rw.status)),
					),
				)
			}

			level := slog.LevelInfo
			if probe {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "request completed",
				slog.String("trace_id", cid),
				slog.String("route", route),
				slog.Int("status", rw.status),
				slog.Bool("upgraded", rw.upgraded),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

// routeOf prefers the mux pattern ("GET /v1/items/{id}") and falls back to
// the raw method and path for unmatched requests.
func routeOf(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Method + " " + r.URL.Path
}

// statusClass buckets a status code as "2xx", "4xx" and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

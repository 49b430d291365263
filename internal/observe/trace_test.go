package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestStartSpan_RecordsSpanWithTraceID(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartSpan(context.Background(), "classify.audio")
	cid := CorrelationID(ctx)
	span.End()

	if len(cid) != 32 {
		t.Errorf("correlation ID %q, want 32 hex chars", cid)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "classify.audio" {
		t.Fatalf("spans = %v", spans)
	}
}

func TestEndSpan(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvents int
	}{
		{name: "success", wantStatus: codes.Unset},
		{name: "failure", err: errors.New("remote down"), wantStatus: codes.Error, wantEvents: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exp := useTestTracer(t)
			_, span := StartSpan(context.Background(), "op")
			EndSpan(span, tc.err)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if spans[0].Status.Code != tc.wantStatus {
				t.Errorf("status = %v, want %v", spans[0].Status.Code, tc.wantStatus)
			}
			if len(spans[0].Events) != tc.wantEvents {
				t.Errorf("events = %d, want %d", len(spans[0].Events), tc.wantEvents)
			}
		})
	}
}

func TestLogger_TraceAttributes(t *testing.T) {
	useTestTracer(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span carries trace_id: %s", buf.String())
	}

	buf.Reset()
	ctx, span := StartSpan(context.Background(), "with-span")
	defer span.End()
	Logger(ctx).Info("inside span")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) || !strings.Contains(out, "span_id=") {
		t.Errorf("log output missing trace attributes: %s", out)
	}
}

func TestClassification(t *testing.T) {
	exp := useTestTracer(t)
	m, reader := newTestMetrics(t)

	_, call := StartClassification(context.Background(), m, "text")
	call.End("Sad", nil)
	_, call = StartClassification(context.Background(), m, "text")
	call.End("", errors.New("upstream 500"))
	_, call = StartClassification(context.Background(), nil, "image")
	call.End("Happy", nil)

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	if spans[0].Name != "classify.text" || spans[2].Name != "classify.image" {
		t.Errorf("span names = %q, %q", spans[0].Name, spans[2].Name)
	}
	label := func(i int) string {
		for _, a := range spans[i].Attributes {
			if a.Key == "moodsense.label" {
				return a.Value.AsString()
			}
		}
		return ""
	}
	if got := label(0); got != "Sad" {
		t.Errorf("label attribute = %q, want Sad", got)
	}
	if got := label(1); got != "" {
		t.Errorf("failed call carries label %q", got)
	}
	if spans[1].Status.Code != codes.Error {
		t.Errorf("failed call status = %v", spans[1].Status.Code)
	}

	if got := sumFor(t, collect(t, reader), "moodsense.classify.errors", "kind", "text"); got != 1 {
		t.Errorf("classify errors = %d, want 1", got)
	}
}

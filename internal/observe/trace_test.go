package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordingTracer returns a tracer whose finished spans land in the returned
// exporter.
func recordingTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLog points slog.Default at a buffer for the duration of the test and
// returns a getter for the captured output.
func captureLog(t *testing.T) func() string {
	t.Helper()
	var sb strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&sb, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return sb.String
}

func TestCorrelationID_NoActiveSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q; want empty", got)
	}
}

func TestCorrelationID_MatchesSpanTraceID(t *testing.T) {
	tp, _ := recordingTracer(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "sample-drift")
	defer span.End()

	want := span.SpanContext().TraceID().String()
	if got := CorrelationID(ctx); got != want {
		t.Errorf("CorrelationID = %q; want the span's trace ID %q", got, want)
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := recordingTracer(t)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "export-run")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan produced no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "export-run" {
		t.Errorf("span name = %q; want export-run", spans[0].Name)
	}
	if spans[0].InstrumentationScope.Name != scopeName {
		t.Errorf("scope = %q; want %q", spans[0].InstrumentationScope.Name, scopeName)
	}
}

func TestLogger_BindsTraceAndSpanIDs(t *testing.T) {
	tp, _ := recordingTracer(t)
	logged := captureLog(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "log-binding")
	defer span.End()

	Logger(ctx).Info("drift sampled")

	out := logged()
	wantTrace := "trace_id=" + span.SpanContext().TraceID().String()
	if !strings.Contains(out, wantTrace) {
		t.Errorf("log line missing %q: %s", wantTrace, out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing span_id: %s", out)
	}
}

func TestLogger_PlainWithoutSpan(t *testing.T) {
	logged := captureLog(t)

	Logger(context.Background()).Info("no span here")

	if out := logged(); strings.Contains(out, "trace_id") {
		t.Errorf("log line carries a trace_id without an active span: %s", out)
	}
}

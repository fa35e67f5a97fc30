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

// useTracer installs an in-memory tracer provider as the global one.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

// captureLogs routes the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartSpan_TagsRecordingSession(t *testing.T) {
	exp := useTracer(t)

	ctx := WithSession(context.Background(), "20260101_120000_ab12cd34")
	_, span := StartSpan(ctx, "pipeline.run")
	span.End()
	_, plain := StartSpan(context.Background(), "pipeline.run")
	plain.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans; want 2", len(spans))
	}
	if v, ok := spanAttr(spans[0], "recording.session_id"); !ok || v.AsString() != "20260101_120000_ab12cd34" {
		t.Errorf("recording.session_id = %q, %v", v.AsString(), ok)
	}
	if _, ok := spanAttr(spans[1], "recording.session_id"); ok {
		t.Error("span without a session carries recording.session_id")
	}
}

func TestWithSession_EmptyIDLeavesContext(t *testing.T) {
	ctx := context.Background()
	if got := WithSession(ctx, ""); got != ctx {
		t.Error("WithSession with an empty ID wrapped the context")
	}
	if SessionID(ctx) != "" {
		t.Error("SessionID of a bare context is not empty")
	}
}

func TestLogger_CarriesSessionAndTrace(t *testing.T) {
	useTracer(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(WithSession(context.Background(), "sess-1"), "stage")
	defer span.End()
	Logger(ctx).Info("recording saved")

	out := buf.String()
	for _, want := range []string{"session_id=sess-1", "trace_id=" + CorrelationID(ctx), "span_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestLogger_NoSpanNoSession(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("idle")

	if out := buf.String(); strings.Contains(out, "trace_id") || strings.Contains(out, "session_id") {
		t.Errorf("unexpected enrichment: %s", out)
	}
}

func TestSpanError_MarksFailedStage(t *testing.T) {
	exp := useTracer(t)

	_, span := StartSpan(context.Background(), "pipeline.encode")
	SpanError(span, nil)
	SpanError(span, errors.New("malformed buffer"))
	span.End()

	s := exp.GetSpans()[0]
	if s.Status.Code != codes.Error || s.Status.Description != "malformed buffer" {
		t.Errorf("status = %+v", s.Status)
	}
	if len(s.Events) != 1 {
		t.Errorf("recorded %d error events; want 1", len(s.Events))
	}
}

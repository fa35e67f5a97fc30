package observe

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProvider_ServesMetrics(t *testing.T) {
	origMP := otel.GetMeterProvider()
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := InitProvider(context.Background(), ProviderConfig{TraceExporter: TraceExporterNone})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordTranscript(context.Background(), "whisper", "success")

	rec := httptest.NewRecorder()
	tel.MetricsHandler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scribehook_transcription_outcomes") {
		t.Errorf("exposition missing transcription counter:\n%s", rec.Body.String())
	}
}

func TestInitProvider_UnknownExporter(t *testing.T) {
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(origMP) })

	if _, err := InitProvider(context.Background(), ProviderConfig{TraceExporter: "zipkin"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestNewSpanExporter_OTLPRequiresEndpoint(t *testing.T) {
	if _, err := newSpanExporter(context.Background(), ProviderConfig{TraceExporter: TraceExporterOTLP}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestNewSpanExporter_Stdout(t *testing.T) {
	exp, err := newSpanExporter(context.Background(), ProviderConfig{TraceExporter: "STDOUT"})
	if err != nil {
		t.Fatalf("newSpanExporter: %v", err)
	}
	if exp == nil {
		t.Fatal("stdout exporter is nil")
	}
	_ = exp.Shutdown(context.Background())
}

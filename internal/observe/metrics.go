// Package observe provides application-wide observability primitives for
// scribehook: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all scribehook metrics.
const meterName = "github.com/MrWong99/scribehook"

// Pipeline stage names used with [Metrics.RecordStage].
const (
	StageEncode     = "encode"
	StagePersist    = "persist"
	StageTranscribe = "transcribe"
	StageDeliver    = "deliver"
	StagePipeline   = "pipeline"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks the latency of each pipeline stage. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// RecordingLength tracks the captured audio length per recording.
	RecordingLength metric.Float64Histogram

	// --- Counters ---

	// Recordings counts finished recordings. Use with
	// attribute.String("status", "complete"|"failed"|"empty").
	Recordings metric.Int64Counter

	// TranscriptOutcomes counts classified transcription results. Use with
	// attribute.String("provider", ...), attribute.String("outcome", ...).
	TranscriptOutcomes metric.Int64Counter

	// DeliveryOutcomes counts classified delivery results. Use with
	// attribute.String("provider", ...), attribute.String("outcome", ...).
	DeliveryOutcomes metric.Int64Counter

	// CaptureOverflows counts frames the device flagged as overflowed.
	CaptureOverflows metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attribute.String("breaker", ...), attribute.String("state", ...).
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings is 1 while a session is capturing, 0 otherwise.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control API request time. Attributes:
	//   attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// pipeline stages, from local encoding up to slow remote recognisers.
var latencyBuckets = []float64{
	0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// lengthBuckets defines bucket boundaries (in seconds) for recording length.
var lengthBuckets = []float64{
	1, 2, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("scribehook.stage.duration",
		metric.WithDescription("Latency of each pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingLength, err = m.Float64Histogram("scribehook.recording.length",
		metric.WithDescription("Length of captured audio per recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lengthBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Recordings, err = m.Int64Counter("scribehook.recordings",
		metric.WithDescription("Finished recordings by terminal status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptOutcomes, err = m.Int64Counter("scribehook.transcription.outcomes",
		metric.WithDescription("Transcription results by provider and outcome."),
	); err != nil {
		return nil, err
	}
	if met.DeliveryOutcomes, err = m.Int64Counter("scribehook.delivery.outcomes",
		metric.WithDescription("Delivery results by provider and outcome."),
	); err != nil {
		return nil, err
	}
	if met.CaptureOverflows, err = m.Int64Counter("scribehook.capture.overflows",
		metric.WithDescription("Captured frames flagged with a device overflow or underflow."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("scribehook.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions by breaker and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRecordings, err = m.Int64UpDownCounter("scribehook.active_recordings",
		metric.WithDescription("Number of sessions currently capturing audio."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("scribehook.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordRecording counts a finished recording and, unless it was empty,
// records its audio length.
func (m *Metrics) RecordRecording(ctx context.Context, status string, audioSeconds float64) {
	m.Recordings.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	if audioSeconds > 0 {
		m.RecordingLength.Record(ctx, audioSeconds)
	}
}

// RecordTranscript counts a classified transcription outcome.
func (m *Metrics) RecordTranscript(ctx context.Context, provider, outcome string) {
	m.TranscriptOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordDelivery counts a classified delivery outcome.
func (m *Metrics) RecordDelivery(ctx context.Context, provider, outcome string) {
	m.DeliveryOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordOverflow counts one overflowed capture frame.
func (m *Metrics) RecordOverflow(ctx context.Context) {
	m.CaptureOverflows.Add(ctx, 1)
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("state", state),
		),
	)
}

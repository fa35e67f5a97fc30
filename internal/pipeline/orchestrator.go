package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scribehook/internal/observe"
	"github.com/MrWong99/scribehook/internal/storage"
	"github.com/MrWong99/scribehook/pkg/audio"
	"github.com/MrWong99/scribehook/pkg/audio/wav"
)

// EndpointFunc returns the delivery endpoint. It is called once per run so
// that a reloaded configuration takes effect on the next recording.
type EndpointFunc func() string

// StaticEndpoint returns an [EndpointFunc] that always returns endpoint.
func StaticEndpoint(endpoint string) EndpointFunc {
	return func() string { return endpoint }
}

// Journal receives every finished, non-empty report.
type Journal interface {
	Append(ctx context.Context, r Report) error
}

// Orchestrator sequences the pipeline stages for one finalized buffer.
// It is safe for concurrent use, though runs are normally serialised by the
// single capture device.
type Orchestrator struct {
	store       storage.Store
	transcriber Transcriber
	deliverer   Deliverer
	endpoint    EndpointFunc
	journal     Journal
	metrics     *observe.Metrics
	now         func() time.Time

	mu           sync.RWMutex
	placeholders Placeholders
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithJournal appends each report to j.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithPlaceholders sets the strings used for non-text outcomes.
func WithPlaceholders(p Placeholders) Option {
	return func(o *Orchestrator) { o.placeholders = p.WithDefaults() }
}

// WithMetrics records stage timings to m instead of the default metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(store storage.Store, t Transcriber, d Deliverer, endpoint EndpointFunc, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		transcriber:  t,
		deliverer:    d,
		endpoint:     endpoint,
		now:          time.Now,
		placeholders: DefaultPlaceholders(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// SetPlaceholders replaces the placeholder strings for subsequent runs.
func (o *Orchestrator) SetPlaceholders(p Placeholders) {
	o.mu.Lock()
	o.placeholders = p.WithDefaults()
	o.mu.Unlock()
}

func (o *Orchestrator) currentPlaceholders() Placeholders {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.placeholders
}

// Run drives buf through the pipeline and returns the final report.
//
// An empty buffer yields a report with Empty set, without touching storage
// or the network. Transcription and delivery failures are recorded in the
// report and never returned as errors. A non-nil error means the run stopped
// early; the returned report then describes how far it got.
func (o *Orchestrator) Run(ctx context.Context, buf audio.Buffer) (Report, error) {
	started := o.now()
	stamp := storage.NewStamp(started)

	ctx, span := observe.StartSpan(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("report.id", stamp.String())),
	)
	defer span.End()
	log := observe.Logger(ctx).With("report", stamp.String())

	r := Report{
		ID:         stamp.String(),
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		Samples:    buf.Len(),
		Overflows:  buf.Overflows,
		StartedAt:  started,
	}
	if !buf.Empty() {
		r.AudioDuration = buf.Duration()
	}

	fail := func(err error) (Report, error) {
		r.Fatal = err.Error()
		r.FinishedAt = o.now()
		observe.SpanError(span, err)
		o.metrics.RecordRecording(ctx, r.Status(), r.AudioDuration.Seconds())
		log.Error("pipeline failed", "err", err)
		return r, err
	}

	if buf.DeviceError {
		r.Errors = append(r.Errors, ErrCaptureTruncated.Error())
		log.Warn("capture device failed mid-recording, audio is truncated")
	}

	if buf.Empty() {
		r.Empty = true
		r.FinishedAt = o.now()
		span.SetAttributes(attribute.Bool("report.empty", true))
		o.metrics.RecordRecording(ctx, r.Status(), 0)
		log.Info("nothing recorded, skipping pipeline")
		return r, nil
	}

	endpoint := strings.TrimSpace(o.endpoint())
	if endpoint == "" {
		return fail(ErrNoEndpoint)
	}
	r.Endpoint = endpoint

	// 1. Encode.
	t0 := o.now()
	data, err := wav.Encode(buf)
	o.metrics.RecordStage(ctx, observe.StageEncode, o.now().Sub(t0).Seconds())
	if err != nil {
		return fail(fmt.Errorf("pipeline: encode: %w", err))
	}

	// 2. Persist audio. The transcription collaborator reads this file.
	t0 = o.now()
	r.AudioPath, err = o.store.SaveRecording(ctx, stamp, data)
	o.metrics.RecordStage(ctx, observe.StagePersist, o.now().Sub(t0).Seconds())
	if err != nil {
		return fail(fmt.Errorf("pipeline: %w", err))
	}
	log.Info("recording saved", "path", r.AudioPath, "bytes", len(data), "duration", r.AudioDuration)

	// 3. Transcribe.
	t0 = o.now()
	r.Transcript = o.transcriber.Transcribe(ctx, r.AudioPath)
	o.metrics.RecordStage(ctx, observe.StageTranscribe, o.now().Sub(t0).Seconds())
	r.Text = o.currentPlaceholders().Render(r.Transcript)

	// 4. Persist transcript, whatever the outcome.
	r.TranscriptPath, err = o.store.SaveTranscript(ctx, stamp, r.Text)
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
		log.Warn("transcript not saved", "err", err)
	}

	// 5. Deliver, whatever the outcome.
	t0 = o.now()
	r.Delivery = o.deliverer.Deliver(ctx, endpoint, r.Text)
	o.metrics.RecordStage(ctx, observe.StageDeliver, o.now().Sub(t0).Seconds())

	r.FinishedAt = o.now()
	o.metrics.RecordStage(ctx, observe.StagePipeline, r.FinishedAt.Sub(started).Seconds())
	o.metrics.RecordRecording(ctx, r.Status(), r.AudioDuration.Seconds())

	// 6. Journal.
	if o.journal != nil {
		if err := o.journal.Append(ctx, r); err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("journal: %v", err))
			log.Warn("report not journaled", "err", err)
		}
	}

	span.SetAttributes(
		attribute.String("transcript.outcome", r.Transcript.Kind.String()),
		attribute.String("delivery.outcome", r.Delivery.Kind.String()),
	)
	log.Info("pipeline finished",
		"transcript", r.Transcript.Kind.String(),
		"delivery", r.Delivery.Kind.String(),
		"elapsed", r.FinishedAt.Sub(started),
	)
	return r, nil
}

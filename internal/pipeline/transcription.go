package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scribehook/internal/observe"
	"github.com/MrWong99/scribehook/internal/resilience"
	"github.com/MrWong99/scribehook/pkg/provider/stt"
)

// Transcriber classifies the transcription of one audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) TranscriptOutcome
}

// TranscriptionClient wraps an [stt.Provider] with a timeout, an optional
// circuit breaker and outcome classification. It makes exactly one provider
// call per invocation.
type TranscriptionClient struct {
	provider stt.Provider
	name     string
	timeout  time.Duration
	breaker  *resilience.Breaker
	metrics  *observe.Metrics

	mu       sync.RWMutex
	language string
}

// TranscriptionOption configures a [TranscriptionClient].
type TranscriptionOption func(*TranscriptionClient)

// WithProviderName sets the label used in logs and metrics.
func WithProviderName(name string) TranscriptionOption {
	return func(c *TranscriptionClient) { c.name = name }
}

// WithLanguage sets the recognition language hint. Default: "tr-TR".
func WithLanguage(lang string) TranscriptionOption {
	return func(c *TranscriptionClient) { c.language = lang }
}

// WithTranscriptionTimeout bounds each provider call. Default: 60s.
func WithTranscriptionTimeout(d time.Duration) TranscriptionOption {
	return func(c *TranscriptionClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreaker guards provider calls with b. While b is open the provider is
// not called and the outcome is [TranscriptUnavailable].
func WithBreaker(b *resilience.Breaker) TranscriptionOption {
	return func(c *TranscriptionClient) { c.breaker = b }
}

// WithTranscriptionMetrics records outcomes to m instead of the default
// metrics.
func WithTranscriptionMetrics(m *observe.Metrics) TranscriptionOption {
	return func(c *TranscriptionClient) { c.metrics = m }
}

// NewTranscriptionClient returns a client calling p.
func NewTranscriptionClient(p stt.Provider, opts ...TranscriptionOption) *TranscriptionClient {
	c := &TranscriptionClient{
		provider: p,
		name:     "stt",
		timeout:  60 * time.Second,
		language: "tr-TR",
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// SetLanguage changes the language hint for subsequent calls.
func (c *TranscriptionClient) SetLanguage(lang string) {
	c.mu.Lock()
	c.language = lang
	c.mu.Unlock()
}

// Language returns the current language hint.
func (c *TranscriptionClient) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.language
}

// Transcribe implements [Transcriber].
func (c *TranscriptionClient) Transcribe(ctx context.Context, audioPath string) TranscriptOutcome {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe",
		trace.WithAttributes(
			attribute.String("stt.provider", c.name),
			attribute.String("audio.path", audioPath),
		),
	)
	defer span.End()

	req := stt.Request{AudioPath: audioPath, Language: c.Language()}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var res stt.Result
	call := func() error {
		var err error
		res, err = c.provider.Transcribe(callCtx, req)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}

	out := Classify(res, err)
	span.SetAttributes(attribute.String("stt.outcome", out.Kind.String()))
	observe.SpanError(span, err)
	c.metrics.RecordTranscript(ctx, c.name, out.Kind.String())

	log := observe.Logger(ctx).With("provider", c.name, "outcome", out.Kind.String())
	switch out.Kind {
	case TranscriptText:
		log.Info("transcription finished", "chars", len(out.Text), "confidence", out.Confidence)
	case TranscriptInaudible:
		log.Info("transcription found no speech")
	default:
		log.Warn("transcription failed", "err", err)
	}
	return out
}

// Classify maps a provider result to a [TranscriptOutcome].
func Classify(res stt.Result, err error) TranscriptOutcome {
	if err == nil {
		text := strings.TrimSpace(res.Text)
		if text == "" {
			return TranscriptOutcome{Kind: TranscriptInaudible}
		}
		return TranscriptOutcome{Kind: TranscriptText, Text: text, Confidence: res.Confidence}
	}
	if errors.Is(err, stt.ErrNoSpeech) {
		return TranscriptOutcome{Kind: TranscriptInaudible}
	}
	if IsUnavailable(err) {
		return TranscriptOutcome{Kind: TranscriptUnavailable, Message: err.Error()}
	}
	return TranscriptOutcome{Kind: TranscriptError, Message: err.Error()}
}

// IsUnavailable reports whether err means the transcription service could
// not be reached. It is also the failure predicate for the breaker.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, stt.ErrUnavailable) ||
		errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// NewTranscriptionBreaker returns a breaker that only counts unavailability
// and reports transitions to the log and m.
func NewTranscriptionBreaker(name string, maxFailures int, resetTimeout time.Duration, m *observe.Metrics) *resilience.Breaker {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return resilience.NewBreaker(resilience.BreakerConfig{
		Name:         name,
		MaxFailures:  maxFailures,
		ResetTimeout: resetTimeout,
		IsFailure:    IsUnavailable,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			m.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})
}

var _ Transcriber = (*TranscriptionClient)(nil)

package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scribehook/internal/pipeline"
	"github.com/MrWong99/scribehook/internal/resilience"
	"github.com/MrWong99/scribehook/pkg/provider/delivery"
	delivermock "github.com/MrWong99/scribehook/pkg/provider/delivery/mock"
	"github.com/MrWong99/scribehook/pkg/provider/stt"
	sttmock "github.com/MrWong99/scribehook/pkg/provider/stt/mock"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  stt.Result
		err  error
		want pipeline.TranscriptKind
	}{
		{"text", stt.Result{Text: "ok"}, nil, pipeline.TranscriptText},
		{"blank text", stt.Result{Text: " \n"}, nil, pipeline.TranscriptInaudible},
		{"no speech", stt.Result{}, fmt.Errorf("whisper: %w", stt.ErrNoSpeech), pipeline.TranscriptInaudible},
		{"unavailable", stt.Result{}, fmt.Errorf("x: %w", stt.ErrUnavailable), pipeline.TranscriptUnavailable},
		{"net error", stt.Result{}, &net.OpError{Op: "dial", Err: errors.New("refused")}, pipeline.TranscriptUnavailable},
		{"deadline", stt.Result{}, context.DeadlineExceeded, pipeline.TranscriptUnavailable},
		{"breaker open", stt.Result{}, resilience.ErrCircuitOpen, pipeline.TranscriptUnavailable},
		{"other", stt.Result{}, errors.New("bad audio"), pipeline.TranscriptError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pipeline.Classify(tt.res, tt.err); got.Kind != tt.want {
				t.Errorf("Classify = %v, want %v", got.Kind, tt.want)
			}
		})
	}
}

func TestClassify_ErrorCarriesMessage(t *testing.T) {
	t.Parallel()

	out := pipeline.Classify(stt.Result{}, errors.New("unsupported codec"))
	if out.Message != "unsupported codec" {
		t.Errorf("message = %q", out.Message)
	}
	if got := out.String(); got != "[transcription error: unsupported codec]" {
		t.Errorf("String() = %q", got)
	}
}

func TestTranscriptionClient_Timeout(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{TranscribeFunc: func(ctx context.Context, _ stt.Request) (stt.Result, error) {
		<-ctx.Done()
		return stt.Result{}, ctx.Err()
	}}
	c := pipeline.NewTranscriptionClient(p, pipeline.WithTranscriptionTimeout(20*time.Millisecond))

	if out := c.Transcribe(context.Background(), "clip.wav"); out.Kind != pipeline.TranscriptUnavailable {
		t.Errorf("kind = %v, want unavailable", out.Kind)
	}
}

func TestTranscriptionClient_BreakerOpensOnUnavailability(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Err: stt.ErrUnavailable}
	b := pipeline.NewTranscriptionBreaker("stt", 2, time.Hour, nil)
	c := pipeline.NewTranscriptionClient(p, pipeline.WithBreaker(b))

	for range 3 {
		if out := c.Transcribe(context.Background(), "clip.wav"); out.Kind != pipeline.TranscriptUnavailable {
			t.Errorf("kind = %v, want unavailable", out.Kind)
		}
	}
	if p.CallCount() != 2 {
		t.Errorf("provider called %d times, want 2 (third rejected by open breaker)", p.CallCount())
	}
	if b.State() != resilience.StateOpen {
		t.Errorf("breaker state = %v, want open", b.State())
	}
}

func TestTranscriptionClient_NoSpeechDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Err: stt.ErrNoSpeech}
	b := pipeline.NewTranscriptionBreaker("stt", 1, time.Hour, nil)
	c := pipeline.NewTranscriptionClient(p, pipeline.WithBreaker(b))

	for range 3 {
		c.Transcribe(context.Background(), "clip.wav")
	}
	if p.CallCount() != 3 || b.State() != resilience.StateClosed {
		t.Errorf("calls = %d, state = %v", p.CallCount(), b.State())
	}
}

func TestTranscriptionClient_SetLanguage(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Result: stt.Result{Text: "hi"}}
	c := pipeline.NewTranscriptionClient(p, pipeline.WithLanguage("en-US"))
	c.Transcribe(context.Background(), "a.wav")
	c.SetLanguage("de-DE")
	c.Transcribe(context.Background(), "b.wav")

	if p.Requests[0].Language != "en-US" || p.Requests[1].Language != "de-DE" {
		t.Errorf("requests = %+v", p.Requests)
	}
}

func TestClassifyDelivery(t *testing.T) {
	t.Parallel()

	if got := pipeline.ClassifyDelivery(nil); got.Kind != pipeline.DeliveryDelivered {
		t.Errorf("nil: %v", got)
	}
	rej := fmt.Errorf("webhook: %w", &delivery.RejectedError{StatusCode: 404, Body: "nope"})
	if got := pipeline.ClassifyDelivery(rej); got.Kind != pipeline.DeliveryRejected || got.StatusCode != 404 || got.Body != "nope" {
		t.Errorf("rejected: %+v", got)
	}
	if got := pipeline.ClassifyDelivery(errors.New("timeout")); got.Kind != pipeline.DeliveryTransportError || got.Message != "timeout" {
		t.Errorf("transport: %+v", got)
	}
}

func TestDeliveryClient_EmptyEndpoint(t *testing.T) {
	t.Parallel()

	p := &delivermock.Provider{}
	out := pipeline.NewDeliveryClient(p).Deliver(context.Background(), "", "text")
	if out.Kind != pipeline.DeliveryTransportError {
		t.Errorf("kind = %v, want transport_error", out.Kind)
	}
	if p.CallCount() != 0 {
		t.Error("provider called without endpoint")
	}
}

func TestKinds_TextRoundTrip(t *testing.T) {
	t.Parallel()

	for k := pipeline.TranscriptNone; k <= pipeline.TranscriptError; k++ {
		b, _ := k.MarshalText()
		var got pipeline.TranscriptKind
		if err := got.UnmarshalText(b); err != nil || got != k {
			t.Errorf("transcript kind %v: got %v, %v", k, got, err)
		}
	}
	var dk pipeline.DeliveryKind
	if err := dk.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown delivery kind")
	}
}

func TestReport_Summary(t *testing.T) {
	t.Parallel()

	r := pipeline.Report{
		ID:         "20260101_000000_abcd1234",
		AudioPath:  "recordings/a.wav",
		Text:       "[inaudible]",
		Transcript: pipeline.TranscriptOutcome{Kind: pipeline.TranscriptInaudible},
		Delivery:   pipeline.DeliveryOutcome{Kind: pipeline.DeliveryRejected, StatusCode: 500, Body: "boom"},
		Endpoint:   "http://x",
		SampleRate: 44100,
		Channels:   1,
		Overflows:  2,
	}
	s := r.Summary()
	for _, want := range []string{"complete", "inaudible", "rejected (500): boom", "2 overflowed frames"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}

// Package pipeline turns a finished recording into a delivered transcript.
//
// The [Orchestrator] runs the stages strictly in sequence: encode, persist
// audio, transcribe, persist transcript, deliver. Transcription and delivery
// failures never abort the chain; they are classified into a
// [TranscriptOutcome] and a [DeliveryOutcome] and recorded in the [Report].
// Only conditions that leave nothing to work with (malformed audio, audio
// that cannot be saved, no endpoint) are returned as errors.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoEndpoint is returned by [Orchestrator.Run] when no delivery endpoint
// is configured.
var ErrNoEndpoint = errors.New("pipeline: no delivery endpoint configured")

// ErrCaptureTruncated is recorded in [Report.Errors] when the capture device
// failed before the recording was stopped.
var ErrCaptureTruncated = errors.New("capture: device failed before stop, audio is truncated")

// ─── Transcript outcome ──────────────────────────────────────────────────────

// TranscriptKind tags a [TranscriptOutcome].
type TranscriptKind int

const (
	// TranscriptNone means transcription did not run (empty recording or a
	// fatal error before the stage).
	TranscriptNone TranscriptKind = iota
	// TranscriptText carries recognised text.
	TranscriptText
	// TranscriptInaudible means the service heard no recognisable speech.
	TranscriptInaudible
	// TranscriptUnavailable means the service could not be reached.
	TranscriptUnavailable
	// TranscriptError covers every other failure.
	TranscriptError
)

var transcriptKindNames = [...]string{"none", "text", "inaudible", "unavailable", "error"}

// String returns the lower-case name of the kind.
func (k TranscriptKind) String() string {
	if k < 0 || int(k) >= len(transcriptKindNames) {
		return fmt.Sprintf("TranscriptKind(%d)", int(k))
	}
	return transcriptKindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k TranscriptKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *TranscriptKind) UnmarshalText(b []byte) error {
	for i, n := range transcriptKindNames {
		if n == string(b) {
			*k = TranscriptKind(i)
			return nil
		}
	}
	return fmt.Errorf("pipeline: unknown transcript kind %q", b)
}

// TranscriptOutcome is the classified result of one transcription call.
type TranscriptOutcome struct {
	Kind TranscriptKind `json:"kind"`
	// Text is set for TranscriptText.
	Text string `json:"text,omitempty"`
	// Confidence is the provider's score for TranscriptText, if reported.
	Confidence float64 `json:"confidence,omitempty"`
	// Message describes the failure for TranscriptError and
	// TranscriptUnavailable.
	Message string `json:"message,omitempty"`
}

// String returns the outcome rendered with [DefaultPlaceholders].
func (o TranscriptOutcome) String() string {
	return DefaultPlaceholders().Render(o)
}

// Placeholders are the stable strings persisted and delivered in place of a
// transcript when recognition did not produce text.
type Placeholders struct {
	Inaudible   string `json:"inaudible"`
	Unavailable string `json:"unavailable"`
	// Error may contain one %s verb, replaced by the failure message.
	Error string `json:"error"`
}

// DefaultPlaceholders returns the built-in placeholder strings.
func DefaultPlaceholders() Placeholders {
	return Placeholders{
		Inaudible:   "[inaudible]",
		Unavailable: "[transcription service unavailable]",
		Error:       "[transcription error: %s]",
	}
}

// WithDefaults returns p with empty fields taken from [DefaultPlaceholders].
func (p Placeholders) WithDefaults() Placeholders {
	d := DefaultPlaceholders()
	if p.Inaudible == "" {
		p.Inaudible = d.Inaudible
	}
	if p.Unavailable == "" {
		p.Unavailable = d.Unavailable
	}
	if p.Error == "" {
		p.Error = d.Error
	}
	return p
}

// Render returns the string that represents o in the transcript file and in
// the delivered payload.
func (p Placeholders) Render(o TranscriptOutcome) string {
	p = p.WithDefaults()
	switch o.Kind {
	case TranscriptText:
		return o.Text
	case TranscriptInaudible:
		return p.Inaudible
	case TranscriptUnavailable:
		return p.Unavailable
	case TranscriptError:
		if strings.Contains(p.Error, "%s") {
			return strings.Replace(p.Error, "%s", o.Message, 1)
		}
		return p.Error
	default:
		return ""
	}
}

// ─── Delivery outcome ────────────────────────────────────────────────────────

// DeliveryKind tags a [DeliveryOutcome].
type DeliveryKind int

const (
	// DeliveryNone means delivery was not attempted.
	DeliveryNone DeliveryKind = iota
	// DeliveryDelivered means the remote accepted the payload (2xx).
	DeliveryDelivered
	// DeliveryRejected means the remote answered with a non-success status.
	DeliveryRejected
	// DeliveryTransportError means the payload never reached the remote.
	DeliveryTransportError
)

var deliveryKindNames = [...]string{"none", "delivered", "rejected", "transport_error"}

// String returns the lower-case name of the kind.
func (k DeliveryKind) String() string {
	if k < 0 || int(k) >= len(deliveryKindNames) {
		return fmt.Sprintf("DeliveryKind(%d)", int(k))
	}
	return deliveryKindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k DeliveryKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *DeliveryKind) UnmarshalText(b []byte) error {
	for i, n := range deliveryKindNames {
		if n == string(b) {
			*k = DeliveryKind(i)
			return nil
		}
	}
	return fmt.Errorf("pipeline: unknown delivery kind %q", b)
}

// DeliveryOutcome is the classified result of one delivery attempt.
type DeliveryOutcome struct {
	Kind DeliveryKind `json:"kind"`
	// StatusCode and Body are set for DeliveryRejected.
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	// Message describes a DeliveryTransportError.
	Message string `json:"message,omitempty"`
}

// String returns a short human-readable description.
func (o DeliveryOutcome) String() string {
	switch o.Kind {
	case DeliveryRejected:
		if o.Body == "" {
			return fmt.Sprintf("rejected (%d)", o.StatusCode)
		}
		return fmt.Sprintf("rejected (%d): %s", o.StatusCode, o.Body)
	case DeliveryTransportError:
		return "transport error: " + o.Message
	default:
		return o.Kind.String()
	}
}

// ─── Report ──────────────────────────────────────────────────────────────────

// Report is the terminal artifact of one pipeline run. It is never modified
// after [Orchestrator.Run] returns it.
type Report struct {
	ID    string `json:"id"`
	Empty bool   `json:"empty"`

	AudioPath      string `json:"audio_path,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`

	// Text is the string that was persisted and delivered: the recognised
	// text or the placeholder for a non-text outcome.
	Text       string            `json:"text"`
	Transcript TranscriptOutcome `json:"transcript"`
	Endpoint   string            `json:"endpoint,omitempty"`
	Delivery   DeliveryOutcome   `json:"delivery"`

	SampleRate    int           `json:"sample_rate"`
	Channels      int           `json:"channels"`
	Samples       int           `json:"samples"`
	AudioDuration time.Duration `json:"audio_duration"`
	Overflows     int           `json:"overflows"`

	// Errors lists non-fatal problems such as a transcript that could not
	// be written.
	Errors []string `json:"errors,omitempty"`
	// Fatal is set when the run stopped early with an error.
	Fatal string `json:"fatal,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Status returns "empty", "failed" or "complete".
func (r Report) Status() string {
	switch {
	case r.Fatal != "":
		return "failed"
	case r.Empty:
		return "empty"
	default:
		return "complete"
	}
}

// Summary renders the report as a multi-line block for terminal output.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "report %s: %s\n", r.ID, r.Status())
	if r.Empty {
		b.WriteString("  nothing was recorded\n")
		return b.String()
	}
	if r.AudioPath != "" {
		fmt.Fprintf(&b, "  audio:      %s (%s, %d Hz, %d ch", r.AudioPath, r.AudioDuration.Round(time.Millisecond), r.SampleRate, r.Channels)
		if r.Overflows > 0 {
			fmt.Fprintf(&b, ", %d overflowed frames", r.Overflows)
		}
		b.WriteString(")\n")
	}
	if r.Transcript.Kind != TranscriptNone {
		fmt.Fprintf(&b, "  transcript: %s %q\n", r.Transcript.Kind, r.Text)
		if r.Transcript.Message != "" {
			fmt.Fprintf(&b, "              %s\n", r.Transcript.Message)
		}
	}
	if r.TranscriptPath != "" {
		fmt.Fprintf(&b, "  saved to:   %s\n", r.TranscriptPath)
	}
	if r.Delivery.Kind != DeliveryNone {
		fmt.Fprintf(&b, "  delivery:   %s -> %s\n", r.Delivery, r.Endpoint)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  warning:    %s\n", e)
	}
	if r.Fatal != "" {
		fmt.Fprintf(&b, "  error:      %s\n", r.Fatal)
	}
	return b.String()
}

// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (a local whisper.cpp server,
// OpenAI, Deepgram or Google Speech-to-Text) and exposes a uniform batch
// interface: one recorded WAV file in, one [Result] out. Providers make a
// single attempt per call and classify failures into the sentinel errors
// below so that callers can tell "no speech" apart from "service down".
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrNoSpeech is returned when the service processed the audio but did not
// recognise any speech in it.
var ErrNoSpeech = errors.New("stt: no speech recognised")

// ErrUnavailable is returned when the service could not be reached or
// reported itself overloaded or down (connection failure, HTTP 5xx/429,
// gRPC Unavailable).
var ErrUnavailable = errors.New("stt: service unavailable")

// Request describes one transcription call.
type Request struct {
	// AudioPath is the path of a 16-bit PCM WAV file.
	AudioPath string

	// Language is the BCP-47 tag for recognition (e.g. "tr-TR", "en-US"). An
	// empty string lets the provider use its configured default or
	// auto-detect.
	Language string
}

// Result is a recognised transcript.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report one.
	Confidence float64
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises the speech in req.AudioPath. It returns an error
	// wrapping [ErrNoSpeech] or [ErrUnavailable] where those conditions can
	// be identified, or any other error for remaining failures.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// PrimaryLanguage returns the primary subtag of a BCP-47 tag ("tr-TR" → "tr")
// for services that only accept ISO-639-1 codes.
func PrimaryLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}

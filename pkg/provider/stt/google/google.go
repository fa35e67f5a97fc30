// Package google provides an STT provider backed by Google Cloud
// Speech-to-Text (v1 Recognize). Audio is sent inline as LINEAR16, which
// limits a single request to about one minute of audio.
package google

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MrWong99/scribehook/pkg/audio/wav"
	"github.com/MrWong99/scribehook/pkg/provider/stt"
)

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the Google Cloud Speech API.
type Provider struct {
	client   *speech.Client
	model    string
	language string
}

// config holds optional configuration for the provider.
type config struct {
	clientOpts []option.ClientOption
	model      string
	language   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithAPIKey authenticates with an API key.
func WithAPIKey(key string) Option {
	return func(c *config) {
		if key != "" {
			c.clientOpts = append(c.clientOpts, option.WithAPIKey(key))
		}
	}
}

// WithCredentialsFile authenticates with a service-account JSON file.
func WithCredentialsFile(path string) Option {
	return func(c *config) {
		if path != "" {
			c.clientOpts = append(c.clientOpts, option.WithCredentialsFile(path))
		}
	}
}

// WithModel selects a recognition model (e.g. "latest_long").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage sets the fallback language used when a request carries none.
// Default: "en-US".
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithClientOptions appends raw client options (endpoint, dial options).
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *config) {
		c.clientOpts = append(c.clientOpts, opts...)
	}
}

// New dials the Speech API. Without explicit credentials the client falls
// back to Application Default Credentials.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	cfg := &config{language: "en-US"}
	for _, o := range opts {
		o(cfg)
	}
	client, err := speech.NewClient(ctx, cfg.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google stt: new client: %w", err)
	}
	// The generated client retries Unavailable on Recognize; one attempt only.
	client.CallOptions.Recognize = nil
	return &Provider{client: client, model: cfg.model, language: cfg.language}, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	buf, err := wav.ReadFile(req.AudioPath)
	if err != nil {
		return stt.Result{}, fmt.Errorf("google stt: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	content := make([]byte, 0, len(buf.Samples)*2)
	for _, s := range buf.Samples {
		content = binary.LittleEndian.AppendUint16(content, uint16(s))
	}

	resp, err := p.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(buf.SampleRate),
			AudioChannelCount:          int32(buf.Channels),
			LanguageCode:               lang,
			Model:                      p.model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: content},
		},
	})
	if err != nil {
		return stt.Result{}, classify(err)
	}

	var (
		parts []string
		conf  float64
	)
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		parts = append(parts, text)
		conf += float64(alts[0].GetConfidence())
	}
	if len(parts) == 0 {
		return stt.Result{}, stt.ErrNoSpeech
	}
	return stt.Result{
		Text:       strings.Join(parts, " "),
		Confidence: conf / float64(len(parts)),
	}, nil
}

// classify maps gRPC status codes onto the stt sentinel errors.
func classify(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("google stt: %w: %w", stt.ErrUnavailable, err)
	case codes.Canceled:
		return fmt.Errorf("google stt: %w", context.Canceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("google stt: %w: %w", stt.ErrUnavailable, err)
	}
	return fmt.Errorf("google stt: recognize: %w", err)
}

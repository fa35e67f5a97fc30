// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// The recorded file is decoded and its PCM streamed as linear16 binary
// messages, followed by a CloseStream control message. Final results are
// collected until Deepgram closes the socket.
package deepgram

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/scribehook/pkg/audio/wav"
	"github.com/MrWong99/scribehook/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "multi"

	// chunkSamples is the number of int16 samples sent per binary message.
	chunkSamples = 4096
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the fallback language used when a request carries none.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint (ws:// or wss://).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	buf, err := wav.ReadFile(req.AudioPath)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: %w", err)
	}

	wsURL, err := p.buildURL(req.Language, buf.SampleRate, buf.Channels)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return stt.Result{}, fmt.Errorf("deepgram: dial: HTTP %d: %w", resp.StatusCode, err)
		}
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w: %w", stt.ErrUnavailable, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- sendPCM(ctx, conn, buf.Samples)
	}()

	var (
		parts []string
		conf  float64
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return stt.Result{}, fmt.Errorf("deepgram: %w", ctx.Err())
			}
			return stt.Result{}, fmt.Errorf("deepgram: %w: read: %w", stt.ErrUnavailable, err)
		}
		r, ok := parseDeepgramResponse(msg)
		if !ok || !r.isFinal || strings.TrimSpace(r.text) == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(r.text))
		conf += r.confidence
	}

	if err := <-writeErr; err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: send audio: %w", err)
	}
	if len(parts) == 0 {
		return stt.Result{}, stt.ErrNoSpeech
	}
	conn.Close(websocket.StatusNormalClosure, "transcription complete")

	return stt.Result{
		Text:       strings.Join(parts, " "),
		Confidence: conf / float64(len(parts)),
	}, nil
}

// sendPCM streams samples as little-endian linear16 chunks and then asks the
// server to flush and close.
func sendPCM(ctx context.Context, conn *websocket.Conn, samples []int16) error {
	chunk := make([]byte, 0, chunkSamples*2)
	for start := 0; start < len(samples); start += chunkSamples {
		end := min(start+chunkSamples, len(samples))
		chunk = chunk[:0]
		for _, s := range samples[start:end] {
			chunk = binary.LittleEndian.AppendUint16(chunk, uint16(s))
		}
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return err
		}
	}
	return conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
}

// buildURL constructs the Deepgram streaming endpoint URL for one request.
func (p *Provider) buildURL(language string, sampleRate, channels int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", strconv.Itoa(channels))

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- responses ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text       string
	confidence float64
	isFinal    bool
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// false for messages that carry no transcript (metadata, malformed JSON).
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" {
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	return result{
		text:       alt.Transcript,
		confidence: alt.Confidence,
		isFinal:    resp.IsFinal,
	}, true
}

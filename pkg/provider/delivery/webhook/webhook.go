// Package webhook delivers transcripts as an HTTP POST of
// {"transcript": "..."} to a webhook URL.
package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/MrWong99/scribehook/pkg/provider/delivery"
)

// maxBody caps how much of a rejected response body is kept.
const maxBody = 2048

// Ensure Provider implements the delivery.Provider interface.
var _ delivery.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request timeout. Default: 15s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.SetTimeout(d)
		}
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		p.client.SetHeader(key, value)
	}
}

// WithBearerToken sets an Authorization: Bearer header.
func WithBearerToken(token string) Option {
	return func(p *Provider) {
		if token != "" {
			p.client.SetAuthToken(token)
		}
	}
}

// Provider posts transcripts to webhooks.
type Provider struct {
	client *resty.Client
}

// New returns a webhook provider with retries disabled.
func New(opts ...Option) *Provider {
	c := resty.New().
		SetTimeout(15*time.Second).
		SetRetryCount(0).
		SetHeader("User-Agent", "scribehook")
	p := &Provider{client: c}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Deliver implements delivery.Provider.
func (p *Provider) Deliver(ctx context.Context, endpoint, text string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(delivery.Payload{Transcript: text}).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("webhook: post %s: %w", endpoint, err)
	}
	if !resp.IsSuccess() {
		return &delivery.RejectedError{
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(string(truncate(resp.Body(), maxBody))),
		}
	}
	return nil
}

// truncate cuts b to at most n bytes without splitting a UTF-8 sequence.
func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	cut := n
	for cut > 0 && cut > n-utf8.UTFMax && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return b[:cut]
}

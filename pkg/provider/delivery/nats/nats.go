// Package nats delivers transcripts by publishing the JSON payload to a NATS
// subject. The delivery endpoint is the subject name.
//
// By default messages go through JetStream so that a publish is only
// reported as delivered once a stream has stored it. Core NATS publishing is
// available for fire-and-forget setups.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/scribehook/pkg/provider/delivery"
)

// Ensure Provider implements the delivery.Provider interface.
var _ delivery.Provider = (*Provider)(nil)

// Config configures the connection.
type Config struct {
	// URL is one or more comma-separated server URLs.
	URL string

	// Name identifies this client to the server. Default: "scribehook".
	Name string

	Username string
	Password string
	Token    string

	// ConnectTimeout bounds the initial dial. Default: 5s.
	ConnectTimeout time.Duration

	// CoreOnly publishes with core NATS plus a flush instead of JetStream.
	CoreOnly bool
}

// Provider publishes transcripts to NATS subjects.
type Provider struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	coreOnly bool
}

// Connect dials the server and prepares a JetStream context.
func Connect(cfg Config) (*Provider, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats: URL must not be empty")
	}
	if cfg.Name == "" {
		cfg.Name = "scribehook"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	options := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	p := &Provider{conn: conn, coreOnly: cfg.CoreOnly}
	if !cfg.CoreOnly {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("nats: jetstream context: %w", err)
		}
		p.js = js
	}

	slog.Info("nats: connected", "url", cfg.URL, "jetstream", !cfg.CoreOnly)
	return p, nil
}

// Deliver implements delivery.Provider. endpoint is the subject.
func (p *Provider) Deliver(ctx context.Context, endpoint, text string) error {
	data, err := json.Marshal(delivery.Payload{Transcript: text})
	if err != nil {
		return fmt.Errorf("nats: marshal payload: %w", err)
	}

	if p.coreOnly {
		if err := p.conn.Publish(endpoint, data); err != nil {
			return fmt.Errorf("nats: publish %s: %w", endpoint, err)
		}
		if err := p.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("nats: flush: %w", err)
		}
		return nil
	}

	_, err = p.js.Publish(endpoint, data, nats.Context(ctx), nats.RetryAttempts(0))
	if err == nil {
		return nil
	}
	var apiErr *nats.APIError
	switch {
	case errors.As(err, &apiErr):
		return &delivery.RejectedError{StatusCode: apiErr.Code, Body: apiErr.Description}
	case errors.Is(err, nats.ErrNoStreamResponse), errors.Is(err, nats.ErrNoResponders):
		return &delivery.RejectedError{StatusCode: http.StatusServiceUnavailable, Body: "no stream bound to subject " + endpoint}
	}
	return fmt.Errorf("nats: publish %s: %w", endpoint, err)
}

// Healthy reports whether the connection is up.
func (p *Provider) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close drains pending messages and closes the connection.
func (p *Provider) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	p.conn.Close()
	return err
}

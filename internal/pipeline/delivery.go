package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scribehook/internal/observe"
	"github.com/MrWong99/scribehook/pkg/provider/delivery"
)

// Deliverer classifies the delivery of transcript text to an endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint, text string) DeliveryOutcome
}

// DeliveryClient wraps a [delivery.Provider] with a timeout and outcome
// classification. It makes exactly one attempt per call.
type DeliveryClient struct {
	provider delivery.Provider
	name     string
	timeout  time.Duration
	metrics  *observe.Metrics
}

// DeliveryOption configures a [DeliveryClient].
type DeliveryOption func(*DeliveryClient)

// WithDeliveryName sets the label used in logs and metrics.
func WithDeliveryName(name string) DeliveryOption {
	return func(c *DeliveryClient) { c.name = name }
}

// WithDeliveryTimeout bounds each attempt. Default: 15s.
func WithDeliveryTimeout(d time.Duration) DeliveryOption {
	return func(c *DeliveryClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDeliveryMetrics records outcomes to m instead of the default metrics.
func WithDeliveryMetrics(m *observe.Metrics) DeliveryOption {
	return func(c *DeliveryClient) { c.metrics = m }
}

// NewDeliveryClient returns a client calling p.
func NewDeliveryClient(p delivery.Provider, opts ...DeliveryOption) *DeliveryClient {
	c := &DeliveryClient{provider: p, name: "delivery", timeout: 15 * time.Second}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Deliver implements [Deliverer].
func (c *DeliveryClient) Deliver(ctx context.Context, endpoint, text string) DeliveryOutcome {
	ctx, span := observe.StartSpan(ctx, "pipeline.deliver",
		trace.WithAttributes(attribute.String("delivery.provider", c.name)),
	)
	defer span.End()

	var out DeliveryOutcome
	if strings.TrimSpace(endpoint) == "" {
		out = DeliveryOutcome{Kind: DeliveryTransportError, Message: "no endpoint configured"}
	} else {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.provider.Deliver(callCtx, endpoint, text)
		cancel()
		observe.SpanError(span, err)
		out = ClassifyDelivery(err)
	}

	span.SetAttributes(attribute.String("delivery.outcome", out.Kind.String()))
	c.metrics.RecordDelivery(ctx, c.name, out.Kind.String())

	log := observe.Logger(ctx).With("provider", c.name, "endpoint", endpoint)
	switch out.Kind {
	case DeliveryDelivered:
		log.Info("transcript delivered")
	case DeliveryRejected:
		log.Warn("transcript rejected by remote", "status", out.StatusCode, "body", out.Body)
	default:
		log.Warn("transcript delivery failed", "err", out.Message)
	}
	return out
}

// ClassifyDelivery maps a provider error to a [DeliveryOutcome].
func ClassifyDelivery(err error) DeliveryOutcome {
	if err == nil {
		return DeliveryOutcome{Kind: DeliveryDelivered}
	}
	var rej *delivery.RejectedError
	if errors.As(err, &rej) {
		return DeliveryOutcome{Kind: DeliveryRejected, StatusCode: rej.StatusCode, Body: rej.Body}
	}
	return DeliveryOutcome{Kind: DeliveryTransportError, Message: err.Error()}
}

var _ Deliverer = (*DeliveryClient)(nil)

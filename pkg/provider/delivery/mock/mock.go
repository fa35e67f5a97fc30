// Package mock provides a test double for the delivery package interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribehook/pkg/provider/delivery"
)

// DeliverCall records a single invocation of Provider.Deliver.
type DeliverCall struct {
	Endpoint string
	Text     string
}

// Provider is a mock implementation of delivery.Provider.
type Provider struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from Deliver.
	Err error

	// Calls records every call to Deliver.
	Calls []DeliverCall
}

// Deliver records the call and returns Err.
func (p *Provider) Deliver(_ context.Context, endpoint, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, DeliverCall{Endpoint: endpoint, Text: text})
	return p.Err
}

// CallCount returns the number of Deliver calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ delivery.Provider = (*Provider)(nil)

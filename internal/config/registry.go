package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/scribehook/pkg/audio"
	"github.com/MrWong99/scribehook/pkg/provider/delivery"
	"github.com/MrWong99/scribehook/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// SourceFactory builds a capture source for the given audio settings. The
// source must claim lock while a stream is open.
type SourceFactory func(cfg AudioConfig, lock *audio.DeviceLock) (audio.Source, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	stt      map[string]func(ProviderEntry) (stt.Provider, error)
	delivery map[string]func(ProviderEntry) (delivery.Provider, error)
	source   map[string]SourceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:      make(map[string]func(ProviderEntry) (stt.Provider, error)),
		delivery: make(map[string]func(ProviderEntry) (delivery.Provider, error)),
		source:   make(map[string]SourceFactory),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterDelivery registers a delivery provider factory under name.
func (r *Registry) RegisterDelivery(name string, factory func(ProviderEntry) (delivery.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivery[name] = factory
}

// RegisterSource registers a capture source factory under a device name.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source[name] = factory
}

// CreateSTT instantiates the STT provider named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	f, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateDelivery instantiates the delivery provider named by entry.Name.
func (r *Registry) CreateDelivery(entry ProviderEntry) (delivery.Provider, error) {
	r.mu.RLock()
	f, ok := r.delivery[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: delivery/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateSource instantiates the capture source named by cfg.Device.
func (r *Registry) CreateSource(cfg AudioConfig, lock *audio.DeviceLock) (audio.Source, error) {
	r.mu.RLock()
	f, ok := r.source[cfg.Device]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrProviderNotRegistered, cfg.Device)
	}
	return f(cfg, lock)
}

// Names returns the sorted names registered for kind ("stt", "delivery" or
// "source").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	switch kind {
	case "stt":
		for n := range r.stt {
			out = append(out, n)
		}
	case "delivery":
		for n := range r.delivery {
			out = append(out, n)
		}
	case "source":
		for n := range r.source {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

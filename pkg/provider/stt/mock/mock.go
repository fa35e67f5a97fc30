// Package mock provides a test double for the stt package interface.
//
// Use Provider to control the transcription result and inspect which requests
// were made:
//
//	p := &mock.Provider{Err: stt.ErrNoSpeech}
//	_, err := p.Transcribe(ctx, stt.Request{AudioPath: "clip.wav"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribehook/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if set, replaces Result/Err and is called with the
	// request.
	TranscribeFunc func(ctx context.Context, req stt.Request) (stt.Result, error)

	// Requests records every request passed to Transcribe.
	Requests []stt.Request
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	fn, res, err := p.TranscribeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

var _ stt.Provider = (*Provider)(nil)

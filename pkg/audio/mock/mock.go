// Package mock provides scripted implementations of [audio.Source] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Frames: []audio.Frame{{Seq: 0, Samples: []int16{1, 2}}},
//	}
//	st, err := src.Open(ctx, format)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribehook/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Each successful Open
// returns a [Stream] that delivers Frames in order and then waits for Close.
type Source struct {
	mu sync.Mutex

	// Lock, when set, is claimed for the lifetime of each stream exactly as
	// a real device would be.
	Lock *audio.DeviceLock

	// Frames are delivered by every stream opened from this source.
	Frames []audio.Frame

	// OpenErr is returned by [Source.Open] when non-nil.
	OpenErr error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// OpenedFormats records the format passed to each Open call.
	OpenedFormats []audio.Format

	// Streams records every stream returned by Open.
	Streams []*Stream
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, f audio.Format) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	s.OpenedFormats = append(s.OpenedFormats, f)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Lock != nil {
		if err := s.Lock.TryAcquire("mock"); err != nil {
			return nil, err
		}
	}
	st := NewStream(s.Frames...)
	st.lock = s.Lock
	s.Streams = append(s.Streams, st)
	return st, nil
}

var _ audio.Source = (*Source)(nil)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Its delivery goroutine
// sends the scripted frames and then blocks until Close.
type Stream struct {
	frames chan audio.Frame
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	lock   *audio.DeviceLock

	mu sync.Mutex

	// CloseErr is returned by [Stream.Close].
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Delivered counts frames that were accepted by the consumer.
	Delivered int
}

// NewStream returns a stream that delivers frames in order.
func NewStream(frames ...audio.Frame) *Stream {
	st := &Stream{
		frames: make(chan audio.Frame),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go func() {
		defer close(st.exited)
		defer close(st.frames)
		for _, f := range frames {
			select {
			case <-st.done:
				return
			case st.frames <- f:
				st.mu.Lock()
				st.Delivered++
				st.mu.Unlock()
			}
		}
		<-st.done
	}()
	return st
}

// Frames implements [audio.Stream].
func (st *Stream) Frames() <-chan audio.Frame { return st.frames }

// Close implements [audio.Stream].
func (st *Stream) Close() error {
	st.mu.Lock()
	st.CallCountClose++
	err := st.CloseErr
	st.mu.Unlock()

	st.once.Do(func() {
		close(st.done)
		<-st.exited
		if st.lock != nil {
			st.lock.Release()
		}
	})
	return err
}

// DeliveredCount returns the number of frames the consumer has received.
func (st *Stream) DeliveredCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.Delivered
}

var _ audio.Stream = (*Stream)(nil)

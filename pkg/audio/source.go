// Package audio defines the capture side of scribehook: the frame and buffer
// types, the [Source]/[Stream] abstraction over an input device, the
// process-wide [DeviceLock], and the [CaptureBuffer] that accumulates frames
// for one recording.
//
// A [Source] opens a [Stream] which delivers [Frame] values on a channel from
// its own goroutine. The consumer pushes them into a [CaptureBuffer] and,
// once [Stream.Close] has returned, calls [CaptureBuffer.Finalize] to obtain a
// contiguous [Buffer].
//
// Concrete sources live in sub-packages: portaudio (microphone) and synth
// (generated signal). A scripted double lives in mock.
package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrDeviceUnavailable is returned by [Source.Open] when the input device
// cannot be claimed, either because another stream holds it or because the
// backend failed to open it.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Source opens capture streams on an input device.
//
// Implementations must claim a [DeviceLock] for the lifetime of the stream so
// that at most one stream is open per device at a time.
type Source interface {
	// Open claims the device and starts capture in the given format. The
	// returned error wraps [ErrDeviceUnavailable] when the device cannot be
	// used.
	Open(ctx context.Context, f Format) (Stream, error)
}

// Stream is an open capture session on a device.
type Stream interface {
	// Frames returns the channel on which captured frames are delivered. The
	// channel is closed once the stream has stopped.
	Frames() <-chan Frame

	// Close stops capture, waits until the delivery goroutine has exited and
	// releases the device. No frame is delivered after Close returns. Close
	// is safe to call more than once.
	Close() error
}

// DeviceLock is an explicit exclusive claim on an input device. Share one
// instance between every [Source] that targets the same physical device.
// The zero value is unlocked and ready to use.
type DeviceLock struct {
	mu    sync.Mutex
	held  bool
	owner string
}

// TryAcquire claims the device for owner. It returns an error wrapping
// [ErrDeviceUnavailable] if the device is already claimed.
func (l *DeviceLock) TryAcquire(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return &DeviceBusyError{Owner: l.owner}
	}
	l.held = true
	l.owner = owner
	return nil
}

// Release gives up the claim. Releasing an unheld lock is a no-op.
func (l *DeviceLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.owner = ""
}

// Held reports whether the device is currently claimed.
func (l *DeviceLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// DeviceBusyError is returned when a [DeviceLock] is already held.
type DeviceBusyError struct {
	Owner string
}

func (e *DeviceBusyError) Error() string {
	if e.Owner == "" {
		return ErrDeviceUnavailable.Error() + ": already in use"
	}
	return ErrDeviceUnavailable.Error() + ": already in use by " + e.Owner
}

// Unwrap makes errors.Is(err, ErrDeviceUnavailable) hold.
func (e *DeviceBusyError) Unwrap() error { return ErrDeviceUnavailable }

package audio

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrInvalidState is returned by [CaptureBuffer] when an operation is not
// valid in the buffer's current state (push or finalize after finalize).
var ErrInvalidState = errors.New("audio: invalid buffer state")

// ErrFormatMismatch is returned by [CaptureBuffer.Push] when a frame's sample
// representation does not match the buffer's [Encoding].
var ErrFormatMismatch = errors.New("audio: frame encoding does not match buffer format")

// CaptureBuffer accumulates frames from a single producer until the consumer
// finalizes it into one contiguous [Buffer].
//
// Push may be called from the capture goroutine while other goroutines read
// [CaptureBuffer.Stats]. Finalize must only be called once the producer has
// stopped.
type CaptureBuffer struct {
	format Format

	mu        sync.Mutex
	frames    []Frame
	samples   int
	overflows   int
	deviceError bool
	finalized   bool
}

// NewCaptureBuffer returns an empty buffer for frames in format f.
func NewCaptureBuffer(f Format) *CaptureBuffer {
	return &CaptureBuffer{format: f}
}

// Format returns the format frames are expected in.
func (b *CaptureBuffer) Format() Format { return b.format }

// Push appends a frame in arrival order. A frame flagged
// [StatusDeviceError] marks the buffer and is dropped if it has no samples.
func (b *CaptureBuffer) Push(f Frame) error {
	if b.format.Encoding == EncodingFloat32 && f.Samples != nil ||
		b.format.Encoding == EncodingInt16 && f.Float != nil {
		return fmt.Errorf("%w: buffer is %s", ErrFormatMismatch, b.format.Encoding)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return fmt.Errorf("%w: push after finalize", ErrInvalidState)
	}
	if f.Status&StatusDeviceError != 0 {
		b.deviceError = true
		if f.Len() == 0 {
			return nil
		}
	}
	b.frames = append(b.frames, f)
	b.samples += f.Len()
	if f.Status.Overflowed() {
		b.overflows++
	}
	return nil
}

// Stats returns the number of frames and samples pushed so far.
func (b *CaptureBuffer) Stats() (frames, samples int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames), b.samples
}

// Finalize concatenates every pushed frame in sequence order and clears the
// buffer. Frames with equal Seq keep their arrival order. Calling Finalize
// with nothing pushed yields an empty [Buffer] and no error; calling it a
// second time without [CaptureBuffer.Reset] returns [ErrInvalidState].
func (b *CaptureBuffer) Finalize() (Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return Buffer{}, fmt.Errorf("%w: already finalized", ErrInvalidState)
	}
	b.finalized = true

	frames := b.frames
	out := Buffer{
		Format:    b.format,
		Frames:    len(frames),
		Overflows:   b.overflows,
		DeviceError: b.deviceError,
	}
	b.frames = nil
	b.samples = 0
	b.overflows = 0
	b.deviceError = false

	slices.SortStableFunc(frames, func(x, y Frame) int {
		switch {
		case x.Seq < y.Seq:
			return -1
		case x.Seq > y.Seq:
			return 1
		}
		return 0
	})

	total := 0
	for _, f := range frames {
		total += f.Len()
	}
	if total == 0 {
		return out, nil
	}

	if b.format.Encoding == EncodingFloat32 {
		out.Float = make([]float32, 0, total)
		for _, f := range frames {
			out.Float = append(out.Float, f.Float...)
		}
		return out, nil
	}
	out.Samples = make([]int16, 0, total)
	for _, f := range frames {
		out.Samples = append(out.Samples, f.Samples...)
	}
	return out, nil
}

// Reset discards any pushed frames and re-arms a finalized buffer.
func (b *CaptureBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.samples = 0
	b.overflows = 0
	b.deviceError = false
	b.finalized = false
}

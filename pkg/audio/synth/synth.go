// Package synth provides an [audio.Source] that generates a signal instead of
// reading a microphone. It is used for dry runs on machines without an input
// device and for end-to-end tests.
package synth

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/scribehook/pkg/audio"
)

// Source generates silence, or a sine tone when a frequency is configured.
type Source struct {
	lock            *audio.DeviceLock
	framesPerBuffer int
	toneHz          float64
	amplitude       float64
	paced           bool
	maxFrames       int
}

// Option configures a [Source].
type Option func(*Source)

// WithFramesPerBuffer sets the number of samples per channel in each frame.
// Default: 1024.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// WithTone generates a sine wave at hz with the given peak amplitude in
// [0, 1] instead of silence.
func WithTone(hz, amplitude float64) Option {
	return func(s *Source) {
		s.toneHz = hz
		s.amplitude = amplitude
	}
}

// WithoutPacing delivers frames as fast as the consumer accepts them instead
// of at real-time cadence.
func WithoutPacing() Option {
	return func(s *Source) { s.paced = false }
}

// WithMaxFrames stops generating after n frames. The stream stays open until
// closed. Zero means unlimited.
func WithMaxFrames(n int) Option {
	return func(s *Source) { s.maxFrames = n }
}

// New returns a generator that claims lock while a stream is open.
func New(lock *audio.DeviceLock, opts ...Option) *Source {
	s := &Source{
		lock:            lock,
		framesPerBuffer: 1024,
		paced:           true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, f audio.Format) (audio.Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("synth: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := s.lock.TryAcquire("synth"); err != nil {
		return nil, fmt.Errorf("synth: open: %w", err)
	}

	st := &stream{
		src:    s,
		format: f,
		frames: make(chan audio.Frame, 4),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go st.run()
	return st, nil
}

type stream struct {
	src    *Source
	format audio.Format
	frames chan audio.Frame
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (st *stream) Frames() <-chan audio.Frame { return st.frames }

func (st *stream) Close() error {
	st.once.Do(func() {
		close(st.done)
		<-st.exited
		st.src.lock.Release()
	})
	return nil
}

func (st *stream) run() {
	defer close(st.exited)
	defer close(st.frames)

	n := st.src.framesPerBuffer
	period := time.Duration(n) * time.Second / time.Duration(st.format.SampleRate)

	var tick <-chan time.Time
	if st.src.paced {
		t := time.NewTicker(period)
		defer t.Stop()
		tick = t.C
	}

	var phase float64
	step := 2 * math.Pi * st.src.toneHz / float64(st.format.SampleRate)

	for seq := uint64(0); st.src.maxFrames == 0 || seq < uint64(st.src.maxFrames); seq++ {
		if tick != nil {
			select {
			case <-st.done:
				return
			case <-tick:
			}
		}

		f := audio.Frame{Seq: seq, Timestamp: time.Duration(seq) * period}
		values := make([]float64, n*st.format.Channels)
		if st.src.toneHz > 0 {
			for i := 0; i < n; i++ {
				v := st.src.amplitude * math.Sin(phase)
				phase += step
				for c := 0; c < st.format.Channels; c++ {
					values[i*st.format.Channels+c] = v
				}
			}
		}
		if st.format.Encoding == audio.EncodingFloat32 {
			f.Float = make([]float32, len(values))
			for i, v := range values {
				f.Float[i] = float32(v)
			}
		} else {
			f.Samples = make([]int16, len(values))
			for i, v := range values {
				f.Samples[i] = audio.FloatToInt16(float32(v))
			}
		}

		select {
		case <-st.done:
			return
		case st.frames <- f:
		}
	}
	<-st.done
}

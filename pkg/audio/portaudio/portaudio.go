// Package portaudio captures microphone input through the PortAudio C
// library. It requires cgo and a system PortAudio installation.
//
// Each open stream runs on a dedicated, OS-thread-locked goroutine that owns
// the PortAudio handle from Initialize to Terminate and performs blocking
// reads of one buffer at a time.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/scribehook/pkg/audio"
)

// Source reads from the system default input device.
type Source struct {
	lock            *audio.DeviceLock
	framesPerBuffer int
}

// Option configures a [Source].
type Option func(*Source)

// WithFramesPerBuffer sets the number of samples per channel read per frame.
// Default: 1024.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// New returns a microphone source that claims lock while a stream is open.
func New(lock *audio.DeviceLock, opts ...Option) *Source {
	s := &Source{lock: lock, framesPerBuffer: 1024}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements [audio.Source]. It blocks until the device has started
// capturing or failed to.
func (s *Source) Open(ctx context.Context, f audio.Format) (audio.Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("portaudio: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := s.lock.TryAcquire("portaudio"); err != nil {
		return nil, fmt.Errorf("portaudio: open: %w", err)
	}

	st := &stream{
		lock:    s.lock,
		format:  f,
		n:       s.framesPerBuffer,
		frames:  make(chan audio.Frame, 8),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		started: make(chan error, 1),
	}
	go st.run()

	select {
	case err := <-st.started:
		if err != nil {
			<-st.exited
			s.lock.Release()
			return nil, fmt.Errorf("portaudio: %w: %w", audio.ErrDeviceUnavailable, err)
		}
	case <-ctx.Done():
		_ = st.Close()
		return nil, ctx.Err()
	}
	return st, nil
}

type stream struct {
	lock   *audio.DeviceLock
	format audio.Format
	n      int

	frames  chan audio.Frame
	done    chan struct{}
	exited  chan struct{}
	started chan error
	once    sync.Once
}

func (st *stream) Frames() <-chan audio.Frame { return st.frames }

func (st *stream) Close() error {
	st.once.Do(func() {
		close(st.done)
		<-st.exited
		st.lock.Release()
	})
	return nil
}

func (st *stream) run() {
	defer close(st.exited)
	defer close(st.frames)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := pa.Initialize(); err != nil {
		st.started <- fmt.Errorf("initialize: %w", err)
		return
	}
	defer func() {
		if err := pa.Terminate(); err != nil {
			slog.Warn("portaudio: terminate failed", "err", err)
		}
	}()

	size := st.n * st.format.Channels
	var (
		in16 []int16
		inF  []float32
		buf  any
	)
	if st.format.Encoding == audio.EncodingFloat32 {
		inF = make([]float32, size)
		buf = inF
	} else {
		in16 = make([]int16, size)
		buf = in16
	}

	s, err := pa.OpenDefaultStream(st.format.Channels, 0, float64(st.format.SampleRate), st.n, buf)
	if err != nil {
		st.started <- fmt.Errorf("open default stream: %w", err)
		return
	}
	defer s.Close()

	if err := s.Start(); err != nil {
		st.started <- fmt.Errorf("start: %w", err)
		return
	}
	defer func() {
		if err := s.Stop(); err != nil {
			slog.Warn("portaudio: stop failed", "err", err)
		}
	}()
	st.started <- nil

	slog.Info("portaudio: capture started",
		"format", st.format.String(),
		"frames_per_buffer", st.n,
	)

	period := time.Duration(st.n) * time.Second / time.Duration(st.format.SampleRate)
	for seq := uint64(0); ; seq++ {
		select {
		case <-st.done:
			return
		default:
		}

		f := audio.Frame{Seq: seq, Timestamp: time.Duration(seq) * period}
		if err := s.Read(); err != nil {
			if !errors.Is(err, pa.InputOverflowed) {
				slog.Error("portaudio: read failed, stopping capture", "err", err, "seq", seq)
				f.Status = audio.StatusDeviceError
				select {
				case st.frames <- f:
				case <-st.done:
					return
				}
				<-st.done
				return
			}
			f.Status |= audio.StatusInputOverflow
		}
		if inF != nil {
			f.Float = append([]float32(nil), inF...)
		} else {
			f.Samples = append([]int16(nil), in16...)
		}

		select {
		case <-st.done:
			return
		case st.frames <- f:
		}
	}
}

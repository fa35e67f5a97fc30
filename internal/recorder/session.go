// Package recorder implements the recording session state machine.
//
// A [Session] is single-use:
//
//	Idle ──Start──▶ Recording ──Stop──▶ Stopping ──▶ Processing ──▶ Complete
//	  │                                                    │
//	  └──(device error)──▶ Failed ◀──────(fatal error)─────┘
//
// While recording, a pump goroutine moves frames from the source's channel
// into a [audio.CaptureBuffer]. Stop closes the stream, waits for the pump
// to drain and exit, finalizes the buffer and runs the pipeline on the
// caller's goroutine. Complete and Failed are terminal; create a new Session
// for the next recording.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/scribehook/internal/observe"
	"github.com/MrWong99/scribehook/internal/pipeline"
	"github.com/MrWong99/scribehook/pkg/audio"
)

var (
	// ErrAlreadyRecording is returned by Start when the session has left
	// the Idle state.
	ErrAlreadyRecording = errors.New("recorder: already recording")

	// ErrInvalidState is returned by Stop when the session is not recording.
	ErrInvalidState = errors.New("recorder: invalid state")
)

// State is the lifecycle position of a [Session].
type State int

const (
	Idle State = iota
	Recording
	Stopping
	Processing
	Complete
	Failed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Processing:
		return "processing"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == Complete || s == Failed }

// Runner processes a finalized buffer. [*pipeline.Orchestrator] implements it.
type Runner interface {
	Run(ctx context.Context, buf audio.Buffer) (pipeline.Report, error)
}

// Session records one clip and hands it to a [Runner].
// All methods are safe for concurrent use.
type Session struct {
	source  audio.Source
	format  audio.Format
	runner  Runner
	metrics *observe.Metrics
	now     func() time.Time

	mu        sync.Mutex
	state     State
	stream    audio.Stream
	buf       *audio.CaptureBuffer
	pumpDone  chan struct{}
	startedAt time.Time
	stoppedAt time.Time
	report    pipeline.Report
	hasReport bool
	err       error
}

// Option configures a [Session].
type Option func(*Session)

// WithMetrics records capture metrics to m instead of the default metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New returns an Idle session that will capture f from source and pass the
// result to runner.
func New(source audio.Source, f audio.Format, runner Runner, opts ...Option) *Session {
	s := &Session{
		source: source,
		format: f,
		runner: runner,
		now:    time.Now,
		buf:    audio.NewCaptureBuffer(f),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Start opens the source and begins capturing. It is valid only from Idle;
// any other state returns [ErrAlreadyRecording]. A device failure moves the
// session to Failed and returns an error wrapping
// [audio.ErrDeviceUnavailable].
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return fmt.Errorf("%w (state %s)", ErrAlreadyRecording, s.state)
	}

	s.buf.Reset()
	stream, err := s.source.Open(ctx, s.format)
	if err != nil {
		s.state = Failed
		s.err = fmt.Errorf("recorder: start: %w", err)
		slog.Error("recorder: device open failed", "format", s.format.String(), "err", err)
		return s.err
	}

	s.stream = stream
	s.pumpDone = make(chan struct{})
	s.startedAt = s.now()
	s.state = Recording
	s.metrics.ActiveRecordings.Add(ctx, 1)

	go s.pump(stream, s.buf, s.pumpDone)

	slog.Info("recording started", "format", s.format.String())
	return nil
}

// pump moves frames into buf until the stream's channel is closed.
func (s *Session) pump(stream audio.Stream, buf *audio.CaptureBuffer, done chan<- struct{}) {
	defer close(done)
	ctx := context.Background()
	for f := range stream.Frames() {
		switch {
		case f.Status&audio.StatusDeviceError != 0:
			slog.Error("recorder: capture device failed, audio ends here", "seq", f.Seq)
		case f.Status != 0:
			s.metrics.RecordOverflow(ctx)
			slog.Warn("recorder: device reported capture problem", "seq", f.Seq, "status", f.Status.String())
		}
		if err := buf.Push(f); err != nil {
			slog.Warn("recorder: frame dropped", "seq", f.Seq, "err", err)
		}
	}
}

// Stop ends capture and runs the pipeline to completion. It blocks until the
// capture goroutine has quiesced and the pipeline has finished. Calling Stop
// in any state other than Recording returns [ErrInvalidState].
//
// Once Stop has begun, cancelling ctx does not interrupt the pipeline. A
// non-nil error means the pipeline failed fatally; the returned report
// still describes the run and the session is Failed.
func (s *Session) Stop(ctx context.Context) (pipeline.Report, error) {
	s.mu.Lock()
	if s.state != Recording {
		st := s.state
		s.mu.Unlock()
		return pipeline.Report{}, fmt.Errorf("%w: cannot stop in state %s", ErrInvalidState, st)
	}
	s.state = Stopping
	stream, done, buf := s.stream, s.pumpDone, s.buf
	s.mu.Unlock()

	if err := stream.Close(); err != nil {
		slog.Warn("recorder: closing stream", "err", err)
	}
	<-done

	s.mu.Lock()
	s.stoppedAt = s.now()
	s.stream = nil
	s.mu.Unlock()
	s.metrics.ActiveRecordings.Add(ctx, -1)

	audioBuf, err := buf.Finalize()
	if err != nil {
		return s.finish(pipeline.Report{Fatal: err.Error()}, fmt.Errorf("recorder: finalize: %w", err))
	}
	if audioBuf.DeviceError {
		slog.Warn("recorder: capture was cut short by a device error")
	}
	if audioBuf.Overflows > 0 {
		slog.Warn("recorder: capture finished with device overflows", "frames", audioBuf.Overflows)
	}
	slog.Info("recording stopped",
		"frames", audioBuf.Frames,
		"samples", audioBuf.Len(),
		"duration", audioBuf.Duration(),
	)

	s.setState(Processing)
	r, err := s.runner.Run(context.WithoutCancel(ctx), audioBuf)
	if err != nil {
		return s.finish(r, fmt.Errorf("recorder: pipeline: %w", err))
	}
	return s.finish(r, nil)
}

func (s *Session) finish(r pipeline.Report, err error) (pipeline.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report, s.hasReport, s.err = r, true, err
	if err != nil {
		s.state = Failed
	} else {
		s.state = Complete
	}
	return r, err
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Report returns the final report once the session has reached a terminal
// state through Stop.
func (s *Session) Report() (pipeline.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report, s.hasReport
}

// Err returns the error that moved the session to Failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Elapsed returns how long the session has been (or was) recording.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.startedAt.IsZero():
		return 0
	case s.stoppedAt.IsZero():
		return s.now().Sub(s.startedAt)
	default:
		return s.stoppedAt.Sub(s.startedAt)
	}
}

// Captured returns the number of frames and samples buffered so far.
func (s *Session) Captured() (frames, samples int) {
	return s.buf.Stats()
}

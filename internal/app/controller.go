package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/scribehook/internal/observe"
	"github.com/MrWong99/scribehook/internal/pipeline"
	"github.com/MrWong99/scribehook/internal/recorder"
	"github.com/MrWong99/scribehook/internal/storage"
)

// SessionFactory returns a fresh Idle recording session.
type SessionFactory func() *recorder.Session

// SessionInfo holds metadata about the current or most recent recording.
type SessionInfo struct {
	// SessionID identifies the recording in logs and status responses.
	SessionID string `json:"session_id"`

	// StartedAt is when capture began.
	StartedAt time.Time `json:"started_at"`

	// AutoStopAt is when the recording will stop on its own. Zero when no
	// duration is configured.
	AutoStopAt time.Time `json:"auto_stop_at,omitzero"`
}

// Status is a point-in-time view of the controller.
type Status struct {
	State   string        `json:"state"`
	Session *SessionInfo  `json:"session,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Frames  int           `json:"frames"`
	Samples int           `json:"samples"`

	// LastReport is the report of the most recently finished recording.
	LastReport *pipeline.Report `json:"last_report,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
}

// Controller manages the lifecycle of recording sessions.
// Only one session can be active at a time.
// All exported methods are safe for concurrent use.
type Controller struct {
	newSession SessionFactory
	autoStop   time.Duration
	now        func() time.Time

	mu      sync.Mutex
	current *recorder.Session
	info    SessionInfo
	timer   *time.Timer
	last    *pipeline.Report
	lastErr error

	// idle is closed whenever no session is active, and replaced on Start.
	idle chan struct{}
}

// NewController returns a Controller that builds sessions with newSession
// and stops each one after autoStop when autoStop is positive.
func NewController(newSession SessionFactory, autoStop time.Duration) *Controller {
	idle := make(chan struct{})
	close(idle)
	return &Controller{
		newSession: newSession,
		autoStop:   autoStop,
		now:        time.Now,
		idle:       idle,
	}
}

// Start begins a new recording. It returns an error wrapping
// [recorder.ErrAlreadyRecording] while another recording is in progress,
// including one that is still being processed.
func (c *Controller) Start(ctx context.Context) (SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return SessionInfo{}, fmt.Errorf("app: session %s is %s: %w",
			c.info.SessionID, c.current.State(), recorder.ErrAlreadyRecording)
	}

	sess := c.newSession()
	if err := sess.Start(ctx); err != nil {
		c.lastErr = err
		return SessionInfo{}, fmt.Errorf("app: start recording: %w", err)
	}

	now := c.now()
	info := SessionInfo{
		SessionID: storage.NewStamp(now).String(),
		StartedAt: now,
	}
	if c.autoStop > 0 {
		info.AutoStopAt = now.Add(c.autoStop)
		c.timer = time.AfterFunc(c.autoStop, func() { c.stopAfterDuration(sess) })
	}

	c.current = sess
	c.info = info
	c.idle = make(chan struct{})

	slog.Info("recording started",
		"session_id", info.SessionID,
		"auto_stop", c.autoStop,
	)
	return info, nil
}

// Stop ends the active recording and blocks until its pipeline run has
// finished. It returns an error wrapping [recorder.ErrInvalidState] when no
// recording is in progress. A non-nil error with a non-zero report means the
// pipeline failed fatally.
func (c *Controller) Stop(ctx context.Context) (pipeline.Report, error) {
	c.mu.Lock()
	sess := c.current
	if sess == nil {
		c.mu.Unlock()
		return pipeline.Report{}, fmt.Errorf("app: no active recording: %w", recorder.ErrInvalidState)
	}
	c.mu.Unlock()

	return c.stop(ctx, sess)
}

func (c *Controller) stop(ctx context.Context, sess *recorder.Session) (pipeline.Report, error) {
	c.mu.Lock()
	id := c.info.SessionID
	c.mu.Unlock()

	report, err := sess.Stop(observe.WithSession(ctx, id))
	if errors.Is(err, recorder.ErrInvalidState) {
		// Someone else is already stopping this session.
		return pipeline.Report{}, fmt.Errorf("app: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.last = &report
	c.lastErr = err
	if c.current == sess {
		c.current = nil
		close(c.idle)
	}

	if err != nil {
		slog.Error("recording failed", "session_id", c.info.SessionID, "err", err)
		return report, err
	}
	slog.Info("recording finished",
		"session_id", c.info.SessionID,
		"report_id", report.ID,
		"status", report.Status(),
	)
	return report, nil
}

// stopAfterDuration runs when the auto-stop timer fires.
func (c *Controller) stopAfterDuration(sess *recorder.Session) {
	if sess.State() != recorder.Recording {
		return
	}
	slog.Info("recording duration reached, stopping", "duration", c.autoStop)
	if _, err := c.stop(context.Background(), sess); err != nil && !errors.Is(err, recorder.ErrInvalidState) {
		slog.Warn("auto-stop failed", "err", err)
	}
}

// Wait blocks until no recording is active or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsActive reports whether a recording is being captured or processed.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Last returns the most recently finished report.
func (c *Controller) Last() (pipeline.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return pipeline.Report{}, false
	}
	return *c.last, true
}

// Result returns the most recently finished report together with the error
// that ended it, if any.
func (c *Controller) Result() (pipeline.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var r pipeline.Report
	if c.last != nil {
		r = *c.last
	}
	return r, c.lastErr
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: recorder.Idle.String(), LastReport: c.last}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.current != nil {
		info := c.info
		st.State = c.current.State().String()
		st.Session = &info
		st.Elapsed = c.current.Elapsed()
		st.Frames, st.Samples = c.current.Captured()
	}
	return st
}

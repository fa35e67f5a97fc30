// Package resilience guards calls to remote collaborators with a circuit
// breaker.
//
// [Breaker] is a three-state breaker (closed → open → half-open). It never
// retries: a call is either forwarded once or rejected immediately with
// [ErrCircuitOpen]. Which errors count against the breaker is decided by a
// caller-supplied classifier, so that "the service answered but heard no
// speech" does not trip it while "the service is down" does.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] when the breaker is open
// and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a single trial call through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive counted failures in the closed
	// state before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting a
	// trial call. Default: 30s.
	ResetTimeout time.Duration

	// IsFailure decides whether an error counts against the breaker. When
	// nil every non-nil error counts.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	isFailure     func(error) bool
	onStateChange func(string, State, State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	trialInFlight   bool
}

// NewBreaker creates a [Breaker]. Zero-value config fields are replaced with
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
}

// Execute runs fn once if the breaker admits it and returns fn's error. When
// the breaker is open, or a half-open trial is already in flight, fn is not
// called and [ErrCircuitOpen] is returned.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	var transition func()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		transition = b.setState(StateHalfOpen)
		b.trialInFlight = true
	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.trialInFlight = true
	}
	trial := b.state == StateHalfOpen
	b.mu.Unlock()
	if transition != nil {
		transition()
	}

	err := fn()

	b.mu.Lock()
	failed := err != nil && b.isFailure(err)
	switch {
	case trial && failed:
		b.trialInFlight = false
		b.openedAt = b.now()
		transition = b.setState(StateOpen)
		slog.Warn("circuit breaker re-opened by failed trial call", "name", b.name, "err", err)
	case trial:
		b.trialInFlight = false
		b.consecutiveFail = 0
		transition = b.setState(StateClosed)
		slog.Info("circuit breaker closed after successful trial call", "name", b.name)
	case failed:
		b.consecutiveFail++
		if b.state == StateClosed && b.consecutiveFail >= b.maxFailures {
			b.openedAt = b.now()
			transition = b.setState(StateOpen)
			slog.Warn("circuit breaker opened",
				"name", b.name,
				"consecutive_failures", b.consecutiveFail,
				"err", err)
		}
	default:
		b.consecutiveFail = 0
		transition = nil
	}
	b.mu.Unlock()
	if transition != nil {
		transition()
	}
	return err
}

// setState changes the state and returns the notification to run once the
// lock is released, or nil. Must be called with b.mu held.
func (b *Breaker) setState(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	if b.onStateChange == nil {
		return nil
	}
	name, cb := b.name, b.onStateChange
	return func() { cb(name, from, to) }
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [Breaker.Execute].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed].
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.consecutiveFail = 0
	b.trialInFlight = false
	transition := b.setState(StateClosed)
	b.mu.Unlock()
	if transition != nil {
		transition()
	}
	slog.Info("circuit breaker manually reset", "name", b.name)
}

// Package app wires all scribehook subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control API until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithJournal,
// WithStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scribehook/internal/config"
	"github.com/MrWong99/scribehook/internal/health"
	"github.com/MrWong99/scribehook/internal/journal"
	"github.com/MrWong99/scribehook/internal/observe"
	"github.com/MrWong99/scribehook/internal/pipeline"
	"github.com/MrWong99/scribehook/internal/recorder"
	"github.com/MrWong99/scribehook/internal/resilience"
	"github.com/MrWong99/scribehook/internal/storage"
	"github.com/MrWong99/scribehook/pkg/audio"
	"github.com/MrWong99/scribehook/pkg/provider/delivery"
	"github.com/MrWong99/scribehook/pkg/provider/stt"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Providers holds the collaborators built by main.go via the config registry.
type Providers struct {
	STT      stt.Provider
	Delivery delivery.Provider
	Source   audio.Source
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	journal     journal.Journal
	store       storage.Store
	metrics     *observe.Metrics
	breaker     *resilience.Breaker
	transcriber *pipeline.TranscriptionClient
	orch        *pipeline.Orchestrator
	ctrl        *Controller
	health      *health.Handler

	endpoint       atomic.Value // string
	logLevel       *slog.LevelVar
	metricsHandler http.Handler
	listener       net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJournal injects a report journal instead of opening one from config.
func WithJournal(j journal.Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithStore injects artifact storage instead of the configured directories.
func WithStore(s storage.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records to m instead of the default metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets hot reload adjust v when server.log_level changes.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithListener makes Run serve on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.Delivery == nil || providers.Source == nil {
		return nil, errors.New("app: stt, delivery and source providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.endpoint.Store(cfg.Delivery.Endpoint)

	// ── 1. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 2. Storage ───────────────────────────────────────────────────────
	if a.store == nil {
		a.store = storage.NewFileStore(cfg.Storage.RecordingsDir, cfg.Storage.TranscriptsDir)
	}

	// ── 3. Pipeline ──────────────────────────────────────────────────────
	format, err := cfg.Audio.Format()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.initPipeline()

	// ── 4. Recording controller ──────────────────────────────────────────
	a.ctrl = NewController(func() *recorder.Session {
		return recorder.New(providers.Source, format, a.orch, recorder.WithMetrics(a.metrics))
	}, cfg.Audio.Duration)

	// ── 5. Health checks ─────────────────────────────────────────────────
	a.initHealth()

	// Provider clients that hold connections are closed last.
	for _, p := range []any{providers.Delivery, providers.STT} {
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	slog.Info("app initialised",
		"format", format.String(),
		"device", cfg.Audio.Device,
		"stt", cfg.Transcription.Provider.Name,
		"delivery", cfg.Delivery.Provider.Name,
		"journal", cfg.Journal.Driver,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initJournal(ctx context.Context) error {
	if a.journal != nil {
		return nil
	}
	j, err := journal.Open(ctx, journal.Config{
		Driver:   a.cfg.Journal.Driver,
		DSN:      a.cfg.Journal.DSN,
		Capacity: a.cfg.Journal.Capacity,
	})
	if err != nil {
		return err
	}
	a.journal = j
	a.closers = append(a.closers, j.Close)
	return nil
}

func (a *App) initPipeline() {
	t := a.cfg.Transcription
	a.breaker = pipeline.NewTranscriptionBreaker("stt/"+t.Provider.Name,
		t.Breaker.MaxFailures, t.Breaker.ResetTimeout, a.metrics)

	a.transcriber = pipeline.NewTranscriptionClient(a.providers.STT,
		pipeline.WithProviderName(t.Provider.Name),
		pipeline.WithLanguage(t.Language),
		pipeline.WithTranscriptionTimeout(t.Timeout),
		pipeline.WithBreaker(a.breaker),
		pipeline.WithTranscriptionMetrics(a.metrics),
	)
	deliverer := pipeline.NewDeliveryClient(a.providers.Delivery,
		pipeline.WithDeliveryName(a.cfg.Delivery.Provider.Name),
		pipeline.WithDeliveryTimeout(a.cfg.Delivery.Timeout),
		pipeline.WithDeliveryMetrics(a.metrics),
	)
	a.orch = pipeline.NewOrchestrator(a.store, a.transcriber, deliverer, a.Endpoint,
		pipeline.WithJournal(a.journal),
		pipeline.WithPlaceholders(placeholders(t.Placeholders)),
		pipeline.WithMetrics(a.metrics),
	)
}

func (a *App) initHealth() {
	checkers := []health.Checker{
		health.Ping("journal", a.journal),
		{Name: "transcription", Check: func(context.Context) error {
			if a.breaker.State() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		}},
	}
	if fs, ok := a.store.(*storage.FileStore); ok {
		checkers = append(checkers, health.Checker{Name: "storage", Check: fs.Check})
	}
	if h, ok := a.providers.Delivery.(interface{ Healthy() bool }); ok {
		checkers = append(checkers, health.Connected("delivery", h.Healthy))
	}
	a.health = health.New(checkers...)
}

// placeholders converts the configured strings; empty fields fall back to
// the built-in defaults.
func placeholders(p config.PlaceholdersConfig) pipeline.Placeholders {
	return pipeline.Placeholders{
		Inaudible:   p.Inaudible,
		Unavailable: p.Unavailable,
		Error:       p.Error,
	}.WithDefaults()
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Endpoint returns the current delivery endpoint. It is read once per
// pipeline run.
func (a *App) Endpoint() string {
	s, _ := a.endpoint.Load().(string)
	return s
}

// Controller returns the recording controller.
func (a *App) Controller() *Controller { return a.ctrl }

// Handler returns the HTTP handler serving the control API, health checks
// and metrics, wrapped in the observability middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	NewAPI(a.ctrl, a.journal).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new.
// It is intended as the [config.Watcher] callback. Changes that need a
// restart are logged and otherwise ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.EndpointChanged {
		a.endpoint.Store(d.NewEndpoint)
		slog.Info("delivery endpoint changed", "endpoint", d.NewEndpoint)
	}
	if d.LanguageChanged {
		a.transcriber.SetLanguage(d.NewLanguage)
		slog.Info("transcription language changed", "language", d.NewLanguage)
	}
	if d.PlaceholdersChanged {
		a.orch.SetPlaceholders(placeholders(d.NewPlaceholders))
		slog.Info("transcript placeholders changed")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "fields", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("control API listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// RecordOnce captures a single recording and returns its report. The
// recording stops when the configured duration elapses or ctx is cancelled,
// whichever comes first.
func (a *App) RecordOnce(ctx context.Context) (pipeline.Report, error) {
	if _, err := a.ctrl.Start(ctx); err != nil {
		return pipeline.Report{}, err
	}
	if err := a.ctrl.Wait(ctx); err != nil {
		report, err := a.ctrl.Stop(context.WithoutCancel(ctx))
		if !errors.Is(err, recorder.ErrInvalidState) {
			return report, err
		}
		// Auto-stop got there first; its pipeline run is still in flight.
		if err := a.ctrl.Wait(context.WithoutCancel(ctx)); err != nil {
			return pipeline.Report{}, err
		}
	}
	return a.ctrl.Result()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops an active recording, letting its pipeline finish, then
// closes all subsystems. If ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.ctrl.IsActive() {
			if _, err := a.ctrl.Stop(ctx); err != nil && !errors.Is(err, recorder.ErrInvalidState) {
				slog.Warn("final recording failed", "err", err)
			}
			_ = a.ctrl.Wait(ctx)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

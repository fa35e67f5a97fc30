// Command scribehook records audio from the default input device, transcribes
// it and delivers the transcript to a webhook or NATS subject.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/scribehook/internal/app"
	"github.com/MrWong99/scribehook/internal/config"
	"github.com/MrWong99/scribehook/internal/observe"
	"github.com/MrWong99/scribehook/pkg/audio"
	"github.com/MrWong99/scribehook/pkg/audio/portaudio"
	"github.com/MrWong99/scribehook/pkg/audio/synth"
	"github.com/MrWong99/scribehook/pkg/provider/delivery"
	natsdelivery "github.com/MrWong99/scribehook/pkg/provider/delivery/nats"
	"github.com/MrWong99/scribehook/pkg/provider/delivery/webhook"
	"github.com/MrWong99/scribehook/pkg/provider/stt"
	"github.com/MrWong99/scribehook/pkg/provider/stt/deepgram"
	"github.com/MrWong99/scribehook/pkg/provider/stt/google"
	oaistt "github.com/MrWong99/scribehook/pkg/provider/stt/openai"
	"github.com/MrWong99/scribehook/pkg/provider/stt/whisper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	once := flag.Bool("once", false, "record a single clip, print its report and exit")
	duration := flag.Duration("duration", 0, "stop each recording after this long (overrides audio.duration)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scribehook: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scribehook: %v\n", err)
		}
		return 1
	}
	if *duration > 0 {
		cfg.Audio.Duration = *duration
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("scribehook starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg, *once)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(level),
		app.WithMetricsHandler(tel.MetricsHandler),
	)
	if err != nil {
		closeProviders(providers)
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	code := 0
	if *once {
		code = recordOnce(ctx, application, cfg.Audio.Duration)
	} else {
		code = serve(ctx, application, *configPath)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// serve runs the control API with config hot reload until a signal arrives.
func serve(ctx context.Context, application *app.App, configPath string) int {
	watcher, err := config.NewWatcher(configPath, func(old, new *config.Config, _ config.ConfigDiff) {
		application.ApplyConfig(old, new)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("shutdown signal received, stopping")
	return 0
}

// recordOnce captures one clip and prints its report to stdout.
func recordOnce(ctx context.Context, application *app.App, d time.Duration) int {
	if d > 0 {
		fmt.Printf("recording for %s, press Ctrl+C to stop early\n", d)
	} else {
		fmt.Println("recording, press Ctrl+C to stop")
	}
	report, err := application.RecordOnce(ctx)
	if report.ID != "" || report.Empty {
		fmt.Print(report.Summary())
	}
	if err != nil {
		slog.Error("recording failed", "err", err)
		return 1
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry, cfg *config.Config) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization"); org != "" {
			opts = append(opts, oaistt.WithOrganization(org))
		}
		opts = append(opts, oaistt.WithTimeout(cfg.Transcription.Timeout))
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("google", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []google.Option
		if entry.APIKey != "" {
			opts = append(opts, google.WithAPIKey(entry.APIKey))
		}
		if path := entry.OptionString("credentials_file"); path != "" {
			opts = append(opts, google.WithCredentialsFile(path))
		}
		if entry.Model != "" {
			opts = append(opts, google.WithModel(entry.Model))
		}
		return google.New(ctx, opts...)
	})

	// ── Delivery ──────────────────────────────────────────────────────────────

	reg.RegisterDelivery("webhook", func(entry config.ProviderEntry) (delivery.Provider, error) {
		opts := []webhook.Option{webhook.WithTimeout(cfg.Delivery.Timeout)}
		if entry.APIKey != "" {
			opts = append(opts, webhook.WithBearerToken(entry.APIKey))
		}
		for k, v := range entry.OptionStringMap("headers") {
			opts = append(opts, webhook.WithHeader(k, v))
		}
		return webhook.New(opts...), nil
	})

	reg.RegisterDelivery("nats", func(entry config.ProviderEntry) (delivery.Provider, error) {
		return natsdelivery.Connect(natsdelivery.Config{
			URL:            entry.BaseURL,
			Name:           cfg.Telemetry.ServiceName,
			Username:       entry.OptionString("username"),
			Password:       entry.OptionString("password"),
			Token:          entry.APIKey,
			ConnectTimeout: entry.OptionDuration("connect_timeout", 5*time.Second),
			CoreOnly:       entry.OptionBool("core_only", false),
		})
	})

	// ── Audio sources ─────────────────────────────────────────────────────────

	reg.RegisterSource(config.DevicePortAudio, func(a config.AudioConfig, lock *audio.DeviceLock) (audio.Source, error) {
		return portaudio.New(lock, portaudio.WithFramesPerBuffer(a.FramesPerBuffer)), nil
	})

	reg.RegisterSource(config.DeviceSilence, func(a config.AudioConfig, lock *audio.DeviceLock) (audio.Source, error) {
		return synth.New(lock, synth.WithFramesPerBuffer(a.FramesPerBuffer)), nil
	})

	for _, kind := range []string{"stt", "delivery", "source"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateSTT(cfg.Transcription.Provider)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Transcription.Provider.Name, err)
	}
	ps.STT = p
	slog.Info("provider created", "kind", "stt", "name", cfg.Transcription.Provider.Name)

	d, err := reg.CreateDelivery(cfg.Delivery.Provider)
	if err != nil {
		closeProviders(ps)
		return nil, fmt.Errorf("create delivery provider %q: %w", cfg.Delivery.Provider.Name, err)
	}
	ps.Delivery = d
	slog.Info("provider created", "kind", "delivery", "name", cfg.Delivery.Provider.Name)

	src, err := reg.CreateSource(cfg.Audio, &audio.DeviceLock{})
	if err != nil {
		closeProviders(ps)
		return nil, fmt.Errorf("create audio source %q: %w", cfg.Audio.Device, err)
	}
	ps.Source = src
	slog.Info("provider created", "kind", "source", "name", cfg.Audio.Device)

	return ps, nil
}

// closeProviders releases providers that hold connections.
func closeProviders(ps *app.Providers) {
	for _, p := range []any{ps.STT, ps.Delivery} {
		if c, ok := p.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, once bool) {
	mode := "server"
	if once {
		mode = "single recording"
	}
	duration := "until stopped"
	if cfg.Audio.Duration > 0 {
		duration = cfg.Audio.Duration.String()
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       scribehook, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Mode", mode)
	printRow("Device", fmt.Sprintf("%s %dHz/%dch", cfg.Audio.Device, cfg.Audio.SampleRate, cfg.Audio.Channels))
	printRow("Duration", duration)
	printProvider("STT", cfg.Transcription.Provider.Name, cfg.Transcription.Provider.Model)
	printRow("Language", cfg.Transcription.Language)
	printProvider("Delivery", cfg.Delivery.Provider.Name, "")
	printRow("Journal", cfg.Journal.Driver)
	if !once {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

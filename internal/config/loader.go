package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/scribehook/pkg/audio"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":      {"whisper", "openai", "deepgram", "google"},
	"delivery": {"webhook", "nats"},
}

// Journal driver names accepted in journal.driver.
var journalDrivers = []string{"memory", "sqlite", "postgres"}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultSampleRate      = 44100
	DefaultChannels        = 1
	DefaultFramesPerBuffer = 1024
	DefaultLanguage        = "tr-TR"
	DefaultSTTTimeout      = 60 * time.Second
	DefaultDeliveryTimeout = 15 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerReset    = 30 * time.Second
	DefaultRecordingsDir   = "recordings"
	DefaultTranscriptsDir  = "transcripts"
	DefaultServiceName     = "scribehook"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its documented default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.Device == "" {
		a.Device = DevicePortAudio
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.Channels == 0 {
		a.Channels = DefaultChannels
	}
	if a.FramesPerBuffer == 0 {
		a.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if a.SampleFormat == "" {
		a.SampleFormat = "int16"
	}

	t := &cfg.Transcription
	if t.Language == "" {
		t.Language = DefaultLanguage
	}
	if t.Timeout == 0 {
		t.Timeout = DefaultSTTTimeout
	}
	if t.Breaker.MaxFailures == 0 {
		t.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if t.Breaker.ResetTimeout == 0 {
		t.Breaker.ResetTimeout = DefaultBreakerReset
	}

	if cfg.Delivery.Provider.Name == "" {
		cfg.Delivery.Provider.Name = "webhook"
	}
	if cfg.Delivery.Timeout == 0 {
		cfg.Delivery.Timeout = DefaultDeliveryTimeout
	}

	if cfg.Storage.RecordingsDir == "" {
		cfg.Storage.RecordingsDir = DefaultRecordingsDir
	}
	if cfg.Storage.TranscriptsDir == "" {
		cfg.Storage.TranscriptsDir = DefaultTranscriptsDir
	}

	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "memory"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = "none"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if a.Device != DevicePortAudio && a.Device != DeviceSilence {
		errs = append(errs, fmt.Errorf("audio.device %q is invalid; valid values: portaudio, silence", a.Device))
	}
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", a.SampleRate))
	}
	if a.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", a.Channels))
	}
	if a.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer must not be negative, got %d", a.FramesPerBuffer))
	}
	if _, err := audio.ParseEncoding(a.SampleFormat); err != nil {
		errs = append(errs, fmt.Errorf("audio.sample_format %q is invalid; valid values: int16, float32", a.SampleFormat))
	}
	if a.Duration < 0 {
		errs = append(errs, fmt.Errorf("audio.duration must not be negative, got %s", a.Duration))
	}

	// Transcription
	t := cfg.Transcription
	if t.Provider.Name == "" {
		errs = append(errs, errors.New("transcription.provider.name is required"))
	}
	if t.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout must not be negative, got %s", t.Timeout))
	}
	if t.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("transcription.breaker.max_failures must not be negative, got %d", t.Breaker.MaxFailures))
	}

	// Delivery
	d := cfg.Delivery
	if d.Endpoint == "" {
		errs = append(errs, errors.New("delivery.endpoint is required"))
	} else if d.Provider.Name == "webhook" {
		if err := validateWebhookURL(d.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("delivery.endpoint: %w", err))
		}
	}
	if d.Timeout < 0 {
		errs = append(errs, fmt.Errorf("delivery.timeout must not be negative, got %s", d.Timeout))
	}

	// Journal
	j := cfg.Journal
	if !slices.Contains(journalDrivers, j.Driver) {
		errs = append(errs, fmt.Errorf("journal.driver %q is invalid; valid values: memory, sqlite, postgres", j.Driver))
	} else if j.Driver != "memory" && j.DSN == "" {
		errs = append(errs, fmt.Errorf("journal.dsn is required when driver is %s", j.Driver))
	}
	if j.Capacity < 0 {
		errs = append(errs, fmt.Errorf("journal.capacity must not be negative, got %d", j.Capacity))
	}

	// Telemetry
	switch cfg.Telemetry.TraceExporter {
	case "", "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, errors.New("telemetry.otlp_endpoint is required when trace_exporter is otlp"))
		}
	default:
		errs = append(errs, fmt.Errorf("telemetry.trace_exporter %q is invalid; valid values: none, stdout, otlp", cfg.Telemetry.TraceExporter))
	}

	// Unknown provider names only warn.
	validateProviderName("stt", t.Provider.Name)
	validateProviderName("delivery", d.Provider.Name)

	if a.Device == DeviceSilence {
		slog.Warn("audio.device is silence; recordings will contain no speech")
	}

	return errors.Join(errs...)
}

// validateWebhookURL requires an absolute http or https URL with a host.
func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

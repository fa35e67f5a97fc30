package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scribehook/internal/config"
)

// validConfig returns a config that passes [config.Validate].
func validConfig() *config.Config {
	cfg := &config.Config{
		Transcription: config.TranscriptionConfig{Provider: config.ProviderEntry{Name: "whisper"}},
		Delivery:      config.DeliveryConfig{Endpoint: "https://example.com/hook"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"log level", func(c *config.Config) { c.Server.LogLevel = "verbose" }, "server.log_level"},
		{"device", func(c *config.Config) { c.Audio.Device = "alsa" }, "audio.device"},
		{"sample rate", func(c *config.Config) { c.Audio.SampleRate = -1 }, "audio.sample_rate"},
		{"channels", func(c *config.Config) { c.Audio.Channels = -2 }, "audio.channels"},
		{"sample format", func(c *config.Config) { c.Audio.SampleFormat = "int24" }, "audio.sample_format"},
		{"negative duration", func(c *config.Config) { c.Audio.Duration = -time.Second }, "audio.duration"},
		{"no stt provider", func(c *config.Config) { c.Transcription.Provider.Name = "" }, "transcription.provider.name"},
		{"no endpoint", func(c *config.Config) { c.Delivery.Endpoint = "" }, "delivery.endpoint is required"},
		{"relative webhook", func(c *config.Config) { c.Delivery.Endpoint = "/hook" }, "http or https"},
		{"ftp webhook", func(c *config.Config) { c.Delivery.Endpoint = "ftp://example.com/x" }, "http or https"},
		{"hostless webhook", func(c *config.Config) { c.Delivery.Endpoint = "http:///x" }, "no host"},
		{"journal driver", func(c *config.Config) { c.Journal.Driver = "mysql" }, "journal.driver"},
		{"journal dsn", func(c *config.Config) { c.Journal.Driver = "postgres" }, "journal.dsn"},
		{"trace exporter", func(c *config.Config) { c.Telemetry.TraceExporter = "jaeger" }, "telemetry.trace_exporter"},
		{"otlp endpoint", func(c *config.Config) { c.Telemetry.TraceExporter = "otlp" }, "telemetry.otlp_endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_NATSSubjectIsNotAURL(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Delivery.Provider.Name = "nats"
	cfg.Delivery.Endpoint = "transcripts.tr"
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Audio.SampleRate = -1
	cfg.Delivery.Endpoint = ""
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "audio.sample_rate") || !strings.Contains(err.Error(), "delivery.endpoint") {
		t.Errorf("error %q should list both failures", err)
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Transcription.Provider.Name = "my-custom-stt"
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unknown provider should only warn, got %v", err)
	}
}

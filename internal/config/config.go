// Package config provides the configuration schema, loader, and provider registry
// for the scribehook recorder.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/scribehook/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Audio device names.
const (
	DevicePortAudio = "portaudio"
	DeviceSilence   = "silence"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	Storage       StorageConfig       `yaml:"storage"`
	Journal       JournalConfig       `yaml:"journal"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture device and format.
type AudioConfig struct {
	// Device selects the source: "portaudio" (default input device) or
	// "silence" (synthetic, for dry runs).
	Device string `yaml:"device"`

	// SampleRate in Hz. Default: 44100.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the interleaved channel count. Default: 1.
	Channels int `yaml:"channels"`

	// FramesPerBuffer is the number of samples per channel in one frame.
	// Default: 1024.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// SampleFormat is "int16" (default) or "float32".
	SampleFormat string `yaml:"sample_format"`

	// Duration stops a recording automatically. Zero means capture until
	// stopped explicitly.
	Duration time.Duration `yaml:"duration"`
}

// Format returns the capture format described by a.
func (a AudioConfig) Format() (audio.Format, error) {
	enc, err := audio.ParseEncoding(a.SampleFormat)
	if err != nil {
		return audio.Format{}, fmt.Errorf("config: %w", err)
	}
	return audio.Format{SampleRate: a.SampleRate, Channels: a.Channels, Encoding: enc}, nil
}

// TranscriptionConfig selects and tunes the speech-to-text collaborator.
type TranscriptionConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// Language is the BCP-47 recognition hint. Default: "tr-TR".
	// Hot-reloadable.
	Language string `yaml:"language"`

	// Timeout bounds one transcription call. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`

	Breaker BreakerConfig `yaml:"breaker"`

	// Placeholders replace the transcript for non-text outcomes.
	// Hot-reloadable.
	Placeholders PlaceholdersConfig `yaml:"placeholders"`
}

// BreakerConfig tunes the circuit breaker around the transcription provider.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive unavailability failures that
	// open the breaker. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// PlaceholdersConfig holds the strings persisted and delivered when no text
// was recognised. Empty fields use built-in defaults.
type PlaceholdersConfig struct {
	Inaudible   string `yaml:"inaudible"`
	Unavailable string `yaml:"unavailable"`
	// Error may contain one %s, replaced by the failure message.
	Error string `yaml:"error"`
}

// DeliveryConfig selects the delivery collaborator and target.
type DeliveryConfig struct {
	// Provider defaults to "webhook".
	Provider ProviderEntry `yaml:"provider"`

	// Endpoint is the webhook URL or NATS subject. Required. Hot-reloadable.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds one delivery attempt. Default: 15s.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig names the directories for saved artifacts.
type StorageConfig struct {
	RecordingsDir  string `yaml:"recordings_dir"`
	TranscriptsDir string `yaml:"transcripts_dir"`
}

// JournalConfig selects where finished reports are kept.
type JournalConfig struct {
	// Driver is "memory" (default), "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	// DSN is the sqlite path or postgres connection string.
	DSN string `yaml:"dsn"`

	// Capacity bounds the memory journal. Default: 100.
	Capacity int `yaml:"capacity"`
}

// TelemetryConfig configures tracing export. Metrics are always served on
// /metrics.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// TraceExporter is "none" (default), "stdout" or "otlp".
	TraceExporter string `yaml:"trace_exporter"`

	// OTLPEndpoint is the collector's host:port for the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	OTLPInsecure bool `yaml:"otlp_insecure"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "webhook").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] if it is a string, or "".
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptionBool returns Options[key] if it is a bool, or def.
func (e ProviderEntry) OptionBool(key string, def bool) bool {
	if b, ok := e.Options[key].(bool); ok {
		return b
	}
	return def
}

// OptionDuration returns Options[key] parsed as a duration string, or def.
func (e ProviderEntry) OptionDuration(key string, def time.Duration) time.Duration {
	if s, ok := e.Options[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return def
}

// OptionStringMap returns Options[key] as a string map. Non-string values
// are formatted with %v.
func (e ProviderEntry) OptionStringMap(key string) map[string]string {
	raw, ok := e.Options[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; everything else is listed
// in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	EndpointChanged bool
	NewEndpoint     string

	LanguageChanged bool
	NewLanguage     string

	PlaceholdersChanged bool
	NewPlaceholders     PlaceholdersConfig

	// RestartRequired names the top-level settings that changed but only
	// take effect after a restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.EndpointChanged || d.LanguageChanged || d.PlaceholdersChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Delivery.Endpoint != new.Delivery.Endpoint {
		d.EndpointChanged = true
		d.NewEndpoint = new.Delivery.Endpoint
	}
	if old.Transcription.Language != new.Transcription.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Transcription.Language
	}
	if old.Transcription.Placeholders != new.Transcription.Placeholders {
		d.PlaceholdersChanged = true
		d.NewPlaceholders = new.Transcription.Placeholders
	}

	restart := []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"audio", old.Audio, new.Audio},
		{"transcription.provider", old.Transcription.Provider, new.Transcription.Provider},
		{"transcription.timeout", old.Transcription.Timeout, new.Transcription.Timeout},
		{"transcription.breaker", old.Transcription.Breaker, new.Transcription.Breaker},
		{"delivery.provider", old.Delivery.Provider, new.Delivery.Provider},
		{"delivery.timeout", old.Delivery.Timeout, new.Delivery.Timeout},
		{"storage", old.Storage, new.Storage},
		{"journal", old.Journal, new.Journal},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, r := range restart {
		if !reflect.DeepEqual(r.old, r.new) {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}

	return d
}

// Apply returns a copy of base with the hot-reloadable changes in d applied.
// Restart-only settings keep their base values.
func (d ConfigDiff) Apply(base *Config) *Config {
	next := *base
	if d.LogLevelChanged {
		next.Server.LogLevel = d.NewLogLevel
	}
	if d.EndpointChanged {
		next.Delivery.Endpoint = d.NewEndpoint
	}
	if d.LanguageChanged {
		next.Transcription.Language = d.NewLanguage
	}
	if d.PlaceholdersChanged {
		next.Transcription.Placeholders = d.NewPlaceholders
	}
	return &next
}

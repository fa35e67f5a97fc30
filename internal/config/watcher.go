package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"
)

// ReloadFunc receives the effective config before and after a reload along
// with the diff between them. Only hot-reloadable fields ever differ; edits
// to restart-only settings never reach it.
type ReloadFunc func(old, new *Config, d ConfigDiff)

// Watcher polls a config file and applies its hot-reloadable settings to a
// running process.
//
// The watcher tracks two configs: the one on disk and the effective one the
// process runs with. A valid edit updates the effective config with the
// file's log level, delivery endpoint, transcription language and
// placeholders. Everything else stays as it was at startup and is reported
// by [Watcher.PendingRestart] until the process restarts.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu        sync.Mutex
	effective *Config
	pending   []string
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onReload may be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.effective, w.lastHash, w.lastMtime = cfg, hash, mtime

	go w.poll()
	return w, nil
}

// Current returns the effective config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.effective
}

// PendingRestart names the settings whose on-disk value differs from the
// running one. It is empty when the file matches what the process runs.
func (w *Watcher) PendingRestart() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.pending)
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	disk, hash, mtime, err := w.read()
	if err != nil {
		// Keep running with the last good settings.
		slog.Warn("config watcher: ignoring invalid config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.lastMtime = mtime
		w.mu.Unlock()
		return
	}
	w.lastHash, w.lastMtime = hash, mtime

	old := w.effective
	d := Diff(old, disk)
	w.pending = d.RestartRequired
	next := old
	if d.Changed() {
		next = d.Apply(old)
		w.effective = next
	}
	w.mu.Unlock()

	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: changed settings need a restart", "path", w.path, "fields", d.RestartRequired)
	}
	if !d.Changed() {
		return
	}

	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"endpoint", d.EndpointChanged,
		"language", d.LanguageChanged,
		"placeholders", d.PlaceholdersChanged,
	)
	if w.onReload != nil {
		w.onReload(old, next, Diff(old, next))
	}
}

// read loads and validates the file and returns it with its hash and mtime.
func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}

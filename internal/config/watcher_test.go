package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/scribehook/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
audio:
  device: silence
  sample_rate: 44100
transcription:
  language: tr-TR
  provider:
    name: whisper
    base_url: http://localhost:8081
delivery:
  endpoint: http://localhost:9000/hook
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// reloads collects every ReloadFunc call.
type reloads struct {
	mu    sync.Mutex
	calls []config.ConfigDiff
	olds  []*config.Config
	news  []*config.Config
	ch    chan struct{}
}

func newReloads() *reloads { return &reloads{ch: make(chan struct{}, 8)} }

func (r *reloads) fn(old, new *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.calls = append(r.calls, d)
	r.olds = append(r.olds, old)
	r.news = append(r.news, new)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *reloads) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *reloads) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
	}
}

// startWatcher writes the base config, starts a fast-polling watcher and
// returns it with the file path.
func startWatcher(t *testing.T, r *reloads) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherBaseYAML)
	w, err := config.NewWatcher(path, r.fn, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	// Let the mtime granularity pass before the first edit.
	time.Sleep(50 * time.Millisecond)
	return w, path
}

// edit rewrites the file with the base config after applying replacements
// given as old, new pairs.
func edit(t *testing.T, path string, pairs ...string) {
	t.Helper()
	writeFile(t, path, strings.NewReplacer(pairs...).Replace(watcherBaseYAML))
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, newReloads())

	cfg := w.Current()
	if cfg.Delivery.Endpoint != "http://localhost:9000/hook" || cfg.Transcription.Language != "tr-TR" {
		t.Errorf("Current() = %+v", cfg)
	}
	if p := w.PendingRestart(); len(p) != 0 {
		t.Errorf("PendingRestart() = %v; want none", p)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/config.yaml", nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_EndpointAndLanguageReload(t *testing.T) {
	t.Parallel()
	r := newReloads()
	w, path := startWatcher(t, r)

	edit(t, path,
		"localhost:9000/hook", "localhost:9000/other",
		"language: tr-TR", "language: en-US",
	)
	r.wait(t)

	r.mu.Lock()
	d, old, next := r.calls[0], r.olds[0], r.news[0]
	r.mu.Unlock()
	if !d.EndpointChanged || d.NewEndpoint != "http://localhost:9000/other" {
		t.Errorf("endpoint diff = %+v", d)
	}
	if !d.LanguageChanged || d.NewLanguage != "en-US" {
		t.Errorf("language diff = %+v", d)
	}
	if d.LogLevelChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected changes in %+v", d)
	}
	if old.Delivery.Endpoint != "http://localhost:9000/hook" {
		t.Errorf("old endpoint = %q", old.Delivery.Endpoint)
	}
	if w.Current() != next {
		t.Error("Current() is not the config passed to the callback")
	}
}

func TestWatcher_RestartOnlyChangeIsHeldBack(t *testing.T) {
	t.Parallel()
	r := newReloads()
	w, path := startWatcher(t, r)

	edit(t, path, "sample_rate: 44100", "sample_rate: 16000")

	deadline := time.Now().Add(2 * time.Second)
	for len(w.PendingRestart()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := w.PendingRestart(); !slices.Equal(got, []string{"audio"}) {
		t.Fatalf("PendingRestart() = %v; want [audio]", got)
	}
	if w.Current().Audio.SampleRate != 44100 {
		t.Errorf("effective sample rate = %d; want the running 44100", w.Current().Audio.SampleRate)
	}
	if n := r.count(); n != 0 {
		t.Errorf("reload callback fired %d times for a restart-only change", n)
	}
}

func TestWatcher_MixedChangeAppliesHotFieldsOnly(t *testing.T) {
	t.Parallel()
	r := newReloads()
	w, path := startWatcher(t, r)

	edit(t, path,
		"log_level: info", "log_level: debug",
		"sample_rate: 44100", "sample_rate: 16000",
	)
	r.wait(t)

	r.mu.Lock()
	d, next := r.calls[0], r.news[0]
	r.mu.Unlock()
	if !d.LogLevelChanged || len(d.RestartRequired) != 0 {
		t.Errorf("callback diff = %+v; want log level only", d)
	}
	if next.Server.LogLevel != config.LogDebug || next.Audio.SampleRate != 44100 {
		t.Errorf("effective = log %q, rate %d", next.Server.LogLevel, next.Audio.SampleRate)
	}
	if got := w.PendingRestart(); !slices.Equal(got, []string{"audio"}) {
		t.Errorf("PendingRestart() = %v; want [audio]", got)
	}

	// Reverting the file clears the pending restart.
	writeFile(t, path, strings.Replace(watcherBaseYAML, "log_level: info", "log_level: debug", 1))
	deadline := time.Now().Add(2 * time.Second)
	for len(w.PendingRestart()) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := w.PendingRestart(); len(got) != 0 {
		t.Errorf("PendingRestart() after revert = %v", got)
	}
}

func TestWatcher_InvalidEditKeepsRunningConfig(t *testing.T) {
	t.Parallel()
	r := newReloads()
	w, path := startWatcher(t, r)

	edit(t, path, "endpoint: http://localhost:9000/hook", "endpoint: ftp://nowhere")
	time.Sleep(200 * time.Millisecond)

	if n := r.count(); n != 0 {
		t.Errorf("reload callback fired %d times for an invalid file", n)
	}
	if got := w.Current().Delivery.Endpoint; got != "http://localhost:9000/hook" {
		t.Errorf("endpoint = %q; want the running one", got)
	}
}

func TestWatcher_CommentOnlyEditIsQuiet(t *testing.T) {
	t.Parallel()
	r := newReloads()
	w, path := startWatcher(t, r)
	before := w.Current()

	writeFile(t, path, "# edited by hand\n"+watcherBaseYAML)
	time.Sleep(200 * time.Millisecond)

	if n := r.count(); n != 0 {
		t.Errorf("reload callback fired %d times for a comment-only edit", n)
	}
	if w.Current() != before {
		t.Error("effective config replaced without a setting change")
	}
}

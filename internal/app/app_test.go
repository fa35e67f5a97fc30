package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/scribehook/internal/app"
	"github.com/MrWong99/scribehook/internal/config"
	"github.com/MrWong99/scribehook/internal/journal"
	"github.com/MrWong99/scribehook/internal/pipeline"
	"github.com/MrWong99/scribehook/pkg/audio"
	audiomock "github.com/MrWong99/scribehook/pkg/audio/mock"
	deliverymock "github.com/MrWong99/scribehook/pkg/provider/delivery/mock"
	"github.com/MrWong99/scribehook/pkg/provider/stt"
	sttmock "github.com/MrWong99/scribehook/pkg/provider/stt/mock"
)

// testConfig returns a valid config writing into a temp directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Audio: config.AudioConfig{Device: config.DeviceSilence, SampleRate: 8000},
		Transcription: config.TranscriptionConfig{
			Provider: config.ProviderEntry{Name: "mock"},
		},
		Delivery: config.DeliveryConfig{Endpoint: "http://hook.invalid/a"},
		Storage:  config.StorageConfig{RecordingsDir: dir + "/rec", TranscriptsDir: dir + "/txt"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

type appFixture struct {
	app      *app.App
	cfg      *config.Config
	source   *audiomock.Source
	stt      *sttmock.Provider
	delivery *deliverymock.Provider
	journal  *journal.Memory
	srv      *httptest.Server
}

func newApp(t *testing.T, opts ...app.Option) *appFixture {
	t.Helper()
	f := &appFixture{
		cfg:      testConfig(t),
		source:   &audiomock.Source{Lock: &audio.DeviceLock{}, Frames: speechFrames(2)},
		stt:      &sttmock.Provider{Result: stt.Result{Text: "selam"}},
		delivery: &deliverymock.Provider{},
		journal:  journal.NewMemory(10),
	}
	opts = append([]app.Option{app.WithJournal(f.journal)}, opts...)
	a, err := app.New(context.Background(), f.cfg, &app.Providers{
		STT:      f.stt,
		Delivery: f.delivery,
		Source:   f.source,
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a
	f.srv = httptest.NewServer(a.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *appFixture) post(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *appFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	_, err := app.New(context.Background(), testConfig(t), &app.Providers{STT: &sttmock.Provider{}})
	if err == nil {
		t.Fatal("expected error for missing providers")
	}
}

func TestAPI_RecordingLifecycle(t *testing.T) {
	t.Parallel()
	f := newApp(t)

	if resp := f.post(t, "/v1/recordings/start"); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d; want 202", resp.StatusCode)
	}
	if resp := f.post(t, "/v1/recordings/start"); resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d; want 409", resp.StatusCode)
	}

	status := decode[app.Status](t, f.get(t, "/v1/recordings/status"))
	if status.State != "recording" {
		t.Errorf("status.State = %q; want recording", status.State)
	}
	waitFrames(t, f.app.Controller(), 2)

	resp := f.post(t, "/v1/recordings/stop")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d; want 200", resp.StatusCode)
	}
	report := decode[pipeline.Report](t, resp)
	if report.Text != "selam" || report.Transcript.Kind != pipeline.TranscriptText {
		t.Errorf("report = %+v", report)
	}
	if report.Delivery.Kind != pipeline.DeliveryDelivered {
		t.Errorf("delivery = %v; want delivered", report.Delivery)
	}

	if resp := f.post(t, "/v1/recordings/stop"); resp.StatusCode != http.StatusConflict {
		t.Errorf("second stop status = %d; want 409", resp.StatusCode)
	}

	list := decode[struct {
		Reports []pipeline.Report `json:"reports"`
	}](t, f.get(t, "/v1/reports"))
	if len(list.Reports) != 1 || list.Reports[0].ID != report.ID {
		t.Errorf("reports = %+v; want the one report", list.Reports)
	}
}

func TestAPI_StartDeviceUnavailable(t *testing.T) {
	t.Parallel()
	f := newApp(t)
	f.source.OpenErr = fmt.Errorf("unplugged: %w", audio.ErrDeviceUnavailable)

	if resp := f.post(t, "/v1/recordings/start"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("start status = %d; want 503", resp.StatusCode)
	}
}

func TestAPI_ReportsLimit(t *testing.T) {
	t.Parallel()
	f := newApp(t)
	for i := range 3 {
		_ = f.journal.Append(context.Background(), pipeline.Report{ID: fmt.Sprint(i)})
	}

	tests := []struct {
		query      string
		wantStatus int
		wantLen    int
	}{
		{"", http.StatusOK, 3},
		{"?limit=2", http.StatusOK, 2},
		{"?limit=9999", http.StatusOK, 3},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tc := range tests {
		resp := f.get(t, "/v1/reports"+tc.query)
		if resp.StatusCode != tc.wantStatus {
			t.Errorf("%q: status = %d; want %d", tc.query, resp.StatusCode, tc.wantStatus)
			continue
		}
		if tc.wantStatus != http.StatusOK {
			continue
		}
		list := decode[struct {
			Reports []pipeline.Report `json:"reports"`
		}](t, resp)
		if len(list.Reports) != tc.wantLen {
			t.Errorf("%q: %d reports; want %d", tc.query, len(list.Reports), tc.wantLen)
		}
	}
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	f := newApp(t, app.WithMetricsHandler(metrics))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if resp := f.get(t, path); resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d; want 200", path, resp.StatusCode)
		}
	}
	if resp := f.get(t, "/healthz"); resp.Header.Get("Content-Type") != "application/json; charset=utf-8" {
		t.Errorf("healthz Content-Type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestApplyConfig_HotReload(t *testing.T) {
	t.Parallel()
	level := new(slog.LevelVar)
	f := newApp(t, app.WithLogLevel(level))

	next := *f.cfg
	next.Server.LogLevel = config.LogDebug
	next.Delivery.Endpoint = "http://hook.invalid/b"
	next.Transcription.Language = "en-US"
	f.app.ApplyConfig(f.cfg, &next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v; want debug", level.Level())
	}
	if got := f.app.Endpoint(); got != "http://hook.invalid/b" {
		t.Errorf("Endpoint() = %q", got)
	}

	// Without a configured duration the recording ends with the context.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	report, err := f.app.RecordOnce(ctx)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if report.Endpoint != "http://hook.invalid/b" {
		t.Errorf("report.Endpoint = %q; want the reloaded endpoint", report.Endpoint)
	}
	if len(f.stt.Requests) != 1 || f.stt.Requests[0].Language != "en-US" {
		t.Errorf("stt requests = %+v; want language en-US", f.stt.Requests)
	}
}

func TestRecordOnce_CancelDuringAutoStopProcessing(t *testing.T) {
	t.Parallel()
	f := newApp(t)
	f.cfg.Audio.Duration = 50 * time.Millisecond
	a, err := app.New(context.Background(), f.cfg, &app.Providers{
		STT:      f.stt,
		Delivery: f.delivery,
		Source:   f.source,
	}, app.WithJournal(f.journal))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.stt.TranscribeFunc = func(context.Context, stt.Request) (stt.Result, error) {
		time.Sleep(300 * time.Millisecond)
		return stt.Result{Text: "yavaş"}, nil
	}

	// The deadline lands while the auto-stopped run is still transcribing.
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	report, err := a.RecordOnce(ctx)
	if err != nil {
		t.Fatalf("RecordOnce: %v", err)
	}
	if report.ID == "" || report.Status() != "complete" {
		t.Fatalf("report = %+v; want a complete report", report)
	}
	if report.Text != "yavaş" || report.Delivery.Kind != pipeline.DeliveryDelivered {
		t.Errorf("text = %q, delivery = %v", report.Text, report.Delivery)
	}
}

func TestApp_ShutdownFinishesActiveRecording(t *testing.T) {
	t.Parallel()
	f := newApp(t)

	if _, err := f.app.Controller().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFrames(t, f.app.Controller(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if f.delivery.CallCount() != 1 {
		t.Errorf("deliveries = %d; want 1", f.delivery.CallCount())
	}
	reports, _ := f.journal.Recent(context.Background(), 10)
	if len(reports) != 1 {
		t.Errorf("journal has %d reports; want 1", len(reports))
	}
	if f.source.Lock.Held() {
		t.Error("device still held after shutdown")
	}
}

func TestApp_RunAndCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := newApp(t, app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.app.Run(ctx) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() = %v; want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after cancellation")
	}
}

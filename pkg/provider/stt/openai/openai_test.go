package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/scribehook/pkg/provider/stt"
)

func writeFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// newServer serves POST /audio/transcriptions with the given status and text
// and records the multipart fields it saw.
func newServer(t *testing.T, status int, text string, calls *atomic.Int32, fields map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/audio/transcriptions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err == nil && fields != nil {
			fields["model"] = r.FormValue("model")
			fields["language"] = r.FormValue("language")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "boom", "type": "server_error"}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, p.ModelID())
	}
}

func TestTranscribe_Text(t *testing.T) {
	var calls atomic.Int32
	fields := map[string]string{}
	srv := newServer(t, http.StatusOK, " iyi günler ", &calls, fields)

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/"))
	res, err := p.Transcribe(context.Background(), stt.Request{AudioPath: writeFile(t), Language: "tr-TR"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "iyi günler" {
		t.Errorf("Text = %q; want %q", res.Text, "iyi günler")
	}
	if fields["model"] != "whisper-1" || fields["language"] != "tr" {
		t.Errorf("fields = %v; want model whisper-1, language tr", fields)
	}
}

func TestTranscribe_EmptyIsNoSpeech(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, http.StatusOK, "", &calls, nil)

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/"))
	_, err := p.Transcribe(context.Background(), stt.Request{AudioPath: writeFile(t)})
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v; want ErrNoSpeech", err)
	}
}

func TestTranscribe_ServerErrorIsUnavailableWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, http.StatusInternalServerError, "", &calls, nil)

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/"))
	_, err := p.Transcribe(context.Background(), stt.Request{AudioPath: writeFile(t)})
	if !errors.Is(err, stt.ErrUnavailable) {
		t.Fatalf("err = %v; want ErrUnavailable", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls; want exactly 1", n)
	}
}

func TestTranscribe_BadRequestIsOther(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, http.StatusBadRequest, "", &calls, nil)

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/"))
	_, err := p.Transcribe(context.Background(), stt.Request{AudioPath: writeFile(t)})
	if err == nil || errors.Is(err, stt.ErrUnavailable) || errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v; want unclassified error", err)
	}
}

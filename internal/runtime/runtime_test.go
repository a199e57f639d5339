package runtime

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-piper/internal/config"
)

type staticCheck bool

func (s staticCheck) Healthy() bool { return bool(s) }

func newRuntime() *Runtime {
	return New(config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func get(t *testing.T, h http.HandlerFunc) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec.Code, rec.Body.String()
}

func TestHealthAlwaysOK(t *testing.T) {
	r := newRuntime()
	if code, _ := get(t, r.handleHealth); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestReadyReflectsChecks(t *testing.T) {
	r := newRuntime()
	if code, _ := get(t, r.handleReady); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", code)
	}

	r.ready.Store(true)
	r.checks["bus"] = staticCheck(true)
	if code, body := get(t, r.handleReady); code != http.StatusOK || body != "ready" {
		t.Fatalf("expected ready, got %d %q", code, body)
	}

	r.checks["tts"] = staticCheck(false)
	code, body := get(t, r.handleReady)
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "tts") {
		t.Fatalf("expected tts to fail readiness, got %d %q", code, body)
	}
}

func TestBuildSpeakerUsesRegistry(t *testing.T) {
	r := newRuntime()
	speaker, err := r.buildSpeaker()
	if err != nil {
		t.Fatalf("build speaker: %v", err)
	}
	if c, ok := speaker.(interface{ Close() }); ok {
		c.Close()
	}

	r.cfg.TTS.Backend = "coqui"
	if _, err := r.buildSpeaker(); err == nil {
		t.Fatal("expected unknown backend to fail")
	}
}

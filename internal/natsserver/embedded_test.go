package natsserver

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-piper/internal/config"
)

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if srv != nil {
		t.Fatal("expected nil server when embedded mode is off")
	}
	srv.Shutdown()
	if srv.ClientURL() != "" {
		t.Fatal("expected empty url for nil server")
	}
}

func TestStartEmbedded(t *testing.T) {
	cfg := config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}
	srv, err := Start(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	if !strings.HasPrefix(srv.ClientURL(), "nats://127.0.0.1:") {
		t.Fatalf("unexpected client url %q", srv.ClientURL())
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.TTS.SampleRate != 22050 {
		t.Fatalf("expected default sample rate 22050, got %d", cfg.TTS.SampleRate)
	}
	if cfg.TTS.Engine != "placeholder" {
		t.Fatalf("expected placeholder engine, got %q", cfg.TTS.Engine)
	}
	if len(cfg.TTS.ProbeCommands) != 3 {
		t.Fatalf("expected 3 probe commands, got %v", cfg.TTS.ProbeCommands)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-piper.yaml")
	data := []byte(`tts:
  engine: exec
  command: /opt/piper/piper --quiet
  model: ./models/en_US-amy-medium.onnx
  voice: amy
  sample_rate: 16000
  options:
    length_scale: "1.1"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTS.Engine != "exec" || cfg.TTS.Voice != "amy" || cfg.TTS.SampleRate != 16000 {
		t.Fatalf("unexpected tts config: %+v", cfg.TTS)
	}
	if cfg.TTS.Options["length_scale"] != "1.1" {
		t.Fatalf("expected extra options to be loaded, got %v", cfg.TTS.Options)
	}
	if cfg.TTS.Workers != 1 {
		t.Fatalf("expected default workers to survive partial file, got %d", cfg.TTS.Workers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_NODE_ID", "test-node")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_TTS_VOICE", "lessac")
	t.Setenv("LOQA_TTS_SAMPLE_RATE", "16000")
	t.Setenv("LOQA_TTS_NORMALIZE", "true")
	t.Setenv("LOQA_TTS_PROBE_COMMANDS", "piper, /usr/local/bin/piper")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.TTS.Voice != "lessac" || cfg.TTS.SampleRate != 16000 || !cfg.TTS.Normalize {
		t.Fatalf("expected tts overrides, got %+v", cfg.TTS)
	}
	if len(cfg.TTS.ProbeCommands) != 2 || cfg.TTS.ProbeCommands[1] != "/usr/local/bin/piper" {
		t.Fatalf("expected probe command override, got %v", cfg.TTS.ProbeCommands)
	}
}

func TestValidateTTS(t *testing.T) {
	base := Default().TTS

	bad := base
	bad.Engine = "espeak"
	if err := ValidateTTS(bad); err == nil {
		t.Fatal("expected unknown engine to be rejected")
	}

	bad = base
	bad.Engine = "exec"
	bad.Model = ""
	if err := ValidateTTS(bad); err == nil {
		t.Fatal("expected exec engine without model to be rejected")
	}

	bad = base
	bad.SampleRate = 0
	if err := ValidateTTS(bad); err == nil {
		t.Fatal("expected zero sample rate to be rejected")
	}

	if err := ValidateTTS(base); err != nil {
		t.Fatalf("default tts config should validate: %v", err)
	}
}

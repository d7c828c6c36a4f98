package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	def := Default()
	if cfg.Addr != def.Addr || cfg.ShutdownTimeout != def.ShutdownTimeout {
		t.Errorf("unexpected server defaults: addr=%q shutdown=%v", cfg.Addr, cfg.ShutdownTimeout)
	}
	if cfg.PublicRoomKey != def.PublicRoomKey {
		t.Errorf("expected public room %q, got %q", def.PublicRoomKey, cfg.PublicRoomKey)
	}
	if cfg.Relay.NATSSubject != def.Relay.NATSSubject {
		t.Errorf("expected nats subject %q, got %q", def.Relay.NATSSubject, cfg.Relay.NATSSubject)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "addr: \":7000\"\nhistory_limit: 10\nshutdown_timeout: 2s\nrelay:\n  driver: redis\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7000" || cfg.HistoryLimit != 10 || cfg.ShutdownTimeout != 2*time.Second {
		t.Errorf("file values not applied: addr=%q history=%d shutdown=%v", cfg.Addr, cfg.HistoryLimit, cfg.ShutdownTimeout)
	}
	if cfg.Relay.Driver != "redis" {
		t.Errorf("expected relay driver redis, got %q", cfg.Relay.Driver)
	}
	if want := Default().OutboundQueueSize; cfg.OutboundQueueSize != want {
		t.Errorf("expected default queue size %d, got %d", want, cfg.OutboundQueueSize)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("addr: \":7000\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("WIRECHAT_ADDR", ":9000")
	t.Setenv("WIRECHAT_RELAY_DRIVER", "nats")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("expected env addr, got %q", cfg.Addr)
	}
	if cfg.Relay.Driver != "nats" {
		t.Errorf("expected env relay driver, got %q", cfg.Relay.Driver)
	}
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1234", LogLevel: "debug"})

	if cfg.Addr != ":1234" || cfg.LogLevel != "debug" {
		t.Errorf("overrides not applied: addr=%q level=%q", cfg.Addr, cfg.LogLevel)
	}
	if want := Default().DatabasePath; cfg.DatabasePath != want {
		t.Errorf("zero fields must keep defaults: got %q", cfg.DatabasePath)
	}
}

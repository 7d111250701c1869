package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fansphere/realtime/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	if cfg.Addr != ":8080" {
		t.Errorf("Expected default addr ':8080', got %q", cfg.Addr)
	}
	if cfg.Session.HeartbeatInterval.Std() != 30*time.Second {
		t.Errorf("Unexpected default heartbeat %v", cfg.Session.HeartbeatInterval.Std())
	}
	if cfg.Session.BackoffGrowth != 2 {
		t.Errorf("Unexpected default backoff growth %v", cfg.Session.BackoffGrowth)
	}
	if cfg.Session.MaxAttempts != 5 {
		t.Errorf("Unexpected default max attempts %d", cfg.Session.MaxAttempts)
	}
	if cfg.Session.TypingIdle.Std() != 1500*time.Millisecond {
		t.Errorf("Unexpected default typing idle %v", cfg.Session.TypingIdle.Std())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := `
addr: ":9090"
redis_url: "redis://localhost:6379/1"
log_level: debug
session:
  heartbeat_interval: 10s
  ack_timeout: 3s
  backoff_base: 500ms
  backoff_growth: 1.5
  max_attempts: 8
  typing_idle: 2s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("Expected addr ':9090', got %q", cfg.Addr)
	}
	if cfg.RedisURL != "redis://localhost:6379/1" {
		t.Errorf("Unexpected redis url %q", cfg.RedisURL)
	}
	if cfg.Session.HeartbeatInterval.Std() != 10*time.Second {
		t.Errorf("Unexpected heartbeat %v", cfg.Session.HeartbeatInterval.Std())
	}
	if cfg.Session.AckTimeout.Std() != 3*time.Second {
		t.Errorf("Unexpected ack timeout %v", cfg.Session.AckTimeout.Std())
	}
	if cfg.Session.BackoffBase.Std() != 500*time.Millisecond {
		t.Errorf("Unexpected backoff base %v", cfg.Session.BackoffBase.Std())
	}
	if cfg.Session.MaxAttempts != 8 {
		t.Errorf("Unexpected max attempts %d", cfg.Session.MaxAttempts)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("addr: \":7000\"\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":7000" {
		t.Errorf("Expected addr ':7000', got %q", cfg.Addr)
	}
	if cfg.Session.MaxAttempts != 5 {
		t.Errorf("Partial file clobbered defaults: max attempts %d", cfg.Session.MaxAttempts)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestLoadBadDurationFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("session:\n  heartbeat_interval: soon\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Error("Expected error for unparsable duration")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FANSPHERE_ADDR", ":6000")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("FANSPHERE_LOG_LEVEL", "warn")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":6000" {
		t.Errorf("Env addr override lost, got %q", cfg.Addr)
	}
	if cfg.RedisURL != "redis://cache:6379" {
		t.Errorf("Env redis override lost, got %q", cfg.RedisURL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Env log level override lost, got %q", cfg.LogLevel)
	}
}

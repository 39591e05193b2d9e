package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homewatch.yaml")
	content := []byte(`
http_addr: ":9090"
database:
  driver: postgres
  dsn: postgres://localhost/homewatch
polling:
  status_interval: 5s
  max_backoff: 1m
health:
  failure_threshold: 4
  stale_after: 2m
alerts:
  escalate_after: 30m
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOMEWATCH_HEALTH_STALE_AFTER", "3m")
	t.Setenv("HOMEWATCH_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected yaml http addr, got %s", cfg.HTTPAddr)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected postgres driver, got %s", cfg.Database.Driver)
	}
	if cfg.Polling.StatusInterval != 5*time.Second {
		t.Fatalf("expected 5s status interval, got %s", cfg.Polling.StatusInterval)
	}
	if cfg.Polling.DataInterval != 30*time.Second {
		t.Fatalf("expected default data interval, got %s", cfg.Polling.DataInterval)
	}
	if cfg.Health.FailureThreshold != 4 {
		t.Fatalf("expected failure threshold 4, got %d", cfg.Health.FailureThreshold)
	}
	if cfg.Health.StaleAfter != 3*time.Minute {
		t.Fatalf("expected env override 3m, got %s", cfg.Health.StaleAfter)
	}
	if cfg.Alerts.EscalateAfter != 30*time.Minute {
		t.Fatalf("expected escalate after 30m, got %s", cfg.Alerts.EscalateAfter)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug log level, got %s", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("HOMEWATCH_HEALTH_FAILURE_THRESHOLD", "0")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

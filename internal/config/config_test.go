package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LLM_ANALYTICS_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.Analytics.Sensitivity != 0.5 {
		t.Fatalf("unexpected default sensitivity %v", cfg.Analytics.Sensitivity)
	}
	if cfg.Transport.BatchSize != 1000 || cfg.Transport.Consumer != "llm-analytics-hub" {
		t.Fatalf("unexpected transport defaults %+v", cfg.Transport)
	}
	if cfg.Resilience.FailureThreshold != 5 || cfg.Resilience.Timeout != 60*time.Second {
		t.Fatalf("unexpected resilience defaults %+v", cfg.Resilience)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "hub.yaml")
	body := []byte(`
transport:
  kind: nats
  partitions: 4
store:
  driver: sqlite
  dsn: rollups.db
analytics:
  sensitivity: 0.8
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LLM_ANALYTICS_NATS_URL", "nats://broker:4222")
	t.Setenv("LLM_ANALYTICS_CACHE_ENABLED", "true")
	t.Setenv("LLM_ANALYTICS_CACHE_STATS_TTL", "45s")
	t.Setenv("COSTOPS_TIMEOUT_SECS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport.Kind != "nats" || cfg.Transport.Partitions != 4 {
		t.Fatalf("yaml values not applied: %+v", cfg.Transport)
	}
	if cfg.Transport.URL != "nats://broker:4222" {
		t.Fatalf("env override not applied: %s", cfg.Transport.URL)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Analytics.Sensitivity != 0.8 {
		t.Fatalf("unexpected store/analytics: %+v %+v", cfg.Store, cfg.Analytics)
	}
	if !cfg.Cache.Enabled || cfg.Cache.StatsTTL != 45*time.Second {
		t.Fatalf("cache overrides not applied: %+v", cfg.Cache)
	}
	if cfg.Adapters.CostOps.Timeout != 7*time.Second {
		t.Fatalf("costops timeout not applied: %v", cfg.Adapters.CostOps.Timeout)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LLM_ANALYTICS_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("LLM_ANALYTICS_LOG_LEVEL", "")
	os.Unsetenv("LLM_ANALYTICS_LOG_LEVEL")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected .env to set log level, got %s", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LLM_ANALYTICS_SENSITIVITY", "1.5")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error for sensitivity")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTracingEndpointFromOTelEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LLM_ANALYTICS_CONFIG", "")
	t.Setenv("LLM_ANALYTICS_TRACING_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Endpoint != "http://collector:4317" {
		t.Fatalf("tracing overrides not applied: %+v", cfg.Tracing)
	}
	if !cfg.Tracing.Insecure {
		t.Fatalf("expected insecure export by default")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Storage.Backend != StorageFile {
		t.Errorf("expected file backend, got %s", cfg.Storage.Backend)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if len(cfg.Orchestrator.Gates) == 0 {
		t.Error("expected built-in gates by default")
	}
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
logging:
  level: "debug"
storage:
  backend: memory
orchestrator:
  gates:
    - id: smoke
      name: Smoke
      phase: testing
      threshold: 60
      can_bypass: true
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Storage.Backend != StorageMemory {
		t.Errorf("expected memory backend, got %s", cfg.Storage.Backend)
	}
	if len(cfg.Orchestrator.Gates) != 1 || cfg.Orchestrator.Gates[0].ID != "smoke" || !cfg.Orchestrator.Gates[0].CanBypass {
		t.Errorf("gates not replaced: %+v", cfg.Orchestrator.Gates)
	}
	// Unchanged fields keep defaults
	if cfg.Storage.Path != ".orchestrator/state.json" {
		t.Errorf("expected default state path, got %s", cfg.Storage.Path)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, path); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("ORCH_PORT", "7070")
	t.Setenv("ORCH_STORAGE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("ORCH_PG_MAX_CONNS", "25")
	t.Setenv("ORCH_LOG_ASYNC", "true")
	t.Setenv("ORCH_BREAKER_TIMEOUT", "1m")
	t.Setenv("NATS_URL", "nats://bus:4222")
	t.Setenv("ORCH_OTEL_SAMPLE_RATE", "0.25")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Storage.Backend != StoragePostgres {
		t.Errorf("expected postgres backend, got %s", cfg.Storage.Backend)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if !cfg.Logging.Async {
		t.Error("expected async logging")
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.NATS.URL != "nats://bus:4222" {
		t.Errorf("expected NATS URL override, got %s", cfg.NATS.URL)
	}
	if cfg.OTEL.SampleRate != 0.25 {
		t.Errorf("expected sample rate 0.25, got %v", cfg.OTEL.SampleRate)
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("ORCH_PG_MAX_CONNS", "many")
	t.Setenv("ORCH_BREAKER_TIMEOUT", "soon")
	loadEnv(&cfg)

	if cfg.Postgres.MaxConns != 5 {
		t.Errorf("invalid int should be ignored, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("invalid duration should be ignored, got %v", cfg.Breaker.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"file without path", func(c *Config) { c.Storage.Path = "" }},
		{"natskv without url", func(c *Config) { c.Storage.Backend = StorageNATSKV }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = StoragePostgres; c.Postgres.DSN = "" }},
		{"zero breaker", func(c *Config) { c.Breaker.MaxFailures = 0 }},
		{"sample rate", func(c *Config) { c.OTEL.SampleRate = 2 }},
		{"duplicate gate", func(c *Config) { c.Orchestrator.Gates = append(c.Orchestrator.Gates, c.Orchestrator.Gates[0]) }},
		{"gate threshold", func(c *Config) { c.Orchestrator.Gates[0].Threshold = 101 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadFromFullHierarchy(t *testing.T) {
	// YAML sets port=9090, env overrides to 7070. Env must win.
	yamlPath := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ORCH_PORT", "7070")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env should win over YAML, got port %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("YAML should win over defaults, got level %s", cfg.Logging.Level)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "orchestrator.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("ORCH_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ORCH_PORT")
	setString(&cfg.Server.CORSOrigin, "ORCH_CORS_ORIGIN")
	setInt64(&cfg.Server.MaxBodyBytes, "ORCH_MAX_BODY_BYTES")
	setDuration(&cfg.Server.WriteTimeout, "ORCH_WRITE_TIMEOUT")

	setString(&cfg.Logging.Level, "ORCH_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ORCH_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ORCH_LOG_ASYNC")

	setString(&cfg.Storage.Backend, "ORCH_STORAGE_BACKEND")
	setString(&cfg.Storage.Path, "ORCH_STATE_FILE")
	setString(&cfg.Storage.KVBucket, "ORCH_KV_BUCKET")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ORCH_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ORCH_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ORCH_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ORCH_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ORCH_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "ORCH_NATS_STREAM")

	setInt(&cfg.Breaker.MaxFailures, "ORCH_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ORCH_BREAKER_TIMEOUT")

	setBool(&cfg.OTEL.Enabled, "ORCH_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "ORCH_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "ORCH_OTEL_SAMPLE_RATE")

	setString(&cfg.Orchestrator.SeedFile, "ORCH_SEED_FILE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Storage.Backend {
	case StorageFile:
		if cfg.Storage.Path == "" {
			return errors.New("storage.path is required for the file backend")
		}
	case StoragePostgres:
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case StorageNATSKV:
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is required for the natskv backend")
		}
		if cfg.Storage.KVBucket == "" {
			return errors.New("storage.kv_bucket is required for the natskv backend")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of file, postgres, natskv, memory", cfg.Storage.Backend)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
	}
	seen := make(map[string]bool, len(cfg.Orchestrator.Gates))
	for _, g := range cfg.Orchestrator.Gates {
		if g.ID == "" {
			return errors.New("orchestrator.gates: gate id is required")
		}
		if seen[g.ID] {
			return fmt.Errorf("orchestrator.gates: duplicate gate id %s", g.ID)
		}
		if g.Threshold < 0 || g.Threshold > 100 {
			return fmt.Errorf("orchestrator.gates: gate %s threshold must be within [0, 100]", g.ID)
		}
		seen[g.ID] = true
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

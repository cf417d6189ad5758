package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "overseer.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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
// Only non-empty env values override the current config; unparseable or
// out-of-range numeric values keep the current value, so a bad override
// degrades to the default instead of taking down the daemon.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "OVERSEER_PORT")
	setString(&cfg.Server.CORSOrigin, "OVERSEER_CORS_ORIGIN")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "OVERSEER_PG_MAX_CONNS", 1)
	setInt32(&cfg.Postgres.MinConns, "OVERSEER_PG_MIN_CONNS", 0)
	setDuration(&cfg.Postgres.MaxConnLifetime, "OVERSEER_PG_MAX_CONN_LIFETIME", 0)
	setDuration(&cfg.Postgres.MaxConnIdleTime, "OVERSEER_PG_MAX_CONN_IDLE_TIME", 0)
	setDuration(&cfg.Postgres.HealthCheck, "OVERSEER_PG_HEALTH_CHECK", 0)

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Logging.Level, "OVERSEER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "OVERSEER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "OVERSEER_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "OVERSEER_BREAKER_MAX_FAILURES", 1)
	setDuration(&cfg.Breaker.Timeout, "OVERSEER_BREAKER_TIMEOUT", 0)

	setInt(&cfg.Bus.RingCapacity, "OVERSEER_BUS_RING_CAPACITY", 1)
	setDuration(&cfg.Bus.DedupWindow, "OVERSEER_BUS_DEDUP_WINDOW", 0)
	setDuration(&cfg.Bus.StaleThreshold, "OVERSEER_BUS_STALE_THRESHOLD", time.Second)
	setDuration(&cfg.Bus.SweepInterval, "OVERSEER_BUS_SWEEP_INTERVAL", time.Second)

	setInt(&cfg.Recovery.WorkflowRetries, "OVERSEER_RECOVERY_WORKFLOW_RETRIES", 0)
	setInt(&cfg.Recovery.SandboxRetries, "OVERSEER_RECOVERY_SANDBOX_RETRIES", 0)
	setInt(&cfg.Recovery.GenericCeiling, "OVERSEER_RECOVERY_GENERIC_CEILING", 1)
	setDuration(&cfg.Recovery.RateLimitCooldown, "OVERSEER_RECOVERY_RATE_LIMIT_COOLDOWN", 0)
	setDuration(&cfg.Recovery.TransientCooldown, "OVERSEER_RECOVERY_TRANSIENT_COOLDOWN", 0)

	setString(&cfg.Sync.Mode, "OVERSEER_SYNC_MODE")
	setString(&cfg.Sync.BoardID, "OVERSEER_SYNC_BOARD_ID")
	setDuration(&cfg.Sync.Interval, "OVERSEER_SYNC_INTERVAL", time.Second)
	setStringList(&cfg.Sync.Owners, "OVERSEER_SYNC_OWNERS")
	setString(&cfg.Sync.StateDir, "OVERSEER_STATE_DIR")
	setString(&cfg.Sync.EnforceLabel, "OVERSEER_SYNC_ENFORCE_LABEL")

	setString(&cfg.GitHub.Binary, "OVERSEER_GH_BINARY")
	setString(&cfg.GitHub.Repo, "OVERSEER_GH_REPO")
	setInt(&cfg.GitHub.MaxConcurrent, "OVERSEER_GH_MAX_CONCURRENT", 1)
	setDuration(&cfg.GitHub.Timeout, "OVERSEER_GH_TIMEOUT", 0)

	setString(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")

	setBool(&cfg.Telemetry.Enabled, "OVERSEER_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set and YAML/CLI-supplied numerics
// are in range. Env overrides never reach here out of range; loadEnv already
// discards those in favor of the current value.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Bus.RingCapacity < 1 {
		return errors.New("bus.ring_capacity must be >= 1")
	}
	if cfg.Bus.DedupWindow < 0 {
		return errors.New("bus.dedup_window must be >= 0")
	}
	if cfg.Recovery.GenericCeiling < 1 {
		return errors.New("recovery.generic_ceiling must be >= 1")
	}
	if cfg.Sync.Interval < time.Second {
		return errors.New("sync.interval must be >= 1s")
	}
	switch cfg.Sync.Mode {
	case "issues", "kanban":
	default:
		return fmt.Errorf("sync.mode must be issues or kanban, got %q", cfg.Sync.Mode)
	}
	if cfg.GitHub.MaxConcurrent < 1 {
		return errors.New("github.max_concurrent must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

func setInt(dst *int, key string, min int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= min {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string, min int32) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil && int32(n) >= min {
			*dst = int32(n)
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

func setDuration(dst *time.Duration, key string, min time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= min {
			*dst = d
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8088" {
		t.Errorf("expected port 8088, got %s", cfg.Server.Port)
	}
	if cfg.Bus.DedupWindow != 500*time.Millisecond {
		t.Errorf("expected dedup window 500ms, got %v", cfg.Bus.DedupWindow)
	}
	if cfg.Recovery.WorkflowRetries != 2 {
		t.Errorf("expected workflow retries 2, got %d", cfg.Recovery.WorkflowRetries)
	}
	if cfg.Sync.Mode != "issues" {
		t.Errorf("expected default sync mode issues, got %s", cfg.Sync.Mode)
	}
	if cfg.Sync.BoardID != "" {
		t.Errorf("board id should default to unset, got %q", cfg.Sync.BoardID)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
bus:
  stale_threshold: 2m
sync:
  mode: "kanban"
  board_id: "PVT_1"
logging:
  level: "debug"
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
	if cfg.Bus.StaleThreshold != 2*time.Minute {
		t.Errorf("expected stale threshold 2m, got %v", cfg.Bus.StaleThreshold)
	}
	if cfg.Sync.Mode != "kanban" || cfg.Sync.BoardID != "PVT_1" {
		t.Errorf("sync overrides lost: %+v", cfg.Sync)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("OVERSEER_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("OVERSEER_BUS_DEDUP_WINDOW", "250ms")
	t.Setenv("OVERSEER_RECOVERY_GENERIC_CEILING", "5")
	t.Setenv("OVERSEER_SYNC_MODE", "kanban")
	t.Setenv("OVERSEER_SYNC_OWNERS", "acme, acme-org")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Bus.DedupWindow != 250*time.Millisecond {
		t.Errorf("expected dedup window 250ms, got %v", cfg.Bus.DedupWindow)
	}
	if cfg.Recovery.GenericCeiling != 5 {
		t.Errorf("expected generic ceiling 5, got %d", cfg.Recovery.GenericCeiling)
	}
	if cfg.Sync.Mode != "kanban" {
		t.Errorf("expected sync mode kanban, got %s", cfg.Sync.Mode)
	}
	if len(cfg.Sync.Owners) != 2 || cfg.Sync.Owners[1] != "acme-org" {
		t.Errorf("owner list not parsed: %v", cfg.Sync.Owners)
	}
}

func TestEnvOverride_BadNumericKeepsCurrent(t *testing.T) {
	cfg := Defaults()

	t.Setenv("OVERSEER_BUS_RING_CAPACITY", "not-a-number")
	t.Setenv("OVERSEER_BUS_DEDUP_WINDOW", "soon")

	loadEnv(&cfg)

	if cfg.Bus.RingCapacity != 500 {
		t.Errorf("unparseable int must keep the default, got %d", cfg.Bus.RingCapacity)
	}
	if cfg.Bus.DedupWindow != 500*time.Millisecond {
		t.Errorf("unparseable duration must keep the default, got %v", cfg.Bus.DedupWindow)
	}
}

func TestEnvOverride_OutOfRangeKeepsCurrent(t *testing.T) {
	t.Setenv("OVERSEER_BUS_RING_CAPACITY", "-5")
	t.Setenv("OVERSEER_BREAKER_MAX_FAILURES", "0")
	t.Setenv("OVERSEER_SYNC_INTERVAL", "10ms")
	t.Setenv("OVERSEER_BUS_DEDUP_WINDOW", "-1s")

	cfg, err := LoadFrom("/nonexistent/path.yaml")
	if err != nil {
		t.Fatalf("out-of-range env override must not fail startup, got %v", err)
	}

	if cfg.Bus.RingCapacity != 500 {
		t.Errorf("negative ring capacity must keep the default 500, got %d", cfg.Bus.RingCapacity)
	}
	if cfg.Breaker.MaxFailures != 5 {
		t.Errorf("zero max failures must keep the default 5, got %d", cfg.Breaker.MaxFailures)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("sub-second sync interval must keep the default 30s, got %v", cfg.Sync.Interval)
	}
	if cfg.Bus.DedupWindow != 500*time.Millisecond {
		t.Errorf("negative dedup window must keep the default 500ms, got %v", cfg.Bus.DedupWindow)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "zero ring capacity",
			modify: func(c *Config) { c.Bus.RingCapacity = 0 },
			errMsg: "bus.ring_capacity must be >= 1",
		},
		{
			name:   "zero generic ceiling",
			modify: func(c *Config) { c.Recovery.GenericCeiling = 0 },
			errMsg: "recovery.generic_ceiling must be >= 1",
		},
		{
			name:   "bogus sync mode",
			modify: func(c *Config) { c.Sync.Mode = "bogus" },
			errMsg: `sync.mode must be issues or kanban, got "bogus"`,
		},
		{
			name:   "zero gh concurrency",
			modify: func(c *Config) { c.GitHub.MaxConcurrent = 0 },
			errMsg: "github.max_concurrent must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	// Unset flags remain nil
	if flags.DSN != nil {
		t.Errorf("expected nil DSN, got %v", *flags.DSN)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	_, err := ParseFlags([]string{"--unknown-flag"})
	if err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	// CLI flags must win over ENV.
	t.Setenv("OVERSEER_PORT", "7070")
	t.Setenv("OVERSEER_SYNC_MODE", "issues")

	flags, err := ParseFlags([]string{"--port", "3333", "--sync-mode", "kanban"})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.Sync.Mode != "kanban" {
		t.Errorf("expected CLI sync-mode kanban to override ENV issues, got %s", cfg.Sync.Mode)
	}
}

func TestLoadWithCLICustomConfig(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "custom.yaml")
	content := `
server:
  port: "5555"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	flags, err := ParseFlags([]string{"--config", yamlPath})
	if err != nil {
		t.Fatal(err)
	}

	cfg, resolvedPath, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if resolvedPath != yamlPath {
		t.Errorf("expected resolved path %s, got %s", yamlPath, resolvedPath)
	}
	if cfg.Server.Port != "5555" {
		t.Errorf("expected port 5555 from custom YAML, got %s", cfg.Server.Port)
	}
}

package config

import (
	"flag"
	"fmt"
)

// CLIFlags holds command-line overrides. Nil pointers mean "not set on the
// command line" so unset flags never clobber YAML/env values.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
	SyncMode   *string
	BoardID    *string
}

// ParseFlags parses command-line arguments into CLIFlags.
// Flags not present on the command line stay nil.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("overseer", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.String("port", "", "HTTP server port")
	fs.StringVar(port, "p", "", "HTTP server port (shorthand)")
	logLevel := fs.String("log-level", "", "log level (debug|info|warn|error)")
	dsn := fs.String("dsn", "", "PostgreSQL DSN")
	natsURL := fs.String("nats-url", "", "NATS server URL")
	syncMode := fs.String("sync-mode", "", "board sync mode (issues|kanban)")
	boardID := fs.String("board-id", "", "project board identifier")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var flags CLIFlags
	if *configPath != "" {
		flags.ConfigPath = configPath
	}
	if *port != "" {
		flags.Port = port
	}
	if *logLevel != "" {
		flags.LogLevel = logLevel
	}
	if *dsn != "" {
		flags.DSN = dsn
	}
	if *natsURL != "" {
		flags.NatsURL = natsURL
	}
	if *syncMode != "" {
		flags.SyncMode = syncMode
	}
	if *boardID != "" {
		flags.BoardID = boardID
	}
	return flags, nil
}

// LoadWithCLI returns a Config using the hierarchy:
// defaults < YAML < ENV < CLI. Also returns the resolved YAML path.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	yamlPath := DefaultConfigFile
	if flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, yamlPath, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, yamlPath, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, yamlPath, nil
}

// applyCLI overlays non-nil CLI flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
	if flags.SyncMode != nil {
		cfg.Sync.Mode = *flags.SyncMode
	}
	if flags.BoardID != nil {
		cfg.Sync.BoardID = *flags.BoardID
	}
}

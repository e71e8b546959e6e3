package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stupiduntilnot/msgflux/internal/control"
	"github.com/stupiduntilnot/msgflux/internal/exporter"
	"github.com/stupiduntilnot/msgflux/internal/logging"
)

// Config holds process configuration read from the environment.
type Config struct {
	DBPath             string
	LogLevel           string
	LogFormat          string
	PermissionsFile    string
	Exporter           string
	MaxSteps           int
	MaxWallTimeSeconds int
	MaxRetries         int
	WatchPermissions   bool
}

// Load reads configuration from MSGFLUX_* environment variables.
func Load() (Config, error) {
	maxSteps, err := envIntOrDefault("MSGFLUX_MAX_STEPS", 64)
	if err != nil {
		return Config{}, err
	}
	wallTime, err := envIntOrDefault("MSGFLUX_MAX_WALL_TIME_SECONDS", 120)
	if err != nil {
		return Config{}, err
	}
	maxRetries, err := envIntOrDefault("MSGFLUX_MAX_RETRIES", 2)
	if err != nil {
		return Config{}, err
	}
	watch, err := envBoolOrDefault("MSGFLUX_WATCH_PERMISSIONS", false)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:             envOrDefault("MSGFLUX_DB_PATH", "./msgflux.db"),
		LogLevel:           strings.ToLower(envOrDefault("MSGFLUX_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(envOrDefault("MSGFLUX_LOG_FORMAT", logging.FormatConsole)),
		PermissionsFile:    envOrDefault("MSGFLUX_PERMISSIONS_FILE", ""),
		Exporter:           strings.ToLower(envOrDefault("MSGFLUX_EXPORTER", exporter.NameLog)),
		MaxSteps:           maxSteps,
		MaxWallTimeSeconds: wallTime,
		MaxRetries:         maxRetries,
		WatchPermissions:   watch,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("MSGFLUX_LOG_LEVEL must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("MSGFLUX_LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	switch c.Exporter {
	case exporter.NameLog, exporter.NameSQLite, exporter.NameNone:
	default:
		return fmt.Errorf("MSGFLUX_EXPORTER must be one of log|sqlite|none, got %q", c.Exporter)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("MSGFLUX_DB_PATH must not be blank")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("MSGFLUX_MAX_STEPS must be > 0")
	}
	if c.MaxWallTimeSeconds <= 0 {
		return fmt.Errorf("MSGFLUX_MAX_WALL_TIME_SECONDS must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MSGFLUX_MAX_RETRIES must be >= 0")
	}
	if c.WatchPermissions && c.PermissionsFile == "" {
		return fmt.Errorf("MSGFLUX_WATCH_PERMISSIONS requires MSGFLUX_PERMISSIONS_FILE")
	}
	return nil
}

// Policy converts the run limits into a control policy.
func (c Config) Policy() control.Policy {
	return control.Policy{
		MaxSteps:    c.MaxSteps,
		MaxWallTime: time.Duration(c.MaxWallTimeSeconds) * time.Second,
		MaxRetries:  c.MaxRetries,
	}
}

func (c Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envBoolOrDefault(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
}

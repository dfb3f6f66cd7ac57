// Package config holds OPERATOR-LEVEL configuration for a Lodestar installation.
//
// This is infrastructure config set by the admin who deploys Lodestar,
// NOT per-workspace configuration. The boundary is:
//
//   - Operator config (this package): data directory, listen address,
//     capture quotas, sweep schedule, log settings. Set via env vars
//     (LODESTAR_*) or config file (lodestar.config.yaml).
//
//   - Workspace config: scoring preset, custom source weights, recency
//     bands, target segments. Stored per workspace in the workspace
//     store (internal/workspace) and managed via the HTTP API or a
//     settings YAML import.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the LODESTAR_ prefix
// (e.g. "listen_addr" → LODESTAR_LISTEN_ADDR) and to a YAML field
// in lodestar.config.yaml (e.g. listen_addr: "...").
const (
	KeyDataDir         = "data_dir"
	KeyListenAddr      = "listen_addr"
	KeyAPIKey          = "api_key"
	KeyDefaultPreset   = "default_preset"
	KeyCaptureRPS      = "capture_rps"
	KeyCaptureBurst    = "capture_burst"
	KeyDailyQuota      = "daily_capture_quota"
	KeySweepSchedule   = "sweep_schedule"
	KeyOTelEnabled     = "otel_enabled"
	KeyLogLevel        = "log_level"
)

const (
	DefaultListenAddr    = ":8475"
	DefaultPreset        = "default"
	DefaultCaptureRPS    = 5.0
	DefaultCaptureBurst  = 20
	DefaultDailyQuota    = 500
	DefaultSweepSchedule = "0 6 * * *" // daily, 06:00
	DefaultLogLevel      = "info"
)

// Config holds resolved operator-level configuration for a Lodestar process.
type Config struct {
	DataDir       string  // Base directory for all state (~/.lodestar)
	ListenAddr    string  // HTTP listen address
	APIKey        string  // Shared API key; empty disables auth (dev only)
	DefaultPreset string  // Weight preset applied to new workspaces
	CaptureRPS    float64 // Sustained evidence captures per second per workspace
	CaptureBurst  int     // Burst allowance for capture rate limiting
	DailyQuota    int     // Max evidence captures per workspace per UTC day (0 = unlimited)
	SweepSchedule string  // Cron expression for the decay monitor sweep
	OTelEnabled   bool    // Emit traces/metrics via stdout exporters
	LogLevel      string  // zerolog level: trace, debug, info, warn, error
}

// DBPath returns the full path to the Lodestar SQLite database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "lodestar.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func init() {
	viper.SetEnvPrefix("LODESTAR")
	viper.AutomaticEnv()
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyDefaultPreset, DefaultPreset)
	viper.SetDefault(KeyCaptureRPS, DefaultCaptureRPS)
	viper.SetDefault(KeyCaptureBurst, DefaultCaptureBurst)
	viper.SetDefault(KeyDailyQuota, DefaultDailyQuota)
	viper.SetDefault(KeySweepSchedule, DefaultSweepSchedule)
	viper.SetDefault(KeyLogLevel, DefaultLogLevel)
}

// Load reads configuration from Viper (which merges env vars, config
// file, and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:       resolveDataDir(),
		ListenAddr:    viper.GetString(KeyListenAddr),
		APIKey:        viper.GetString(KeyAPIKey),
		DefaultPreset: viper.GetString(KeyDefaultPreset),
		CaptureRPS:    viper.GetFloat64(KeyCaptureRPS),
		CaptureBurst:  viper.GetInt(KeyCaptureBurst),
		DailyQuota:    viper.GetInt(KeyDailyQuota),
		SweepSchedule: viper.GetString(KeySweepSchedule),
		OTelEnabled:   viper.GetBool(KeyOTelEnabled),
		LogLevel:      viper.GetString(KeyLogLevel),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lodestar"
	}
	return filepath.Join(home, ".lodestar")
}

func (c *Config) validate() error {
	if c.CaptureRPS <= 0 {
		return fmt.Errorf("capture_rps must be positive")
	}
	if c.CaptureBurst <= 0 {
		return fmt.Errorf("capture_burst must be positive")
	}
	if c.DailyQuota < 0 {
		return fmt.Errorf("daily_capture_quota must not be negative")
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of trace, debug, info, warn, error (got %q)", c.LogLevel)
	}
	return nil
}

// Package config loads the wallet's config.yaml with environment overrides.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	defaultDesignBps         = 3000
	defaultImplementationBps = 5000
	defaultFinalBps          = 2000
)

// EscrowConfig controls the default milestone schedule and bid housekeeping.
type EscrowConfig struct {
	// Default milestone shares in basis points; must sum to 10000. Per-task
	// overrides still apply.
	DesignBps         int `yaml:"design_bps"`
	ImplementationBps int `yaml:"implementation_bps"`
	FinalBps          int `yaml:"final_bps"`

	// BidTTLMinutes is how long a pending bid stays valid before the sweeper
	// expires it. 0 disables expiry.
	BidTTLMinutes int `yaml:"bid_ttl_minutes"`

	// SweepSchedule is a five-field cron expression for the bid sweeper.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// LedgerConfig tunes the retry wrapper around the external ledger.
type LedgerConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	RetryBaseMS  int `yaml:"retry_base_ms"`
	RetryMaxMS   int `yaml:"retry_max_ms"`
}

// MetricsConfig controls the OpenTelemetry export.
type MetricsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ServiceName     string `yaml:"service_name"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	Escrow  EscrowConfig  `yaml:"escrow"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Metrics MetricsConfig `yaml:"metrics"`

	// NeedsGenesis is set when no config.yaml existed yet.
	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "db=%s|log=%s|bps=%d/%d/%d|ttl=%d|sweep=%s",
		c.DBPath, c.LogLevel,
		c.Escrow.DesignBps, c.Escrow.ImplementationBps, c.Escrow.FinalBps,
		c.Escrow.BidTTLMinutes, c.Escrow.SweepSchedule)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Escrow: EscrowConfig{
			DesignBps:         defaultDesignBps,
			ImplementationBps: defaultImplementationBps,
			FinalBps:          defaultFinalBps,
			BidTTLMinutes:     7 * 24 * 60,
			SweepSchedule:     "0 * * * *",
		},
		Ledger: LedgerConfig{
			MaxAttempts: 3,
			RetryBaseMS: 100,
			RetryMaxMS:  2000,
		},
		Metrics: MetricsConfig{
			Enabled:         false,
			ServiceName:     "xzwallet",
			IntervalSeconds: 60,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("XZWALLET_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".xzwallet")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create xzwallet home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := normalize(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XZWALLET_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("XZWALLET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("XZWALLET_BID_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Escrow.BidTTLMinutes = n
		}
	}
	if v := os.Getenv("XZWALLET_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "1" || v == "true"
	}
}

func normalize(cfg *Config) error {
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "xzwallet.db")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	e := &cfg.Escrow
	if e.DesignBps == 0 && e.ImplementationBps == 0 && e.FinalBps == 0 {
		e.DesignBps = defaultDesignBps
		e.ImplementationBps = defaultImplementationBps
		e.FinalBps = defaultFinalBps
	}
	if e.DesignBps <= 0 || e.ImplementationBps <= 0 || e.FinalBps <= 0 {
		return fmt.Errorf("escrow shares must be positive, got %d/%d/%d",
			e.DesignBps, e.ImplementationBps, e.FinalBps)
	}
	if sum := e.DesignBps + e.ImplementationBps + e.FinalBps; sum != 10000 {
		return fmt.Errorf("escrow shares must sum to 10000 basis points, got %d", sum)
	}
	if e.SweepSchedule == "" {
		e.SweepSchedule = "0 * * * *"
	}
	if cfg.Ledger.MaxAttempts <= 0 {
		cfg.Ledger.MaxAttempts = 3
	}
	if cfg.Ledger.RetryBaseMS <= 0 {
		cfg.Ledger.RetryBaseMS = 100
	}
	if cfg.Ledger.RetryMaxMS < cfg.Ledger.RetryBaseMS {
		cfg.Ledger.RetryMaxMS = 2000
	}
	if cfg.Metrics.IntervalSeconds <= 0 {
		cfg.Metrics.IntervalSeconds = 60
	}
	return nil
}

// Save writes the config back to config.yaml, preserving unknown keys.
func Save(homeDir string, cfg Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(ConfigPath(homeDir), out, 0o644)
}

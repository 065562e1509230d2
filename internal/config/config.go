// Package config holds the runtime settings for the healing subsystem
// and their YAML file form.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stableagents/sentinel/internal/types"
)

// Config is the full runtime configuration. Zero values are invalid;
// start from Default() and override.
type Config struct {
	// AutoRecovery enables automatic execution of recovery plans.
	// Off by default so embedding applications opt in.
	AutoRecovery bool `yaml:"auto_recovery"`

	// MinSeverityForRecovery is the lowest severity that triggers a plan.
	MinSeverityForRecovery types.Severity `yaml:"min_severity_for_recovery"`

	// MonitoringInterval is the delay between health check cycles.
	MonitoringInterval time.Duration `yaml:"monitoring_interval"`

	// MaxAttemptsPerIssue bounds recovery plans per issue before the
	// issue is marked failed.
	MaxAttemptsPerIssue int `yaml:"max_attempts_per_issue"`

	// ActionTimeout bounds each recovery action and verification check.
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		AutoRecovery:           false,
		MinSeverityForRecovery: types.SeverityMedium,
		MonitoringInterval:     10 * time.Second,
		MaxAttemptsPerIssue:    3,
		ActionTimeout:          5 * time.Second,
	}
}

// Validate rejects configurations that would wedge the subsystem.
func (c Config) Validate() error {
	if !c.MinSeverityForRecovery.IsValid() {
		return fmt.Errorf("invalid min_severity_for_recovery: %d", c.MinSeverityForRecovery)
	}
	if c.MonitoringInterval <= 0 {
		return fmt.Errorf("monitoring_interval must be positive, got %s", c.MonitoringInterval)
	}
	if c.MaxAttemptsPerIssue < 1 {
		return fmt.Errorf("max_attempts_per_issue must be at least 1, got %d", c.MaxAttemptsPerIssue)
	}
	if c.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be positive, got %s", c.ActionTimeout)
	}
	return nil
}

// Load reads a YAML config file, layering it over the defaults.
// Durations use Go syntax ("30s", "2m"). A missing file is an error;
// callers that treat the file as optional should stat it first.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg := Default()
	if err := file.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// fileConfig is the on-disk shape. Pointer fields distinguish "absent"
// from zero so a partial file only overrides what it names.
type fileConfig struct {
	AutoRecovery           *bool   `yaml:"auto_recovery"`
	MinSeverityForRecovery *string `yaml:"min_severity_for_recovery"`
	MonitoringInterval     *string `yaml:"monitoring_interval"`
	MaxAttemptsPerIssue    *int    `yaml:"max_attempts_per_issue"`
	ActionTimeout          *string `yaml:"action_timeout"`
}

func (f fileConfig) apply(cfg *Config) error {
	if f.AutoRecovery != nil {
		cfg.AutoRecovery = *f.AutoRecovery
	}
	if f.MinSeverityForRecovery != nil {
		sev, err := types.ParseSeverity(*f.MinSeverityForRecovery)
		if err != nil {
			return err
		}
		cfg.MinSeverityForRecovery = sev
	}
	if f.MonitoringInterval != nil {
		d, err := time.ParseDuration(*f.MonitoringInterval)
		if err != nil {
			return fmt.Errorf("monitoring_interval: %w", err)
		}
		cfg.MonitoringInterval = d
	}
	if f.MaxAttemptsPerIssue != nil {
		cfg.MaxAttemptsPerIssue = *f.MaxAttemptsPerIssue
	}
	if f.ActionTimeout != nil {
		d, err := time.ParseDuration(*f.ActionTimeout)
		if err != nil {
			return fmt.Errorf("action_timeout: %w", err)
		}
		cfg.ActionTimeout = d
	}
	return nil
}

// Update is a partial configuration change applied at runtime. Nil
// fields leave the current value untouched.
type Update struct {
	AutoRecovery           *bool
	MinSeverityForRecovery *types.Severity
	MonitoringInterval     *time.Duration
	MaxAttemptsPerIssue    *int
	ActionTimeout          *time.Duration
}

// Apply merges the update into cfg and validates the result.
func (u Update) Apply(cfg Config) (Config, error) {
	if u.AutoRecovery != nil {
		cfg.AutoRecovery = *u.AutoRecovery
	}
	if u.MinSeverityForRecovery != nil {
		cfg.MinSeverityForRecovery = *u.MinSeverityForRecovery
	}
	if u.MonitoringInterval != nil {
		cfg.MonitoringInterval = *u.MonitoringInterval
	}
	if u.MaxAttemptsPerIssue != nil {
		cfg.MaxAttemptsPerIssue = *u.MaxAttemptsPerIssue
	}
	if u.ActionTimeout != nil {
		cfg.ActionTimeout = *u.ActionTimeout
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

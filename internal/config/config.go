// Package config loads recur's settings from a YAML file with viper.
//
// A missing file is not an error: every key has a default. Environment
// variables prefixed RECUR_ override file values (RECUR_SNOOZE_MINUTES=5).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/streak"
)

// Config is the top-level application configuration.
type Config struct {
	// Database is the SQLite file path.
	Database string `mapstructure:"database" yaml:"database"`

	// Timezone is the IANA zone whose midnights bound days ("" means UTC).
	Timezone string `mapstructure:"timezone" yaml:"timezone"`

	// SnoozeMinutes is how far a snooze pushes a reminder out.
	SnoozeMinutes int `mapstructure:"snooze_minutes" yaml:"snooze_minutes"`

	// SweepInterval is how often serve replenishes pending recurrences.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// DailySweepTime is the local "HH:MM" of the guaranteed daily sweep.
	DailySweepTime string `mapstructure:"daily_sweep_time" yaml:"daily_sweep_time"`

	// CascadeCompletion selects the cascading completion strategy.
	CascadeCompletion bool `mapstructure:"cascade_completion" yaml:"cascade_completion"`

	// GraceReasons maps a skip reason to the days it excuses after the skip.
	GraceReasons map[string]int `mapstructure:"grace_reasons" yaml:"grace_reasons"`

	// MetricsAddr is the listen address of the /metrics endpoint; empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// DefaultPath returns ~/.config/recur/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "recur", "config.yaml")
}

func defaultDatabase() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recur.db"
	}
	return filepath.Join(home, ".local", "share", "recur", "recur.db")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database:       defaultDatabase(),
		SnoozeMinutes:  10,
		SweepInterval:  15 * time.Minute,
		DailySweepTime: "00:05",
		GraceReasons:   map[string]int{},
		MetricsAddr:    "127.0.0.1:9464",
	}
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("recur")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("database", d.Database)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("snooze_minutes", d.SnoozeMinutes)
	v.SetDefault("sweep_interval", d.SweepInterval)
	v.SetDefault("daily_sweep_time", d.DailySweepTime)
	v.SetDefault("cascade_completion", d.CascadeCompletion)
	v.SetDefault("grace_reasons", d.GraceReasons)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	return v
}

// Load reads the YAML file at path. A missing file yields the defaults
// (plus any environment overrides).
func Load(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("database", cfg.Database)
	v.Set("timezone", cfg.Timezone)
	v.Set("snooze_minutes", cfg.SnoozeMinutes)
	v.Set("sweep_interval", cfg.SweepInterval.String())
	v.Set("daily_sweep_time", cfg.DailySweepTime)
	v.Set("cascade_completion", cfg.CascadeCompletion)
	v.Set("grace_reasons", cfg.GraceReasons)
	v.Set("metrics_addr", cfg.MetricsAddr)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	if c.SnoozeMinutes <= 0 {
		return fmt.Errorf("snooze_minutes must be positive, got %d", c.SnoozeMinutes)
	}
	if c.SweepInterval < time.Second {
		return fmt.Errorf("sweep_interval must be at least 1s, got %s", c.SweepInterval)
	}
	if _, _, err := c.DailySweep(); err != nil {
		return err
	}
	if _, err := c.Calendar(); err != nil {
		return err
	}
	for reason, days := range c.GraceReasons {
		if days < 0 {
			return fmt.Errorf("grace_reasons[%s] must not be negative, got %d", reason, days)
		}
	}
	return nil
}

// Calendar returns the calendar for Timezone.
func (c *Config) Calendar() (calendar.Calendar, error) {
	return calendar.Load(c.Timezone)
}

// Snooze returns SnoozeMinutes as a duration.
func (c *Config) Snooze() time.Duration {
	return time.Duration(c.SnoozeMinutes) * time.Minute
}

// DailySweep parses DailySweepTime into hour and minute.
func (c *Config) DailySweep() (hour, minute int, err error) {
	t, err := time.Parse("15:04", c.DailySweepTime)
	if err != nil {
		return 0, 0, fmt.Errorf("daily_sweep_time %q: want HH:MM", c.DailySweepTime)
	}
	return t.Hour(), t.Minute(), nil
}

// Grace returns the skip grace policy.
func (c *Config) Grace() streak.GracePolicy {
	return streak.NewGracePolicy(c.GraceReasons)
}

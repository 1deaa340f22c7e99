package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/faultgate/internal/breaker"
	"github.com/loykin/faultgate/internal/health"
	"github.com/loykin/faultgate/internal/store"
	"github.com/loykin/faultgate/internal/supervisor"
	"github.com/loykin/faultgate/internal/timeout"
)

// Config is the top-level TOML structure for the faultgate daemon.
type Config struct {
	Store    StoreConfig     `toml:"store" mapstructure:"store"`
	Breaker  BreakerConfig   `toml:"breaker" mapstructure:"breaker"`
	Health   HealthConfig    `toml:"health" mapstructure:"health"`
	Timeouts TimeoutConfig   `toml:"timeouts" mapstructure:"timeouts"`
	Server   ServerConfig    `toml:"server" mapstructure:"server"`
	Log      LogConfig       `toml:"log" mapstructure:"log"`
	Archives []ArchiveConfig `toml:"archives" mapstructure:"archives"`
}

type StoreConfig struct {
	Type string `toml:"type" mapstructure:"type"`
	Path string `toml:"path" mapstructure:"path"`
	DSN  string `toml:"dsn" mapstructure:"dsn"`
}

type BreakerConfig struct {
	FailureThreshold  int           `toml:"failure_threshold" mapstructure:"failure_threshold"`
	FailureWindow     time.Duration `toml:"failure_window" mapstructure:"failure_window"`
	OpenDuration      time.Duration `toml:"open_duration" mapstructure:"open_duration"`
	RecoveryThreshold int           `toml:"recovery_threshold" mapstructure:"recovery_threshold"`
	ExemptCategories  []string      `toml:"exempt_categories" mapstructure:"exempt_categories"`
}

type HealthConfig struct {
	Interval         time.Duration `toml:"interval" mapstructure:"interval"`
	DegradedInterval time.Duration `toml:"degraded_interval" mapstructure:"degraded_interval"`
	ProbeTimeout     time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	// ProbeCommand is the cheap external probe the daemon runs, e.g. a
	// version query against the protected subsystem. Embedding
	// applications inject their own ProbeFunc instead.
	ProbeCommand string `toml:"probe_command" mapstructure:"probe_command"`
}

type TimeoutConfig struct {
	Adaptive  bool                     `toml:"adaptive" mapstructure:"adaptive"`
	Baselines map[string]time.Duration `toml:"baselines" mapstructure:"baselines"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	Metrics  bool   `toml:"metrics" mapstructure:"metrics"`
}

type LogConfig struct {
	File       string `toml:"file" mapstructure:"file"`
	Level      string `toml:"level" mapstructure:"level"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ArchiveConfig struct {
	Type  string `toml:"type" mapstructure:"type"` // "clickhouse" or "opensearch"
	DSN   string `toml:"dsn" mapstructure:"dsn"`
	Table string `toml:"table" mapstructure:"table"` // clickhouse table / opensearch index
}

// Default returns the stock configuration.
func Default() Config {
	bd := breaker.DefaultConfig()
	hd := health.DefaultConfig()
	return Config{
		Store: StoreConfig{Type: "sqlite", Path: "faultgate.db"},
		Breaker: BreakerConfig{
			FailureThreshold:  bd.FailureThreshold,
			FailureWindow:     bd.FailureWindow,
			OpenDuration:      bd.OpenDuration,
			RecoveryThreshold: bd.RecoveryThreshold,
			ExemptCategories:  []string{string(timeout.Diagnostic)},
		},
		Health: HealthConfig{
			Interval:         hd.Interval,
			DegradedInterval: hd.DegradedInterval,
			ProbeTimeout:     hd.ProbeTimeout,
		},
		Timeouts: TimeoutConfig{Adaptive: true},
		Server:   ServerConfig{Listen: ":8420", BasePath: "/api", Metrics: true},
	}
}

// Load reads a TOML config file and merges it over Default.
func Load(path string) (Config, error) {
	cfg := Default()
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the supervisor cannot honor.
func (c Config) Validate() error {
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.RecoveryThreshold <= 0 {
		return fmt.Errorf("breaker thresholds must be positive")
	}
	if c.Breaker.FailureWindow <= 0 || c.Breaker.OpenDuration <= 0 {
		return fmt.Errorf("breaker durations must be positive")
	}
	if c.Health.Interval <= 0 || c.Health.DegradedInterval <= 0 {
		return fmt.Errorf("health intervals must be positive")
	}
	for name, d := range c.Timeouts.Baselines {
		if !timeout.Category(name).Valid() {
			return fmt.Errorf("unknown timeout category %q", name)
		}
		if d <= 0 {
			return fmt.Errorf("baseline for %q must be positive", name)
		}
	}
	for _, cat := range c.Breaker.ExemptCategories {
		if !timeout.Category(cat).Valid() {
			return fmt.Errorf("unknown exempt category %q", cat)
		}
	}
	for _, a := range c.Archives {
		switch a.Type {
		case "clickhouse", "opensearch":
		default:
			return fmt.Errorf("unknown archive type %q", a.Type)
		}
	}
	return nil
}

// StoreSettings converts to the store package's config.
func (c Config) StoreSettings() store.Config {
	return store.Config{Type: c.Store.Type, Path: c.Store.Path, DSN: c.Store.DSN}
}

// SupervisorSettings converts to the supervisor package's config.
func (c Config) SupervisorSettings() supervisor.Config {
	baselines := make(map[timeout.Category]time.Duration, len(c.Timeouts.Baselines))
	for name, d := range c.Timeouts.Baselines {
		baselines[timeout.Category(name)] = d
	}
	exempt := make([]timeout.Category, 0, len(c.Breaker.ExemptCategories))
	for _, cat := range c.Breaker.ExemptCategories {
		exempt = append(exempt, timeout.Category(cat))
	}
	return supervisor.Config{
		Breaker: breaker.Config{
			FailureThreshold:  c.Breaker.FailureThreshold,
			FailureWindow:     c.Breaker.FailureWindow,
			OpenDuration:      c.Breaker.OpenDuration,
			RecoveryThreshold: c.Breaker.RecoveryThreshold,
		},
		Health: health.Config{
			Interval:         c.Health.Interval,
			DegradedInterval: c.Health.DegradedInterval,
			ProbeTimeout:     c.Health.ProbeTimeout,
		},
		Timeout: timeout.Config{
			Adaptive:  c.Timeouts.Adaptive,
			Baselines: baselines,
		},
		ExemptCategories: exempt,
	}
}

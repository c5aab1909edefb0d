// Package config loads daemon configuration from file, environment, and
// defaults via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full forged configuration.
type Config struct {
	ForgeDir  string          `mapstructure:"forge_dir"`
	Intervals IntervalsConfig `mapstructure:"intervals"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Applier   ApplierConfig   `mapstructure:"applier"`
	AutoFix   AutoFixConfig   `mapstructure:"auto_fix"`
}

// IntervalsConfig holds the schedule for each maintenance task. Values are
// duration strings; "d" and "w" suffixes are accepted for days and weeks.
type IntervalsConfig struct {
	HealthCheck         string `mapstructure:"health_check"`
	PatternScan         string `mapstructure:"pattern_scan"`
	PerformanceAnalysis string `mapstructure:"performance_analysis"`
	ApplyUpdates        string `mapstructure:"apply_updates"`
}

// ScannerConfig holds pattern scanner thresholds.
type ScannerConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
	MinFrequency  int     `mapstructure:"min_frequency"`
	MaxAgeDays    int     `mapstructure:"max_age_days"`
}

// ApplierConfig holds update applier thresholds.
type ApplierConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	BackupRetentionDays int     `mapstructure:"backup_retention_days"`
}

// AutoFixConfig controls automatic remediation of health issues.
type AutoFixConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxPerHour int  `mapstructure:"max_per_hour"`
}

// Load reads configuration from the given file (optional), FORGED_*
// environment variables, and built-in defaults, in that order of precedence
// from highest to lowest.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("forge_dir", ".forge")
	v.SetDefault("intervals.health_check", "5m")
	v.SetDefault("intervals.pattern_scan", "24h")
	v.SetDefault("intervals.performance_analysis", "7d")
	v.SetDefault("intervals.apply_updates", "24h")
	v.SetDefault("scanner.min_confidence", 0.5)
	v.SetDefault("scanner.min_frequency", 1)
	v.SetDefault("scanner.max_age_days", 30)
	v.SetDefault("applier.confidence_threshold", 0.7)
	v.SetDefault("applier.backup_retention_days", 30)
	v.SetDefault("auto_fix.enabled", true)
	v.SetDefault("auto_fix.max_per_hour", 6)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".forged")
	}

	v.SetEnvPrefix("FORGED")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine when none was named explicitly.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every configured value for sanity.
func (c *Config) Validate() error {
	intervals := map[string]string{
		"intervals.health_check":         c.Intervals.HealthCheck,
		"intervals.pattern_scan":         c.Intervals.PatternScan,
		"intervals.performance_analysis": c.Intervals.PerformanceAnalysis,
		"intervals.apply_updates":        c.Intervals.ApplyUpdates,
	}
	for key, value := range intervals {
		d, err := ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", key)
		}
	}

	if c.Scanner.MinConfidence < 0 || c.Scanner.MinConfidence > 1 {
		return fmt.Errorf("invalid scanner.min_confidence: must be in [0,1]")
	}
	if c.Applier.ConfidenceThreshold < 0 || c.Applier.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid applier.confidence_threshold: must be in [0,1]")
	}
	if c.AutoFix.MaxPerHour < 0 {
		return fmt.Errorf("invalid auto_fix.max_per_hour: must be non-negative")
	}
	return nil
}

// HealthCheckInterval returns the parsed health check interval.
func (c *Config) HealthCheckInterval() time.Duration {
	return mustDuration(c.Intervals.HealthCheck, 5*time.Minute)
}

// PatternScanInterval returns the parsed pattern scan interval.
func (c *Config) PatternScanInterval() time.Duration {
	return mustDuration(c.Intervals.PatternScan, 24*time.Hour)
}

// PerformanceAnalysisInterval returns the parsed performance analysis interval.
func (c *Config) PerformanceAnalysisInterval() time.Duration {
	return mustDuration(c.Intervals.PerformanceAnalysis, 7*24*time.Hour)
}

// ApplyUpdatesInterval returns the parsed update application interval.
func (c *Config) ApplyUpdatesInterval() time.Duration {
	return mustDuration(c.Intervals.ApplyUpdates, 24*time.Hour)
}

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ParseDuration parses duration strings like "5m", "1h", "7d", "2w". Day and
// week suffixes are not part of time.ParseDuration's grammar, so they are
// handled here.
func ParseDuration(s string) (time.Duration, error) {
	if len(s) > 1 {
		switch s[len(s)-1] {
		case 'd':
			var days int
			if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &days); err != nil {
				return 0, fmt.Errorf("invalid duration: %s", s)
			}
			return time.Duration(days) * 24 * time.Hour, nil
		case 'w':
			var weeks int
			if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &weeks); err != nil {
				return 0, fmt.Errorf("invalid duration: %s", s)
			}
			return time.Duration(weeks) * 7 * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

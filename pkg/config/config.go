package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimit is a single (rate, window) pair as used by the C5 rate
// limiter's per-target and global chains.
type RateLimit struct {
	Rate        float64 `yaml:"rate"`
	WindowHours float64 `yaml:"window_hours"`
}

func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowHours * float64(time.Hour))
}

type Config struct {
	Karma struct {
		ReactionCoefficient float64     `yaml:"reaction_coefficient"`
		RequiredPercentile  float64     `yaml:"required_percentile"`
		RateLimitsGlobal    []RateLimit `yaml:"rate_limits_global"`
		RateLimitsPerTarget []RateLimit `yaml:"rate_limits_per_target"`
		TimeToCancelSeconds float64     `yaml:"time_to_cancel_seconds"`
		CanBeBot            bool        `yaml:"can_be_bot"`
		EnforceSubZeroGuard bool        `yaml:"enforce_sub_zero_guard"`
	} `yaml:"karma"`

	AutoRestriction struct {
		Enabled           bool    `yaml:"enabled"`
		BaseDurationHours float64 `yaml:"base_duration_hours"`
		BackoffFactor     float64 `yaml:"backoff_factor"`
	} `yaml:"auto_restriction"`

	Authors struct {
		RetentionHours       float64 `yaml:"retention_hours"`
		CleanupIntervalHours float64 `yaml:"cleanup_interval_hours"`
	} `yaml:"authors"`

	Database struct {
		Host      string `yaml:"host"`
		Namespace string `yaml:"namespace"`
		Database  string `yaml:"database"`
	} `yaml:"database"`

	Redis struct {
		URL    string `yaml:"url"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`
}

func (c *Config) TimeToCancel() time.Duration {
	return time.Duration(c.Karma.TimeToCancelSeconds * float64(time.Second))
}

func (c *Config) AutoRestrictionBase() time.Duration {
	return time.Duration(c.AutoRestriction.BaseDurationHours * float64(time.Hour))
}

func (c *Config) AuthorRetention() time.Duration {
	return time.Duration(c.Authors.RetentionHours * float64(time.Hour))
}

func (c *Config) AuthorCleanupInterval() time.Duration {
	return time.Duration(c.Authors.CleanupIntervalHours * float64(time.Hour))
}

func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		config.Karma.ReactionCoefficient = 0.1
		config.Karma.RequiredPercentile = 0.5
		config.Karma.RateLimitsGlobal = []RateLimit{
			{Rate: 10, WindowHours: 1},
			{Rate: 20, WindowHours: 24},
		}
		config.Karma.RateLimitsPerTarget = []RateLimit{
			{Rate: 3, WindowHours: 1},
			{Rate: 5, WindowHours: 24},
		}
		config.Karma.TimeToCancelSeconds = 60
		config.Karma.CanBeBot = false
		config.Karma.EnforceSubZeroGuard = false

		config.AutoRestriction.Enabled = true
		config.AutoRestriction.BaseDurationHours = 1.0 / 6 // 10 minutes
		config.AutoRestriction.BackoffFactor = 2.0

		config.Authors.RetentionHours = 2160 // 90 days
		config.Authors.CleanupIntervalHours = 24

		config.Database.Host = "ws://localhost:8000/rpc"
		config.Database.Namespace = "karmicbot"
		config.Database.Database = "karmicbot"

		config.Redis.URL = "redis://localhost:6379/0"
		config.Redis.Prefix = "karmicbot"
		return config, nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(file, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Package config loads the server configuration from YAML with ${ENV_VAR}
// placeholder expansion.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/schedulehq/timeoff/trimester"
)

type Config struct {
	Server struct {
		Port         int `yaml:"port"`
		ReadTimeout  int `yaml:"read_timeout_seconds"`
		WriteTimeout int `yaml:"write_timeout_seconds"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Remote struct {
		Enabled bool   `yaml:"enabled"`
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"remote"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`

		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Accrual struct {
		EarnedPerTrimester string `yaml:"earned_per_trimester"`
		MaxCarryoverHours  string `yaml:"max_carryover_hours"`
		OverdraftPolicy    string `yaml:"overdraft_policy"`
	} `yaml:"accrual"`

	Outbox struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
		MaxAttempts         int `yaml:"max_attempts"`
	} `yaml:"outbox"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Directory struct {
		Employees []RosterEmployee `yaml:"employees"`
		JobCodes  []RosterJobCode  `yaml:"job_codes"`
	} `yaml:"directory"`
}

// RosterEmployee seeds the employee directory at startup.
type RosterEmployee struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	JobCode     string `yaml:"job_code"`
	PTOEligible bool   `yaml:"pto_eligible"`
}

// RosterJobCode seeds the job-code settings.
type RosterJobCode struct {
	Code        string `yaml:"code"`
	PTOEligible bool   `yaml:"pto_eligible"`
	Color       string `yaml:"color"`
}

// Load reads, expands and parses the config at path, applying defaults for
// anything unset.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/timeoff.db"
	}
	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}
	if cfg.Redis.CacheTTLSeconds == 0 {
		cfg.Redis.CacheTTLSeconds = 300
	}

	return &cfg, nil
}

// AccrualSettings converts the accrual section to calculator settings,
// falling back to the stock policy per field.
func (c *Config) AccrualSettings() (trimester.Settings, error) {
	s := trimester.DefaultSettings()

	if v := c.Accrual.EarnedPerTrimester; v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return s, fmt.Errorf("accrual.earned_per_trimester: %w", err)
		}
		s.EarnedPerTrimester = d
	}
	if v := c.Accrual.MaxCarryoverHours; v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return s, fmt.Errorf("accrual.max_carryover_hours: %w", err)
		}
		s.MaxCarryoverHours = d
	}
	switch c.Accrual.OverdraftPolicy {
	case "":
	case string(trimester.OverdraftForgive):
		s.Overdraft = trimester.OverdraftForgive
	case string(trimester.OverdraftClawback):
		s.Overdraft = trimester.OverdraftClawback
	default:
		return s, fmt.Errorf("accrual.overdraft_policy: unknown policy %q", c.Accrual.OverdraftPolicy)
	}
	return s, nil
}

func (c *Config) ReadTimeout() time.Duration {
	if c.Server.ReadTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ReadTimeout) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	if c.Server.WriteTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.WriteTimeout) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) OutboxPollInterval() time.Duration {
	if c.Outbox.PollIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Outbox.PollIntervalSeconds) * time.Second
}

// Package config loads the sync engine's configuration: the enumerated
// keys from spec §6, each with the spec's default. A YAML file supplies
// the base values (in the donor's gopkg.in/yaml.v3 idiom, see
// cmd/warren/apply.go); environment variables override individual keys,
// which is how operators inject the vendor API key and DB DSN without
// committing them to the YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every key enumerated in spec §6.
type Config struct {
	APIKey string `yaml:"api_key"`
	// BaseURL is the vendor's HTTPS base URL, e.g. "https://example.picqer.com/api/v1".
	BaseURL string `yaml:"base_url"`
	// DBDSN is the SQL Server connection string consumed by pkg/store.
	DBDSN string `yaml:"db_dsn"`

	RequestsPerMinute  int `yaml:"requests_per_minute"`
	MaxRetries         int `yaml:"max_retries"`
	RateLimitSleepMs   int `yaml:"rate_limit_sleep_ms"`
	BatchSize          int `yaml:"batch_size"`
	RollingWindowDays  int `yaml:"rolling_window_days"`
	InterParentPauseMs int `yaml:"inter_parent_pause_ms"`
	PageLimit          int `yaml:"page_limit"`
}

// Default returns a Config populated with every spec §6 default.
func Default() Config {
	return Config{
		RequestsPerMinute:  30,
		MaxRetries:         5,
		RateLimitSleepMs:   20000,
		BatchSize:          100,
		RollingWindowDays:  30,
		InterParentPauseMs: 100,
		PageLimit:          100,
	}
}

// Load reads path (if non-empty and present) over the defaults, then
// applies environment overrides, then validates required keys.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PICQER_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("PICQER_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PICQER_DB_DSN"); v != "" {
		cfg.DBDSN = v
	}
	overrideInt(&cfg.RequestsPerMinute, "PICQER_REQUESTS_PER_MINUTE")
	overrideInt(&cfg.MaxRetries, "PICQER_MAX_RETRIES")
	overrideInt(&cfg.RateLimitSleepMs, "PICQER_RATE_LIMIT_SLEEP_MS")
	overrideInt(&cfg.BatchSize, "PICQER_BATCH_SIZE")
	overrideInt(&cfg.RollingWindowDays, "PICQER_ROLLING_WINDOW_DAYS")
	overrideInt(&cfg.InterParentPauseMs, "PICQER_INTER_PARENT_PAUSE_MS")
	overrideInt(&cfg.PageLimit, "PICQER_PAGE_LIMIT")
}

func overrideInt(dst *int, envVar string) {
	v := os.Getenv(envVar)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate checks that the required keys (spec §6: api_key, base_url,
// db_dsn) are set.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: api_key is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("config: base_url is required")
	}
	if c.DBDSN == "" {
		return fmt.Errorf("config: db_dsn is required")
	}
	return nil
}

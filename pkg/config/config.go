// Package config loads the JSON configuration file and overlays
// environment variables on top of it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so operator ids can be written as "123" or 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Operators   OperatorsConfig   `json:"operators"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Forward     ForwardConfig     `json:"forward"`
	Storage     StorageConfig     `json:"storage"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	LogLevel    string            `env:"SWITCHYARD_LOG_LEVEL" json:"log_level"`
}

type TelegramConfig struct {
	Token       string `env:"SWITCHYARD_TELEGRAM_TOKEN"        json:"token"`
	Debug       bool   `env:"SWITCHYARD_TELEGRAM_DEBUG"        json:"debug"`
	PollTimeout int    `env:"SWITCHYARD_TELEGRAM_POLL_TIMEOUT" json:"poll_timeout"` // seconds
}

type OperatorsConfig struct {
	IDs             FlexibleStringSlice `env:"SWITCHYARD_OPERATORS_IDS"              json:"ids"`
	Usernames       []string            `env:"SWITCHYARD_OPERATORS_USERNAMES"        json:"usernames"`
	ResolveInterval int                 `env:"SWITCHYARD_OPERATORS_RESOLVE_INTERVAL" json:"resolve_interval"` // seconds
}

// ChatIDs parses the configured operator ids. Entries that are not numeric
// are rejected; usernames belong in the usernames list.
func (o OperatorsConfig) ChatIDs() ([]int64, error) {
	out := make([]int64, 0, len(o.IDs))
	for _, raw := range o.IDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("operator id %q is not numeric", raw)
		}
		out = append(out, id)
	}
	return out, nil
}

type RateLimitConfig struct {
	Capacity int     `env:"SWITCHYARD_RATE_LIMIT_CAPACITY"  json:"capacity"`
	FillRate float64 `env:"SWITCHYARD_RATE_LIMIT_FILL_RATE" json:"fill_rate"` // tokens per second
}

type ForwardConfig struct {
	MaxRetries       int `env:"SWITCHYARD_FORWARD_MAX_RETRIES"        json:"max_retries"`
	AcquireTimeoutMS int `env:"SWITCHYARD_FORWARD_ACQUIRE_TIMEOUT_MS" json:"acquire_timeout_ms"`
	ThrottleMarginMS int `env:"SWITCHYARD_FORWARD_THROTTLE_MARGIN_MS" json:"throttle_margin_ms"`
	BackoffBaseMS    int `env:"SWITCHYARD_FORWARD_BACKOFF_BASE_MS"    json:"backoff_base_ms"`
}

type StorageConfig struct {
	Backend    string      `env:"SWITCHYARD_STORAGE_BACKEND"     json:"backend"` // memory, sqlite or redis
	SQLitePath string      `env:"SWITCHYARD_STORAGE_SQLITE_PATH" json:"sqlite_path"`
	Redis      RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `env:"SWITCHYARD_STORAGE_REDIS_ADDR"     json:"addr"`
	Password string `env:"SWITCHYARD_STORAGE_REDIS_PASSWORD" json:"password"`
	DB       int    `env:"SWITCHYARD_STORAGE_REDIS_DB"       json:"db"`
}

type MaintenanceConfig struct {
	SweepCron           string `env:"SWITCHYARD_MAINTENANCE_SWEEP_CRON"            json:"sweep_cron"`
	CorrelationTTLHours int    `env:"SWITCHYARD_MAINTENANCE_CORRELATION_TTL_HOURS" json:"correlation_ttl_hours"`
}

func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		Operators: OperatorsConfig{
			ResolveInterval: 30,
		},
		RateLimit: RateLimitConfig{
			Capacity: 5,
			FillRate: 5,
		},
		Forward: ForwardConfig{
			MaxRetries:       4,
			AcquireTimeoutMS: 3000,
			ThrottleMarginMS: 500,
			BackoffBaseMS:    200,
		},
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "~/.switchyard/switchyard.db",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Maintenance: MaintenanceConfig{
			SweepCron:           "*/5 * * * *",
			CorrelationTTLHours: 24,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads path, falling back to defaults when the file does not
// exist, then applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate rejects configurations that cannot be wired at startup. The
// Telegram token is checked at connect time, not here, so offline commands
// keep working without one.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage backend sqlite needs sqlite_path")
	}
	if c.Storage.Backend == "redis" && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage backend redis needs redis.addr")
	}
	if c.RateLimit.Capacity < 1 {
		return fmt.Errorf("rate_limit.capacity must be at least 1")
	}
	if c.RateLimit.FillRate <= 0 {
		return fmt.Errorf("rate_limit.fill_rate must be positive")
	}
	if c.Forward.MaxRetries < 1 {
		return fmt.Errorf("forward.max_retries must be at least 1")
	}
	if _, err := c.Operators.ChatIDs(); err != nil {
		return err
	}
	return nil
}

// SQLiteFile returns the sqlite path with a leading ~ expanded.
func (c *Config) SQLiteFile() string {
	return expandHome(c.Storage.SQLitePath)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

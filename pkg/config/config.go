// Package config loads the service configuration from a TOML file, a .env file
// and FREDINVEST_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const envPrefix = "FREDINVEST_"

// Config holds all configuration for the service
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Storage    StorageConfig    `toml:"storage"`
	Accrual    AccrualConfig    `toml:"accrual"`
	Investment InvestmentConfig `toml:"investment"`
	Redis      RedisConfig      `toml:"redis"`
	Logging    LoggingConfig    `toml:"logging"`
	API        APIConfig        `toml:"api"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type StorageConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "memory"
	Path   string `toml:"path"`
}

type AccrualConfig struct {
	PollInterval   string `toml:"poll_interval"`
	MaturityPolicy string `toml:"maturity_policy"` // "maturity_day" or "end_instant"
}

// GetPollInterval parses the poll interval, falling back to 10 minutes.
func (c *AccrualConfig) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

type InvestmentConfig struct {
	Horizon string `toml:"horizon"`
}

// GetHorizon parses the maturity horizon, falling back to 7 days.
func (c *InvestmentConfig) GetHorizon() time.Duration {
	d, err := time.ParseDuration(c.Horizon)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// RedisConfig enables the distributed pass lock when Addr is set.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	LockTTL  string `toml:"lock_ttl"`
}

// GetLockTTL parses the lock lease, falling back to 5 minutes.
func (c *RedisConfig) GetLockTTL() time.Duration {
	d, err := time.ParseDuration(c.LockTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type APIConfig struct {
	RateLimit float64 `toml:"rate_limit"` // requests per second
	Burst     int     `toml:"burst"`
}

// NewDefaultConfig returns the configuration used when no file is present.
func NewDefaultConfig() *Config {
	return &Config{
		Server:     ServerConfig{Addr: ":8080"},
		Storage:    StorageConfig{Driver: "sqlite", Path: "fredinvest.db"},
		Accrual:    AccrualConfig{PollInterval: "10m", MaturityPolicy: "maturity_day"},
		Investment: InvestmentConfig{Horizon: "168h"},
		Redis:      RedisConfig{LockTTL: "5m"},
		Logging:    LoggingConfig{Level: "info", Format: "console"},
		// 100 requests per 15 minutes.
		API: APIConfig{RateLimit: 100.0 / 900.0, Burst: 100},
	}
}

// Load reads path (optional; a missing file is not an error), then .env, then
// the environment.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		return errors.New("storage.path is required for the sqlite driver")
	}
	switch c.Accrual.MaturityPolicy {
	case "maturity_day", "end_instant":
	default:
		return fmt.Errorf("unknown maturity policy %q", c.Accrual.MaturityPolicy)
	}
	if c.API.RateLimit <= 0 || c.API.Burst <= 0 {
		return errors.New("api.rate_limit and api.burst must be positive")
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	setString(&c.Server.Addr, "SERVER_ADDR")
	setString(&c.Storage.Driver, "STORAGE_DRIVER")
	setString(&c.Storage.Path, "STORAGE_PATH")
	setString(&c.Accrual.PollInterval, "ACCRUAL_POLL_INTERVAL")
	setString(&c.Accrual.MaturityPolicy, "ACCRUAL_MATURITY_POLICY")
	setString(&c.Investment.Horizon, "INVESTMENT_HORIZON")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Redis.LockTTL, "REDIS_LOCK_TTL")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")

	if v, ok := lookup("REDIS_DB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v, ok := lookup("API_RATE_LIMIT"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.API.RateLimit = f
		}
	}
	if v, ok := lookup("API_BURST"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.API.Burst = n
		}
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

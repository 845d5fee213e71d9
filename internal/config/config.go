// Package config loads the option pool service configuration from an
// optional YAML file and OPTION_POOL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OPTION_POOL_SERVER_PORT.
const EnvPrefix = "OPTION_POOL"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dev       DevConfig       `mapstructure:"dev"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the Postgres store and token ledger. An empty URL
// keeps everything in memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type OracleConfig struct {
	Source           string `mapstructure:"source"` // memory or redis
	MaxAge           int64  `mapstructure:"max_age"`
	MaxConfidenceBps uint64 `mapstructure:"max_confidence_bps"`
}

type PricingConfig struct {
	VolatilityBps uint64 `mapstructure:"volatility_bps"`
}

type LimitsConfig struct {
	MaxOpenPerOwner   string `mapstructure:"max_open_per_owner"` // whole tokens, decimal string
	MaxUtilizationBps uint64 `mapstructure:"max_utilization_bps"`
}

// MaxOpen parses MaxOpenPerOwner. Validate guarantees it succeeds.
func (l LimitsConfig) MaxOpen() decimal.Decimal {
	v, err := decimal.NewFromString(l.MaxOpenPerOwner)
	if err != nil {
		return decimal.Zero
	}
	return v
}

// BootstrapConfig initializes the contract on first start.
type BootstrapConfig struct {
	Admin     string   `mapstructure:"admin"`
	Keepers   []string `mapstructure:"keepers"`
	Signers   []string `mapstructure:"signers"`
	Threshold uint8    `mapstructure:"threshold"`
}

// DevConfig enables development-only routes.
type DevConfig struct {
	// Faucet mounts POST /api/v1/dev/mint. Only the in-memory ledger
	// supports it.
	Faucet bool `mapstructure:"faucet"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// Load reads configuration from path, if not empty, and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("database.url", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", "30s")

	v.SetDefault("oracle.source", "memory")
	v.SetDefault("oracle.max_age", 30)
	v.SetDefault("oracle.max_confidence_bps", 0)

	v.SetDefault("pricing.volatility_bps", 6000)

	v.SetDefault("limits.max_open_per_owner", "0")
	v.SetDefault("limits.max_utilization_bps", 0)

	v.SetDefault("bootstrap.admin", "")
	v.SetDefault("bootstrap.keepers", []string{})
	v.SetDefault("bootstrap.signers", []string{})
	v.SetDefault("bootstrap.threshold", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("dev.faucet", false)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}

	switch c.Oracle.Source {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis.url is required when oracle.source is redis")
		}
	default:
		return fmt.Errorf("oracle.source must be memory or redis, got %q", c.Oracle.Source)
	}
	if c.Oracle.MaxAge <= 0 {
		return errors.New("oracle.max_age must be positive")
	}
	if c.Oracle.MaxConfidenceBps > 10_000 {
		return errors.New("oracle.max_confidence_bps must be at most 10000")
	}

	if c.Pricing.VolatilityBps == 0 {
		return errors.New("pricing.volatility_bps must be positive")
	}

	maxOpen, err := decimal.NewFromString(c.Limits.MaxOpenPerOwner)
	if err != nil {
		return fmt.Errorf("limits.max_open_per_owner: %w", err)
	}
	if maxOpen.IsNegative() {
		return errors.New("limits.max_open_per_owner must not be negative")
	}
	if c.Limits.MaxUtilizationBps > 10_000 {
		return errors.New("limits.max_utilization_bps must be at most 10000")
	}

	// Bootstrap is optional; when configured it must describe a valid
	// multisig.
	if c.Bootstrap.Admin != "" {
		if len(c.Bootstrap.Signers) == 0 {
			return errors.New("bootstrap.signers is required when bootstrap.admin is set")
		}
		if c.Bootstrap.Threshold == 0 || int(c.Bootstrap.Threshold) > len(c.Bootstrap.Signers) {
			return fmt.Errorf("bootstrap.threshold must be between 1 and %d", len(c.Bootstrap.Signers))
		}
	}

	if c.Dev.Faucet && c.Database.URL != "" {
		return errors.New("dev.faucet requires the in-memory ledger (unset database.url)")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

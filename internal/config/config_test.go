package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("expected 5s shutdown timeout, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Oracle.Source != "memory" || cfg.Oracle.MaxAge != 30 {
		t.Errorf("unexpected oracle defaults %+v", cfg.Oracle)
	}
	if cfg.Pricing.VolatilityBps != 6000 {
		t.Errorf("expected volatility 6000 bps, got %d", cfg.Pricing.VolatilityBps)
	}
	if !cfg.Limits.MaxOpen().IsZero() {
		t.Errorf("owner limit should be disabled by default, got %s", cfg.Limits.MaxOpen())
	}
	if cfg.Database.URL != "" || cfg.Bootstrap.Admin != "" {
		t.Error("database and bootstrap should be empty by default")
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
  shutdown_timeout: 15s

redis:
  url: "redis://localhost:6379/0"
  cache_ttl: 1m

oracle:
  source: redis
  max_age: 60
  max_confidence_bps: 200

limits:
  max_open_per_owner: "250.5"
  max_utilization_bps: 8000

bootstrap:
  admin: admin
  keepers:
    - keeper-1
  signers:
    - s1
    - s2
    - s3
  threshold: 2

logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ShutdownTimeout != 15*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Redis.CacheTTL != time.Minute {
		t.Errorf("expected 1m cache ttl, got %v", cfg.Redis.CacheTTL)
	}
	if cfg.Oracle.Source != "redis" || cfg.Oracle.MaxAge != 60 || cfg.Oracle.MaxConfidenceBps != 200 {
		t.Errorf("unexpected oracle config %+v", cfg.Oracle)
	}
	if !cfg.Limits.MaxOpen().Equal(decimal.RequireFromString("250.5")) {
		t.Errorf("expected owner limit 250.5, got %s", cfg.Limits.MaxOpen())
	}
	if len(cfg.Bootstrap.Signers) != 3 || cfg.Bootstrap.Threshold != 2 || cfg.Bootstrap.Keepers[0] != "keeper-1" {
		t.Errorf("unexpected bootstrap config %+v", cfg.Bootstrap)
	}
	// Unset sections keep their defaults.
	if cfg.Pricing.VolatilityBps != 6000 {
		t.Errorf("expected default volatility, got %d", cfg.Pricing.VolatilityBps)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("OPTION_POOL_SERVER_PORT", "7070")
	t.Setenv("OPTION_POOL_PRICING_VOLATILITY_BPS", "4500")
	t.Setenv("OPTION_POOL_BOOTSTRAP_ADMIN", "ops")
	t.Setenv("OPTION_POOL_BOOTSTRAP_SIGNERS", "a,b")
	t.Setenv("OPTION_POOL_BOOTSTRAP_THRESHOLD", "2")

	path := writeConfig(t, "server:\n  port: \"9090\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env should override file, got port %s", cfg.Server.Port)
	}
	if cfg.Pricing.VolatilityBps != 4500 {
		t.Errorf("expected volatility 4500, got %d", cfg.Pricing.VolatilityBps)
	}
	if cfg.Bootstrap.Admin != "ops" || len(cfg.Bootstrap.Signers) != 2 || cfg.Bootstrap.Threshold != 2 {
		t.Errorf("unexpected bootstrap from env %+v", cfg.Bootstrap)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"unknown oracle source", func(c *Config) { c.Oracle.Source = "pyth" }, "oracle.source"},
		{"redis oracle without redis", func(c *Config) { c.Oracle.Source = "redis" }, "redis.url"},
		{"zero max age", func(c *Config) { c.Oracle.MaxAge = 0 }, "oracle.max_age"},
		{"confidence above 100%", func(c *Config) { c.Oracle.MaxConfidenceBps = 10_001 }, "max_confidence_bps"},
		{"zero volatility", func(c *Config) { c.Pricing.VolatilityBps = 0 }, "volatility_bps"},
		{"bad owner limit", func(c *Config) { c.Limits.MaxOpenPerOwner = "lots" }, "max_open_per_owner"},
		{"negative owner limit", func(c *Config) { c.Limits.MaxOpenPerOwner = "-1" }, "max_open_per_owner"},
		{"utilization above 100%", func(c *Config) { c.Limits.MaxUtilizationBps = 20_000 }, "max_utilization_bps"},
		{"admin without signers", func(c *Config) { c.Bootstrap.Admin = "admin" }, "bootstrap.signers"},
		{"threshold above signers", func(c *Config) {
			c.Bootstrap.Admin = "admin"
			c.Bootstrap.Signers = []string{"a"}
			c.Bootstrap.Threshold = 2
		}, "bootstrap.threshold"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"faucet with postgres", func(c *Config) {
			c.Dev.Faucet = true
			c.Database.URL = "postgres://localhost/options"
		}, "dev.faucet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatal(err)
			}
			tt.modify(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

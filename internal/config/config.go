// Package config loads the platform configuration from YAML with environment
// variable overrides for deployment settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Loyalty  LoyaltyConfig  `yaml:"loyalty"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig controls the postgres connection. An empty DSN selects the
// in-memory stores.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig controls the optional balance cache. An empty address disables
// it.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	CacheTTLSec int    `yaml:"cache_ttl_seconds"`
}

// LoggingConfig mirrors pkg/logger's construction options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// LoyaltyConfig tunes engine behavior. ExpiryWindowDays of zero keeps points
// from ever expiring.
type LoyaltyConfig struct {
	ExpiryWindowDays  int `yaml:"expiry_window_days"`
	SweepIntervalMins int `yaml:"sweep_interval_minutes"`
}

// AuthConfig lists the accepted API bearer tokens. Empty disables auth.
type AuthConfig struct {
	Tokens []string `yaml:"tokens"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Redis:   RedisConfig{CacheTTLSec: 300},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// Load reads configuration from the path in PLATFORM_CONFIG (default
// config/platform.yaml), falling back to defaults when the file is absent,
// then applies environment overrides.
func Load() (*Config, error) {
	path := os.Getenv("PLATFORM_CONFIG")
	if path == "" {
		path = "config/platform.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment carry a dev setup.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AUTH_TOKENS"); v != "" {
		tokens := strings.Split(v, ",")
		cfg.Auth.Tokens = cfg.Auth.Tokens[:0]
		for _, token := range tokens {
			if trimmed := strings.TrimSpace(token); trimmed != "" {
				cfg.Auth.Tokens = append(cfg.Auth.Tokens, trimmed)
			}
		}
	}
	if v := os.Getenv("LOYALTY_EXPIRY_WINDOW_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days >= 0 {
			cfg.Loyalty.ExpiryWindowDays = days
		}
	}
}

// Package config provides configuration management for SignalForge.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dtrinh/signalforge/internal/fetch"
	"github.com/dtrinh/signalforge/internal/observability"
)

// Config holds all SignalForge configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Postgres  PostgresConfig       `yaml:"postgres"`
	Redis     RedisConfig          `yaml:"redis"`
	Queue     QueueConfig          `yaml:"queue"`
	Fetch     FetchConfig          `yaml:"fetch"`
	Telemetry observability.Config `yaml:"telemetry"`
}

// ServerConfig holds the admin/API HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PostgresConfig holds database connection settings. The DSN itself is
// taken from the environment so credentials stay out of config files.
type PostgresConfig struct {
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN resolves the connection string from the configured environment
// variable.
func (c PostgresConfig) DSN() (string, error) {
	dsn := os.Getenv(c.DSNEnv)
	if dsn == "" {
		return "", fmt.Errorf("database DSN not set: export %s", c.DSNEnv)
	}
	return dsn, nil
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
}

// Password resolves the optional Redis password from the environment.
func (c RedisConfig) Password() string {
	if c.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.PasswordEnv)
}

// QueueConfig holds job queue settings.
type QueueConfig struct {
	EnrichQueue string        `yaml:"enrich_queue"`
	SignalQueue string        `yaml:"signal_queue"`
	Concurrency int           `yaml:"concurrency"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// FetchConfig holds outbound fetch settings.
type FetchConfig struct {
	Timeout      time.Duration           `yaml:"timeout"`
	MaxRedirects int                     `yaml:"max_redirects"`
	MaxBytes     int64                   `yaml:"max_bytes"`
	HostLimiter  fetch.HostLimiterConfig `yaml:"host_limiter"`
}

// Options converts the fetch settings to runtime options.
func (c FetchConfig) Options() fetch.Options {
	opts := fetch.DefaultOptions()
	if c.Timeout > 0 {
		opts.Timeout = c.Timeout
	}
	if c.MaxRedirects > 0 {
		opts.MaxRedirects = c.MaxRedirects
	}
	if c.MaxBytes > 0 {
		opts.MaxBytes = c.MaxBytes
	}
	return opts
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	defaults := fetch.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Postgres: PostgresConfig{
			DSNEnv:          "SIGNALFORGE_DATABASE_URL",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PasswordEnv: "SIGNALFORGE_REDIS_PASSWORD",
			DB:          0,
			PoolSize:    10,
		},
		Queue: QueueConfig{
			EnrichQueue: "signalforge:jobs:enrich",
			SignalQueue: "signalforge:jobs:signal",
			Concurrency: 4,
			JobTimeout:  60 * time.Second,
			PollTimeout: 5 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout:      defaults.Timeout,
			MaxRedirects: defaults.MaxRedirects,
			MaxBytes:     defaults.MaxBytes,
			HostLimiter:  fetch.DefaultHostLimiterConfig(),
		},
		Telemetry: observability.Config{
			ServiceName:    "signalforge",
			ServiceVersion: "dev",
			Environment:    "development",
			LogLevel:       "info",
			LogFormat:      "json",
			TracingEnabled: false,
			OTLPEndpoint:   "localhost:4317",
			SamplingRate:   0.1,
		},
	}
}

// Package config defines the top-level configuration for the Opinion proxy
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OPINION_* environment variables.
type Config struct {
	Opinion  OpinionConfig  `toml:"opinion"`
	Governor GovernorConfig `toml:"governor"`
	Cache    CacheConfig    `toml:"cache"`
	Redis    RedisConfig    `toml:"redis"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OpinionConfig holds the upstream API connection parameters.
type OpinionConfig struct {
	BaseURL  string   `toml:"base_url"`
	APIKey   string   `toml:"api_key"`
	Timeout  duration `toml:"timeout"`
	PageSize int      `toml:"page_size"`
}

// GovernorConfig holds the outbound-request admission-control parameters.
type GovernorConfig struct {
	MaxConcurrent     int      `toml:"max_concurrent"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	FailureThreshold  int      `toml:"failure_threshold"`
	SuccessThreshold  int      `toml:"success_threshold"`
	RecoveryTimeout   duration `toml:"recovery_timeout"`
	RetryBaseDelay    duration `toml:"retry_base_delay"`
	RetryMaxDelay     duration `toml:"retry_max_delay"`
}

// CacheConfig holds the in-memory response cache parameters.
type CacheConfig struct {
	MaxSize       int      `toml:"max_size"`
	SweepInterval duration `toml:"sweep_interval"`
}

// RedisConfig holds Redis connection parameters for the snapshot store.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// SnapshotConfig holds the periodic snapshot job parameters.
type SnapshotConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	MaxPages int      `toml:"max_pages"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Opinion: OpinionConfig{
			Timeout:  duration{10 * time.Second},
			PageSize: 20,
		},
		Governor: GovernorConfig{
			MaxConcurrent:     10,
			RequestsPerSecond: 30,
			FailureThreshold:  5,
			SuccessThreshold:  2,
			RecoveryTimeout:   duration{30 * time.Second},
			RetryBaseDelay:    duration{500 * time.Millisecond},
			RetryMaxDelay:     duration{8 * time.Second},
		},
		Cache: CacheConfig{
			MaxSize:       1000,
			SweepInterval: duration{time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Snapshot: SnapshotConfig{
			Enabled:  false,
			Interval: duration{30 * time.Second},
			MaxPages: 50,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sync":  true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. A missing upstream base URL
// or API key is fatal.
func (c *Config) Validate() error {
	var problems []string

	if c.Opinion.BaseURL == "" {
		problems = append(problems, "opinion.base_url is required")
	}
	if c.Opinion.APIKey == "" {
		problems = append(problems, "opinion.api_key is required")
	}
	if c.Opinion.Timeout.Duration <= 0 {
		problems = append(problems, "opinion.timeout must be positive")
	}
	if c.Governor.MaxConcurrent < 1 {
		problems = append(problems, "governor.max_concurrent must be at least 1")
	}
	if c.Governor.RequestsPerSecond <= 0 {
		problems = append(problems, "governor.requests_per_second must be positive")
	}
	if c.Governor.FailureThreshold < 1 {
		problems = append(problems, "governor.failure_threshold must be at least 1")
	}
	if c.Cache.MaxSize < 1 {
		problems = append(problems, "cache.max_size must be at least 1")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	if c.Snapshot.Enabled && c.Snapshot.Interval.Duration <= 0 {
		problems = append(problems, "snapshot.interval must be positive when snapshot is enabled")
	}
	if c.Snapshot.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required when snapshot is enabled")
	}
	if !validModes[strings.ToLower(c.Mode)] {
		problems = append(problems, fmt.Sprintf("mode %q is not one of serve, sync, full", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

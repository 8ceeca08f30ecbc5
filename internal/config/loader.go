package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OPINION_* environment variable overrides, and
// returns the final Config. A missing file is not an error; the env-only
// configuration path is common in containers. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPINION_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject the API key at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Upstream ──
	setStr(&cfg.Opinion.BaseURL, "OPINION_BASE_URL")
	setStr(&cfg.Opinion.APIKey, "OPINION_API_KEY")
	setDuration(&cfg.Opinion.Timeout, "OPINION_TIMEOUT")
	setInt(&cfg.Opinion.PageSize, "OPINION_PAGE_SIZE")

	// ── Governor ──
	setInt(&cfg.Governor.MaxConcurrent, "OPINION_GOVERNOR_MAX_CONCURRENT")
	setFloat64(&cfg.Governor.RequestsPerSecond, "OPINION_GOVERNOR_REQUESTS_PER_SECOND")
	setInt(&cfg.Governor.FailureThreshold, "OPINION_GOVERNOR_FAILURE_THRESHOLD")
	setInt(&cfg.Governor.SuccessThreshold, "OPINION_GOVERNOR_SUCCESS_THRESHOLD")
	setDuration(&cfg.Governor.RecoveryTimeout, "OPINION_GOVERNOR_RECOVERY_TIMEOUT")
	setDuration(&cfg.Governor.RetryBaseDelay, "OPINION_GOVERNOR_RETRY_BASE_DELAY")
	setDuration(&cfg.Governor.RetryMaxDelay, "OPINION_GOVERNOR_RETRY_MAX_DELAY")

	// ── Cache ──
	setInt(&cfg.Cache.MaxSize, "OPINION_CACHE_MAX_SIZE")
	setDuration(&cfg.Cache.SweepInterval, "OPINION_CACHE_SWEEP_INTERVAL")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OPINION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPINION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPINION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPINION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPINION_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPINION_REDIS_TLS_ENABLED")

	// ── Snapshot ──
	setBool(&cfg.Snapshot.Enabled, "OPINION_SNAPSHOT_ENABLED")
	setDuration(&cfg.Snapshot.Interval, "OPINION_SNAPSHOT_INTERVAL")
	setInt(&cfg.Snapshot.MaxPages, "OPINION_SNAPSHOT_MAX_PAGES")

	// ── Server ──
	setInt(&cfg.Server.Port, "OPINION_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OPINION_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.Mode, "OPINION_MODE")
	setStr(&cfg.LogLevel, "OPINION_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

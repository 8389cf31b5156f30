package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port           string   `env:"PORT" envDefault:"5200"`
	DatabaseDriver string   `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string   `env:"DATABASE_URL,required"`
	GatewayToken   string   `env:"GATEWAY_SERVICE_TOKEN,required"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	RedisURL       string   `env:"REDIS_URL"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`

	CalendarTimezone    string        `env:"CALENDAR_TIMEZONE" envDefault:"UTC"`
	TuningFile          string        `env:"TUNING_FILE"`
	CreditRetryInterval time.Duration `env:"CREDIT_RETRY_INTERVAL" envDefault:"30s"`

	R2          R2Config
	ProfileSync ProfileSyncConfig
}

// ProfileSyncConfig points at the profile service change feed. Polling is off when URL is empty.
type ProfileSyncConfig struct {
	URL      string        `env:"PROFILE_SYNC_URL"`
	Path     string        `env:"PROFILE_SYNC_PATH" envDefault:"/api/v1/public/profiles"`
	Token    string        `env:"PROFILE_SYNC_TOKEN"`
	Interval time.Duration `env:"PROFILE_SYNC_INTERVAL" envDefault:"1m"`
}

// R2Config holds the Cloudflare R2 credentials. Archiving is off when Bucket is empty.
type R2Config struct {
	AccountID string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKey string `env:"R2_ACCESS_KEY_ID"`
	SecretKey string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket    string `env:"R2_BUCKET_NAME"`
}

// Enabled reports whether snapshot archiving to R2 is configured.
func (c R2Config) Enabled() bool {
	return c.Bucket != "" && c.AccountID != ""
}

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, reading environment variables directly")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	if cfg.CreditRetryInterval <= 0 {
		return nil, fmt.Errorf("CREDIT_RETRY_INTERVAL must be positive, got %s", cfg.CreditRetryInterval)
	}
	if cfg.ProfileSync.Interval <= 0 {
		return nil, fmt.Errorf("PROFILE_SYNC_INTERVAL must be positive, got %s", cfg.ProfileSync.Interval)
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	return &cfg, nil
}

// Location resolves the calendar time zone used for day boundaries.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.CalendarTimezone)
	if err != nil {
		return nil, fmt.Errorf("load calendar timezone %q: %w", c.CalendarTimezone, err)
	}
	return loc, nil
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

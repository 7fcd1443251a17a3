// Package config holds the process configuration read from the environment
// and the tuning constants shared by the helpdesk engine.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the process-level configuration. Business settings that admins
// edit at runtime (auto-reply flags, business hours, SLA thresholds) live in the
// database and are read through the storage layer instead.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"helpdesk"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool   `env:"LOG_PRETTY" envDefault:"true"`

	DatabaseDSN   string `env:"DATABASE_DSN" envDefault:"host=localhost user=user password=password dbname=helpdeskdb port=5432 sslmode=disable"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6380"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"change-me"`

	// Inbound webhook.
	WebhookVerifyToken string `env:"WEBHOOK_VERIFY_TOKEN"`
	WebhookAppSecret   string `env:"WEBHOOK_APP_SECRET"`

	// Outbound channel API.
	ChannelAPIURL        string  `env:"CHANNEL_API_URL" envDefault:"https://graph.facebook.com/v20.0"`
	ChannelPhoneID       string  `env:"CHANNEL_PHONE_ID"`
	ChannelToken         string  `env:"CHANNEL_TOKEN"`
	ChannelTemplateLang  string  `env:"CHANNEL_TEMPLATE_LANG" envDefault:"es_MX"`
	ChannelRatePerSecond float64 `env:"CHANNEL_RATE_PER_SECOND" envDefault:"20"`

	SimilarityURL string `env:"SIMILARITY_URL" envDefault:"http://localhost:5001"`

	AutoReplyWorkers   int           `env:"AUTO_REPLY_WORKERS" envDefault:"4"`
	AutoReplyQueueSize int           `env:"AUTO_REPLY_QUEUE_SIZE" envDefault:"256"`
	SettingsCacheTTL   time.Duration `env:"SETTINGS_CACHE_TTL" envDefault:"5s"`
	SettingsCacheSize  int           `env:"SETTINGS_CACHE_SIZE" envDefault:"64"`
	BusinessTimezone   string        `env:"BUSINESS_TIMEZONE" envDefault:"Local"`

	SLAInterval time.Duration `env:"SLA_INTERVAL" envDefault:"60s"`
	SLASchedule string        `env:"SLA_SCHEDULE"`
	SLALockTTL  time.Duration `env:"SLA_LOCK_TTL" envDefault:"5m"`
	AlertLang   string        `env:"ALERT_LANG" envDefault:"es"`
}

// Load reads a .env file when present and parses the environment into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file loaded, using process environment")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if cfg.AutoReplyWorkers < 1 {
		cfg.AutoReplyWorkers = 1
	}
	return cfg, nil
}

// Location resolves BusinessTimezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.BusinessTimezone == "" || c.BusinessTimezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", c.BusinessTimezone).Msg("unknown business timezone, using local")
		return time.Local
	}
	return loc
}

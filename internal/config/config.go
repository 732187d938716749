// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port      string `env:"SMARTFORM_PORT" envDefault:"8080"`
	BaseURL   string `env:"SMARTFORM_BASE_URL" envDefault:"http://localhost:8080"`
	DBPath    string `env:"SMARTFORM_DB_PATH" envDefault:"smartform.db"`
	LogLevel  string `env:"SMARTFORM_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"SMARTFORM_LOG_FORMAT" envDefault:"text"`

	// TokenStore selects where magic links and sessions live:
	// memory, sqlite, redis or mongo.
	TokenStore    string `env:"SMARTFORM_TOKEN_STORE" envDefault:"sqlite"`
	RedisURL      string `env:"SMARTFORM_REDIS_URL"`
	RedisPrefix   string `env:"SMARTFORM_REDIS_PREFIX" envDefault:"smartform:"`
	MongoURI      string `env:"SMARTFORM_MONGO_URI"`
	MongoDatabase string `env:"SMARTFORM_MONGO_DATABASE" envDefault:"smartform"`

	MagicLinkTTL time.Duration `env:"SMARTFORM_MAGIC_LINK_TTL" envDefault:"15m"`
	SessionTTL   time.Duration `env:"SMARTFORM_SESSION_TTL" envDefault:"24h"`
	CookieSecure bool          `env:"SMARTFORM_COOKIE_SECURE" envDefault:"false"`
	StoreTimeout time.Duration `env:"SMARTFORM_STORE_TIMEOUT" envDefault:"5s"`
	PurgeEvery   time.Duration `env:"SMARTFORM_PURGE_INTERVAL" envDefault:"1h"`

	RateLimitMax    int           `env:"SMARTFORM_RATE_LIMIT_MAX" envDefault:"10"`
	RateLimitWindow time.Duration `env:"SMARTFORM_RATE_LIMIT_WINDOW" envDefault:"5m"`
	// AuthStartPerMinute limits magic link requests per client IP.
	AuthStartPerMinute int `env:"SMARTFORM_AUTH_START_PER_MINUTE" envDefault:"10"`

	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiModel   string `env:"SMARTFORM_GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
	GeminiBaseURL string `env:"SMARTFORM_GEMINI_BASE_URL"`

	// Delivery selects the magic link channel: log, resend or postmark.
	Delivery      string `env:"SMARTFORM_DELIVERY" envDefault:"log"`
	ResendAPIKey  string `env:"RESEND_API_KEY"`
	PostmarkToken string `env:"POSTMARK_SERVER_TOKEN"`
	FromEmail     string `env:"SMARTFORM_FROM_EMAIL" envDefault:"login@localhost"`
	// ExposeMagicLink returns the link in the start response. Development
	// only.
	ExposeMagicLink bool `env:"SMARTFORM_EXPOSE_MAGIC_LINK" envDefault:"false"`

	AllowedOrigins []string `env:"SMARTFORM_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName    string   `env:"OTEL_SERVICE_NAME" envDefault:"smartform"`
}

// Load reads a .env file when present, then parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c Config) Validate() error {
	switch c.TokenStore {
	case "memory", "sqlite":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("config: SMARTFORM_REDIS_URL is required for the redis token store")
		}
	case "mongo":
		if c.MongoURI == "" {
			return errors.New("config: SMARTFORM_MONGO_URI is required for the mongo token store")
		}
	default:
		return fmt.Errorf("config: unknown token store %q", c.TokenStore)
	}

	switch c.Delivery {
	case "log":
	case "resend":
		if c.ResendAPIKey == "" {
			return errors.New("config: RESEND_API_KEY is required for resend delivery")
		}
	case "postmark":
		if c.PostmarkToken == "" {
			return errors.New("config: POSTMARK_SERVER_TOKEN is required for postmark delivery")
		}
	default:
		return fmt.Errorf("config: unknown delivery %q", c.Delivery)
	}

	if c.MagicLinkTTL <= 0 || c.SessionTTL <= 0 || c.StoreTimeout <= 0 {
		return errors.New("config: durations must be positive")
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("config: rate limit must be positive")
	}
	return nil
}

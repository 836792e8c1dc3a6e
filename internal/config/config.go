package config

import (
	"fmt"
	"slices"

	pkgconfig "github.com/timbouc/cart/pkg/config"
)

// Storage drivers selectable through CART_STORAGE_DEFAULT.
var storageDrivers = []string{"local", "memory", "redis", "postgres"}

// Config holds all configuration for the cart service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort       int      `env:"CART_HTTP_PORT" envDefault:"8003"`
	AllowedOrigins []string `env:"CART_ALLOWED_ORIGINS" envSeparator:","`

	// Per-session request rate on the cart routes. Zero disables limiting.
	RateLimitRPS   float64 `env:"CART_RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"CART_RATE_LIMIT_BURST" envDefault:"40"`

	// Storage
	StorageDefault string `env:"CART_STORAGE_DEFAULT" envDefault:"local"`
	StorageFile    string `env:"CART_STORAGE_FILE" envDefault:"storage/cart.json"`

	// Redis
	RedisURL      string `env:"REDIS_URL"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass     string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`
	RedisPrefix   string `env:"CART_REDIS_PREFIX" envDefault:"cart:"`

	// Cart TTL in hours for the redis driver (default: 7 days)
	CartTTL int `env:"CART_TTL_HOURS" envDefault:"168"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"cart"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"cart_secret"`
	PostgresDB   string `env:"CART_DB_NAME" envDefault:"cart_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns int32 `env:"DB_MIN_CONNS" envDefault:"5"`

	// Circuit breaker around remote storages
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Load/save throttling. Zero reads storage on every call and writes synchronously.
	WriteThrottleMs int `env:"CART_WRITE_THROTTLE_MS" envDefault:"0"`
	ReadThrottleMs  int `env:"CART_READ_THROTTLE_MS" envDefault:"0"`

	// Idle sessions are flushed and dropped from memory after this many minutes.
	SessionIdleMinutes int `env:"CART_SESSION_IDLE_MINUTES" envDefault:"30"`

	// CEL expression reshaping condition values; empty disables it.
	ConditionRule string `env:"CART_CONDITION_RULE"`

	// Kafka. Events are disabled when no brokers are configured.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables, falling back to a
// .env file in the working directory.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg, pkgconfig.WithDotenv(".env")); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if !slices.Contains(storageDrivers, c.StorageDefault) {
		return fmt.Errorf("CART_STORAGE_DEFAULT must be one of %v, got %q", storageDrivers, c.StorageDefault)
	}
	if c.StorageDefault == "local" && c.StorageFile == "" {
		return fmt.Errorf("CART_STORAGE_FILE is required for the local driver")
	}
	if c.StorageDefault == "postgres" && (c.PostgresHost == "" || c.PostgresUser == "") {
		return fmt.Errorf("POSTGRES_HOST and POSTGRES_USER are required for the postgres driver")
	}
	if c.WriteThrottleMs < 0 || c.ReadThrottleMs < 0 {
		return fmt.Errorf("throttle durations must not be negative")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.SessionIdleMinutes < 0 {
		return fmt.Errorf("CART_SESSION_IDLE_MINUTES must not be negative, got %d", c.SessionIdleMinutes)
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1.0 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0.0, 1.0], got %f", c.CBFailureRatio)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// EventsEnabled reports whether cart events should be published.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

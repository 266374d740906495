// Package config provides configuration management for the API foundation
// service. It handles loading configuration from environment variables with
// sensible defaults and validates the configuration so the service starts
// safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Database Configuration:
//   - DATABASE_TYPE: Database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./api_foundation.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name
//   - POSTGRES_USER: PostgreSQL username
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Cache Configuration:
//   - CACHE_PREFIX: Cache key prefix (default: apif)
//   - CACHE_DEFAULT_TTL: Default TTL for cached values (default: 1h)
//   - CACHE_VOLATILITY: Per-prefix TTL overrides as "prefix=ttl" pairs,
//     comma separated (default: "user_=5m,session_=2m,static_=24h")
//   - CACHE_LOCK_WAIT: Max wait for the stampede lock before computing
//     directly (default: 1s)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable rate limiting (default: true)
//   - RATE_LIMIT_WINDOW: Fixed window length (default: 60s)
//   - RATE_LIMIT_ANONYMOUS: Per-window limit for unauthenticated callers
//     (default: 30)
//   - RATE_LIMIT_FAILURE_POLICY: "open" or "closed" when Redis is down
//     (default: open). Open admits through a conservative local limiter;
//     closed denies with 503.
//   - RATE_LIMIT_FALLBACK_RPS: Requests per second admitted by the local
//     fallback limiter under the open policy (default: 5)
//
// Security Configuration:
//   - SECRET_ENCRYPTION_KEY: Key for encrypting webhook secrets at rest
//     (required, minimum 32 characters)
//   - API_KEY_TTL: Lifetime of newly generated API keys (default: 8760h)
//   - API_KEY_CACHE_TTL: Validation cache TTL (default: 5m)
//
// Message Queue:
//   - AMQP_URL: RabbitMQ connection URL (optional; queue metrics and alert
//     publishing are disabled without it)
//   - JOB_QUEUE: Job queue name inspected for pending depth (default: jobs)
//   - FAILED_QUEUE: Dead-letter queue name inspected for failed depth
//     (default: jobs.failed)
//   - ALERT_EXCHANGE: Exchange alerts are published to (default: alerts)
//
// Monitoring:
//   - METRIC_RETENTION: How long metric buckets are kept (default: 24h)
//   - ALERT_THRESHOLDS: Threshold rules as "type:name=value" pairs, comma
//     separated (e.g. "error:http_5xx=50,latency:p99_ms=1500")
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the API foundation service.
// All string fields correspond to environment variables that can be set to
// override the default values.
//
// The configuration is loaded using the Load() function and should be
// validated using the Validate() method before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Database configuration
	DatabaseType     string // Database type: "sqlite" or "postgres"
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Redis configuration for distributed coordination
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size

	// Cache configuration
	CachePrefix     string // Key prefix for the versioned cache namespace
	CacheDefaultTTL string // Default TTL for cached values
	CacheVolatility string // Comma-separated "prefix=ttl" volatility overrides
	CacheLockWait   string // Max stampede lock wait before direct compute

	// Rate limiting configuration
	RateLimitEnabled       bool   // Whether rate limiting is enabled
	RateLimitWindow        string // Fixed window length (e.g. "60s")
	RateLimitAnonymous     string // Per-window limit for unauthenticated callers
	RateLimitFailurePolicy string // "open" or "closed" on Redis outage
	RateLimitFallbackRPS   string // Local fallback rate under the open policy

	// Security configuration
	SecretEncryptionKey string // Key for encrypting webhook secrets at rest
	APIKeyTTL           string // Lifetime of newly generated API keys
	APIKeyCacheTTL      string // Validation cache TTL

	// Message queue configuration
	AMQPURL       string // RabbitMQ connection URL
	JobQueue      string // Job queue inspected for pending depth
	FailedQueue   string // Dead-letter queue inspected for failed depth
	AlertExchange string // Exchange alerts are published to

	// Monitoring configuration
	MetricRetention string // How long metric buckets are kept
	AlertThresholds string // Comma-separated "type:name=value" threshold rules
}

// Load creates a new Config instance with values loaded from environment
// variables. If an environment variable is not set, the corresponding default
// is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./api_foundation.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "api_foundation"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		CachePrefix:     getEnv("CACHE_PREFIX", "apif"),
		CacheDefaultTTL: getEnv("CACHE_DEFAULT_TTL", "1h"),
		CacheVolatility: getEnv("CACHE_VOLATILITY", "user_=5m,session_=2m,static_=24h"),
		CacheLockWait:   getEnv("CACHE_LOCK_WAIT", "1s"),

		RateLimitEnabled:       getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitWindow:        getEnv("RATE_LIMIT_WINDOW", "60s"),
		RateLimitAnonymous:     getEnv("RATE_LIMIT_ANONYMOUS", "30"),
		RateLimitFailurePolicy: getEnv("RATE_LIMIT_FAILURE_POLICY", "open"),
		RateLimitFallbackRPS:   getEnv("RATE_LIMIT_FALLBACK_RPS", "5"),

		SecretEncryptionKey: getEnv("SECRET_ENCRYPTION_KEY", ""),
		APIKeyTTL:           getEnv("API_KEY_TTL", "8760h"),
		APIKeyCacheTTL:      getEnv("API_KEY_CACHE_TTL", "5m"),

		AMQPURL:       getEnv("AMQP_URL", ""),
		JobQueue:      getEnv("JOB_QUEUE", "jobs"),
		FailedQueue:   getEnv("FAILED_QUEUE", "jobs.failed"),
		AlertExchange: getEnv("ALERT_EXCHANGE", "alerts"),

		MetricRetention: getEnv("METRIC_RETENTION", "24h"),
		AlertThresholds: getEnv("ALERT_THRESHOLDS", ""),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are valid. The application should call
// this after Load() and before starting.
func (c *Config) Validate() error {
	if c.SecretEncryptionKey == "" {
		return fmt.Errorf("SECRET_ENCRYPTION_KEY environment variable is required")
	}

	if len(c.SecretEncryptionKey) < 32 {
		return fmt.Errorf("SECRET_ENCRYPTION_KEY must be at least 32 characters long")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}

	switch c.RateLimitFailurePolicy {
	case "open", "closed":
	default:
		return fmt.Errorf("RATE_LIMIT_FAILURE_POLICY must be 'open' or 'closed'")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"CACHE_DEFAULT_TTL", c.CacheDefaultTTL},
		{"CACHE_LOCK_WAIT", c.CacheLockWait},
		{"RATE_LIMIT_WINDOW", c.RateLimitWindow},
		{"API_KEY_TTL", c.APIKeyTTL},
		{"API_KEY_CACHE_TTL", c.APIKeyCacheTTL},
		{"METRIC_RETENTION", c.MetricRetention},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s must be a valid duration: %v", field.name, err)
		}
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"RATE_LIMIT_ANONYMOUS", c.RateLimitAnonymous},
		{"RATE_LIMIT_FALLBACK_RPS", c.RateLimitFallbackRPS},
	} {
		if n, err := strconv.Atoi(field.value); err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive integer", field.name)
		}
	}

	return nil
}

// Duration returns the parsed value of a duration field. Validate() must have
// succeeded; unparseable values fall back to the provided default.
func Duration(value string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return fallback
}

// Int returns the parsed value of an integer field, falling back on error.
func Int(value string, fallback int) int {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return fallback
}

// ParseVolatility parses comma-separated "prefix=ttl" pairs, the format of
// CACHE_VOLATILITY. Malformed pairs are skipped.
func ParseVolatility(value string) map[string]time.Duration {
	overrides := make(map[string]time.Duration)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		prefix, ttlStr, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		if ttl, err := time.ParseDuration(strings.TrimSpace(ttlStr)); err == nil {
			overrides[strings.TrimSpace(prefix)] = ttl
		}
	}
	return overrides
}

// Package config provides configuration management for the API bridge.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration so the process refuses to start
// with unusable credentials.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - USER_AGENT: User-Agent header for outbound API calls (default: apibridge/1.0)
//   - TLS_CERT / TLS_KEY: Certificate and key paths; both set enables HTTPS
//
// OAuth Provider:
//   - OAUTH_CLIENT_ID: OAuth2 client id (required)
//   - OAUTH_CLIENT_SECRET: OAuth2 client secret (required)
//   - OAUTH_REDIRECT_URI: Registered redirect URI (required)
//   - OAUTH_AUTH_URL: Provider authorization endpoint (required)
//   - OAUTH_TOKEN_URL: Provider token endpoint (required)
//   - OAUTH_REVOKE_URL: Provider revoke endpoint (optional)
//   - OAUTH_DEFAULT_SCOPE: Scope requested when callers give none
//
// Upstream API:
//   - API_BASE_URL: Base URL of the third-party API (required)
//   - API_REQUEST_TIMEOUT: Per-request HTTP timeout (default: 30s)
//   - API_MAX_RETRIES: Retry attempts per request (default: 3)
//   - API_RETRY_BASE_DELAY: Base delay for exponential backoff (default: 1s)
//
// Rate Limiting:
//   - RATE_LIMIT_CAPACITY: Bucket capacity / burst size (default: 60)
//   - RATE_LIMIT_REFILL: Tokens added per interval (default: 60)
//   - RATE_LIMIT_INTERVAL: Refill interval (default: 60s)
//
// Token Storage:
//   - DATABASE_TYPE: "sqlite", "postgres" or "memory" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./apibridge.db)
//   - POSTGRES_HOST / POSTGRES_PORT / POSTGRES_DB / POSTGRES_USER /
//     POSTGRES_PASSWORD / POSTGRES_SSL_MODE: PostgreSQL connection settings
//
// Background Refresh:
//   - TOKEN_REFRESH_INTERVAL: Proactive refresh cadence (default: 30m)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the API bridge. All fields
// correspond to environment variables. Load the configuration with Load()
// and check it with Validate() before use.
type Config struct {
	// Application settings
	Port      string // Server port number
	LogLevel  string // Logging level (debug, info, warn, error)
	UserAgent string // User-Agent header for outbound requests
	TLSCert   string // Path to TLS certificate file, empty disables TLS
	TLSKey    string // Path to TLS private key file

	// OAuth provider settings
	OAuthClientID     string // OAuth2 client id (required)
	OAuthClientSecret string // OAuth2 client secret (required)
	OAuthRedirectURI  string // Registered redirect URI (required)
	OAuthAuthURL      string // Authorization endpoint (required)
	OAuthTokenURL     string // Token endpoint (required)
	OAuthRevokeURL    string // Revoke endpoint, may be empty
	OAuthDefaultScope string // Scope used when callers supply none

	// Upstream API settings
	APIBaseURL        string        // Base URL of the third-party API (required)
	APIRequestTimeout time.Duration // Per-request HTTP timeout
	APIMaxRetries     int           // Retry attempts per request
	APIRetryBaseDelay time.Duration // Base delay for exponential backoff

	// Rate limiting configuration
	RateLimitCapacity int           // Bucket capacity (burst size)
	RateLimitRefill   int           // Tokens added per interval
	RateLimitInterval time.Duration // Refill interval

	// Token storage configuration
	DatabaseType     string // "sqlite", "postgres" or "memory"
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Background refresh configuration
	TokenRefreshInterval time.Duration // Proactive refresh cadence
}

// Load creates a new Config instance with values loaded from environment
// variables. Defaults apply where a variable is unset. Load does not
// validate; call Validate() on the returned Config.
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		UserAgent: getEnv("USER_AGENT", "apibridge/1.0"),
		TLSCert:   getEnv("TLS_CERT", ""),
		TLSKey:    getEnv("TLS_KEY", ""),

		OAuthClientID:     getEnv("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
		OAuthRedirectURI:  getEnv("OAUTH_REDIRECT_URI", ""),
		OAuthAuthURL:      getEnv("OAUTH_AUTH_URL", ""),
		OAuthTokenURL:     getEnv("OAUTH_TOKEN_URL", ""),
		OAuthRevokeURL:    getEnv("OAUTH_REVOKE_URL", ""),
		OAuthDefaultScope: getEnv("OAUTH_DEFAULT_SCOPE", "read"),

		APIBaseURL:        getEnv("API_BASE_URL", ""),
		APIRequestTimeout: getDurationEnv("API_REQUEST_TIMEOUT", 30*time.Second),
		APIMaxRetries:     getIntEnv("API_MAX_RETRIES", 3),
		APIRetryBaseDelay: getDurationEnv("API_RETRY_BASE_DELAY", time.Second),

		RateLimitCapacity: getIntEnv("RATE_LIMIT_CAPACITY", 60),
		RateLimitRefill:   getIntEnv("RATE_LIMIT_REFILL", 60),
		RateLimitInterval: getDurationEnv("RATE_LIMIT_INTERVAL", 60*time.Second),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./apibridge.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "apibridge"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		TokenRefreshInterval: getDurationEnv("TOKEN_REFRESH_INTERVAL", 30*time.Minute),
	}
}

// getEnv retrieves an environment variable value or returns a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable, falling back to the
// default on absence or parse failure.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable, falling back to
// the default on absence or parse failure.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks that all required fields are present and all values are
// usable. Missing OAuth credentials are fatal: the process must not start
// and then fail per-request.
func (c *Config) Validate() error {
	if c.OAuthClientID == "" {
		return fmt.Errorf("OAUTH_CLIENT_ID environment variable is required")
	}
	if c.OAuthClientSecret == "" {
		return fmt.Errorf("OAUTH_CLIENT_SECRET environment variable is required")
	}
	if c.OAuthRedirectURI == "" {
		return fmt.Errorf("OAUTH_REDIRECT_URI environment variable is required")
	}
	if c.OAuthAuthURL == "" {
		return fmt.Errorf("OAUTH_AUTH_URL environment variable is required")
	}
	if c.OAuthTokenURL == "" {
		return fmt.Errorf("OAUTH_TOKEN_URL environment variable is required")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL environment variable is required")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.APIMaxRetries < 0 {
		return fmt.Errorf("API_MAX_RETRIES must not be negative")
	}
	if c.APIRetryBaseDelay <= 0 {
		return fmt.Errorf("API_RETRY_BASE_DELAY must be positive")
	}

	if c.RateLimitCapacity < 1 {
		return fmt.Errorf("RATE_LIMIT_CAPACITY must be a positive number")
	}
	if c.RateLimitRefill < 1 {
		return fmt.Errorf("RATE_LIMIT_REFILL must be a positive number")
	}
	if c.RateLimitInterval <= 0 {
		return fmt.Errorf("RATE_LIMIT_INTERVAL must be a positive duration")
	}

	switch c.DatabaseType {
	case "sqlite", "memory":
	case "postgres", "postgresql":
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
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite', 'postgres' or 'memory'")
	}

	if c.TokenRefreshInterval <= 0 {
		return fmt.Errorf("TOKEN_REFRESH_INTERVAL must be a positive duration")
	}

	return nil
}

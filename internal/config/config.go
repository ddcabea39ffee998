// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Session       SessionConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig
	IdP           IdPConfig
	Tunnel        TunnelConfig
	Bootstrap     BootstrapConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the encryption key cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	KeyTTL   time.Duration
}

// SessionConfig holds session management configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite string
	Lifetime       time.Duration
	IdleTimeout    time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel        string
	LogFormat       string
	OTELEnabled     bool
	MetricsEnabled  bool
	ServiceName     string
	ServiceVersion  string
	TraceSampleRate float64
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Argon2Memory       uint32
	Argon2Iterations   uint32
	Argon2Parallelism  uint8
	Argon2SaltLength   uint32
	Argon2KeyLength    uint32
	LockoutMaxAttempts int
	LockoutDuration    time.Duration
}

// IdPConfig configures satellite token issuance.
type IdPConfig struct {
	Issuer string
	// TokenTTL is the satellite token lifetime.
	TokenTTL time.Duration
	// PrivateKeyPEM and PublicKeyPEM are base64-encoded PEM documents. When
	// both are empty a key is generated at startup.
	PrivateKeyPEM string
	PublicKeyPEM  string
	KeyID         string
	KeySize       int
	RetainedKeys  int
	// AllowedAudiences is the static fallback used when the user store
	// cannot be consulted.
	AllowedAudiences []string
}

// TunnelConfig configures the hub side of tunnel exchanges.
type TunnelConfig struct {
	PendingTTL    time.Duration
	SweepInterval time.Duration
}

// BootstrapConfig seeds the first admin account.
type BootstrapConfig struct {
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:   parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:    parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			RequestTimeout: parseDuration("SERVER_REQUEST_TIMEOUT", "30s"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "hubtrust"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "hubtrust"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt("REDIS_DB", 0),
			KeyTTL:   parseDuration("REDIS_KEY_TTL", "5m"),
		},
		Session: SessionConfig{
			CookieName:     getEnv("SESSION_COOKIE_NAME", "hubtrust_session"),
			CookieDomain:   getEnv("SESSION_COOKIE_DOMAIN", ""),
			CookiePath:     getEnv("SESSION_COOKIE_PATH", "/"),
			CookieSecure:   parseBool("SESSION_COOKIE_SECURE", false),
			CookieHTTPOnly: parseBool("SESSION_COOKIE_HTTP_ONLY", true),
			CookieSameSite: getEnv("SESSION_COOKIE_SAME_SITE", "Lax"),
			Lifetime:       parseDuration("SESSION_LIFETIME", "24h"),
			IdleTimeout:    parseDuration("SESSION_IDLE_TIMEOUT", "30m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			LogFormat:       getEnv("LOG_FORMAT", "json"),
			OTELEnabled:     parseBool("OTEL_ENABLED", false),
			MetricsEnabled:  parseBool("METRICS_ENABLED", true),
			ServiceName:     getEnv("OTEL_SERVICE_NAME", "hubtrust"),
			ServiceVersion:  getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
			TraceSampleRate: parseFloat("OTEL_TRACE_SAMPLE_RATE", 1.0),
		},
		Security: SecurityConfig{
			Argon2Memory:       uint32(parseInt("ARGON2_MEMORY", 65536)),
			Argon2Iterations:   uint32(parseInt("ARGON2_ITERATIONS", 3)),
			Argon2Parallelism:  uint8(parseInt("ARGON2_PARALLELISM", 4)),
			Argon2SaltLength:   uint32(parseInt("ARGON2_SALT_LENGTH", 16)),
			Argon2KeyLength:    uint32(parseInt("ARGON2_KEY_LENGTH", 32)),
			LockoutMaxAttempts: parseInt("SECURITY_LOCKOUT_MAX_ATTEMPTS", 5),
			LockoutDuration:    parseDuration("SECURITY_LOCKOUT_DURATION", "15m"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 10),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
		IdP: IdPConfig{
			Issuer:           getEnv("IDP_ISSUER", "http://localhost:8080"),
			TokenTTL:         parseDuration("IDP_TOKEN_TTL", "60s"),
			PrivateKeyPEM:    getEnv("IDP_PRIVATE_KEY", ""),
			PublicKeyPEM:     getEnv("IDP_PUBLIC_KEY", ""),
			KeyID:            getEnv("IDP_KEY_ID", ""),
			KeySize:          parseInt("IDP_KEY_SIZE", 2048),
			RetainedKeys:     parseInt("IDP_RETAINED_KEYS", 3),
			AllowedAudiences: parseList("IDP_ALLOWED_AUDIENCES"),
		},
		Tunnel: TunnelConfig{
			PendingTTL:    parseDuration("TUNNEL_PENDING_TTL", "30s"),
			SweepInterval: parseDuration("TUNNEL_SWEEP_INTERVAL", "10s"),
		},
		Bootstrap: BootstrapConfig{
			AdminUsername: getEnv("BOOTSTRAP_ADMIN_USERNAME", ""),
			AdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD or DATABASE_URL is required")
	}
	if c.IdP.Issuer == "" {
		return fmt.Errorf("IDP_ISSUER is required")
	}
	if c.IdP.TokenTTL <= 0 {
		return fmt.Errorf("IDP_TOKEN_TTL must be positive")
	}
	if c.IdP.KeySize < 2048 {
		return fmt.Errorf("IDP_KEY_SIZE must be at least 2048")
	}
	if c.IdP.PrivateKeyPEM == "" && c.IdP.PublicKeyPEM != "" {
		return fmt.Errorf("IDP_PUBLIC_KEY requires IDP_PRIVATE_KEY")
	}
	if c.Bootstrap.AdminUsername != "" && c.Bootstrap.AdminPassword == "" {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD is required with BOOTSTRAP_ADMIN_USERNAME")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

// parseList splits a comma separated variable, dropping empty items.
func parseList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

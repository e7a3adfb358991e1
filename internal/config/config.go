package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // seconds
}

// AuthConfig holds token signing configuration.
type AuthConfig struct {
	Secret   []byte
	Issuer   string
	TokenTTL time.Duration
}

// StorageConfig selects and configures the object storage backend.
type StorageConfig struct {
	Driver          string // "s3" or "memory"
	Bucket          string
	PublicURL       string // base URL objects are served from
	Region          string
	Endpoint        string // optional, for S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
}

// RateLimitConfig holds per-caller request limits.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type Config struct {
	Port           string
	Environment    string
	Database       DatabaseConfig
	Auth           AuthConfig
	Storage        StorageConfig
	RateLimit      RateLimitConfig
	AllowedOrigins []string

	// TrustProxyHeaders takes the client IP from X-Forwarded-For/X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

const minSecretLength = 32

// Load reads configuration from environment variables.
// It fails fast with clear errors for missing required values.
func Load() (*Config, error) {
	var missing []string

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "staging" && env != "production" {
		return nil, fmt.Errorf("invalid ENV value %q: must be development, staging, or production", env)
	}

	// Database configuration (required)
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	// Token signing secret (required)
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if err := validateDatabaseURL(databaseURL); err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	if len(jwtSecret) < minSecretLength {
		return nil, fmt.Errorf("invalid JWT_SECRET: must be at least %d bytes, got %d", minSecretLength, len(jwtSecret))
	}

	storage, err := loadStorage(env)
	if err != nil {
		return nil, err
	}

	dbConfig := DatabaseConfig{
		URL:             databaseURL,
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvInt("DB_CONN_MAX_LIFETIME", 300),
	}

	return &Config{
		Port:        port,
		Environment: env,
		Database:    dbConfig,
		Auth: AuthConfig{
			Secret:   []byte(jwtSecret),
			Issuer:   getEnv("JWT_ISSUER", "tenantdesk"),
			TokenTTL: time.Duration(getEnvInt("JWT_TTL_MINUTES", 60)) * time.Minute,
		},
		Storage: storage,
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst: getEnvInt("RATE_LIMIT_BURST", 20),
		},
		AllowedOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),
	}, nil
}

// loadStorage reads the object storage settings. The S3 driver requires a
// public URL so uploaded objects can be addressed by clients.
func loadStorage(env string) (StorageConfig, error) {
	defaultDriver := "s3"
	if env == "development" {
		defaultDriver = "memory"
	}

	cfg := StorageConfig{
		Driver:          getEnv("STORAGE_DRIVER", defaultDriver),
		Bucket:          getEnv("STORAGE_BUCKET", "company-assets"),
		PublicURL:       strings.TrimRight(getEnv("STORAGE_PUBLIC_URL", "http://localhost:8080/storage"), "/"),
		Region:          getEnv("STORAGE_REGION", "us-east-1"),
		Endpoint:        os.Getenv("STORAGE_ENDPOINT"),
		AccessKeyID:     os.Getenv("STORAGE_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("STORAGE_SECRET_ACCESS_KEY"),
	}

	switch cfg.Driver {
	case "memory":
	case "s3":
		if os.Getenv("STORAGE_PUBLIC_URL") == "" {
			return cfg, fmt.Errorf("missing required environment variables: [STORAGE_PUBLIC_URL]")
		}
		if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
			return cfg, fmt.Errorf("STORAGE_ACCESS_KEY_ID and STORAGE_SECRET_ACCESS_KEY must be set together")
		}
	default:
		return cfg, fmt.Errorf("invalid STORAGE_DRIVER value %q: must be s3 or memory", cfg.Driver)
	}

	if _, err := url.ParseRequestURI(cfg.PublicURL); err != nil {
		return cfg, fmt.Errorf("invalid STORAGE_PUBLIC_URL: %w", err)
	}

	return cfg, nil
}

// validateDatabaseURL ensures the database URL is a valid PostgreSQL connection string.
func validateDatabaseURL(dbURL string) error {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("URL must use postgres or postgresql scheme, got %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt reads an environment variable as an integer with a default fallback.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment selects runtime behavior (inline vs queued webhook
// processing, scheduler leases disabled under test).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Stripe   StripeConfig
	Paystack PaystackConfig
	App      AppConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// RedisConfig holds Redis configuration for locks, dedupe and the
// webhook queue.
type RedisConfig struct {
	URL string
}

// StripeConfig holds credentials for the global card processor.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// PaystackConfig holds credentials for the regional processor.
type PaystackConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// AppConfig holds platform-level settings.
type AppConfig struct {
	Env              Environment
	SessionSecret    string // HMAC key for manage/cancel tokens
	EncryptionSecret string // AES key material for PII at rest
	AdminSecret      string // shared secret for /admin endpoints
	CronSecret       string // shared secret for manual job triggers
	AppURL           string
	PublicPageURL    string
	FXRateURL        string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "payments"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Paystack: PaystackConfig{
			SecretKey:     getEnv("PAYSTACK_SECRET_KEY", ""),
			WebhookSecret: getEnv("PAYSTACK_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			Timeout:       time.Duration(getEnvAsInt("PAYSTACK_TIMEOUT", 10)) * time.Second,
		},
		App: AppConfig{
			Env:              Environment(getEnv("APP_ENV", string(EnvDevelopment))),
			SessionSecret:    getEnv("SESSION_SECRET", ""),
			EncryptionSecret: getEnv("ENCRYPTION_SECRET", ""),
			AdminSecret:      getEnv("ADMIN_SECRET", ""),
			CronSecret:       getEnv("CRON_SECRET", ""),
			AppURL:           getEnv("APP_URL", "http://localhost:8080"),
			PublicPageURL:    getEnv("PUBLIC_PAGE_URL", "http://localhost:3000"),
			FXRateURL:        getEnv("FX_RATE_URL", "https://api.exchangerate.host"),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.App.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if cfg.App.EncryptionSecret == "" {
		return nil, fmt.Errorf("ENCRYPTION_SECRET is required")
	}
	if cfg.Stripe.SecretKey == "" && cfg.Paystack.SecretKey == "" {
		return nil, fmt.Errorf("at least one of STRIPE_SECRET_KEY or PAYSTACK_SECRET_KEY is required")
	}

	return cfg, nil
}

// IsTest reports whether the service runs under the test environment.
// Scheduler leases and async webhook processing are disabled in test.
func (a *AppConfig) IsTest() bool {
	return a.Env == EnvTest
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

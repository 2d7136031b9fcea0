package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	InternalAPISecret   string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string

	// Provider OAuth settings (Outlook today).
	OutlookClientID     string
	OutlookClientSecret string
	OutlookTenant       string

	// WebhookBaseURL is the externally reachable base URL the provider posts
	// notifications to, e.g. https://sync.example.com.
	WebhookBaseURL string

	// SyncInterval is how stale an account's lastSyncAt may be before the
	// scheduled trigger picks it up again.
	SyncInterval time.Duration

	// BodyCacheSize is the maximum number of message bodies held in memory.
	BodyCacheSize int
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	syncInterval, err := time.ParseDuration(getEnvOrDefault("MAILSYNC_SYNC_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAILSYNC_SYNC_INTERVAL: %w", err)
	}

	bodyCacheSize, err := strconv.Atoi(getEnvOrDefault("MAILSYNC_BODY_CACHE_SIZE", "200"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAILSYNC_BODY_CACHE_SIZE: %w", err)
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("MAILSYNC_ENCRYPTION_KEY_BASE64"),
		InternalAPISecret:   os.Getenv("MAILSYNC_INTERNAL_API_SECRET"),
		DBHost:              getEnvOrDefault("MAILSYNC_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("MAILSYNC_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("MAILSYNC_DB_USER", "mailsync"),
		DBPassword:          os.Getenv("MAILSYNC_DB_PASSWORD"),
		DBName:              getEnvOrDefault("MAILSYNC_DB_NAME", "mailsync"),
		DBSSLMode:           getEnvOrDefault("MAILSYNC_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "8080"),
		OutlookClientID:     os.Getenv("MAILSYNC_OUTLOOK_CLIENT_ID"),
		OutlookClientSecret: os.Getenv("MAILSYNC_OUTLOOK_CLIENT_SECRET"),
		OutlookTenant:       getEnvOrDefault("MAILSYNC_OUTLOOK_TENANT", "common"),
		WebhookBaseURL:      os.Getenv("MAILSYNC_WEBHOOK_BASE_URL"),
		SyncInterval:        syncInterval,
		BodyCacheSize:       bodyCacheSize,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.InternalAPISecret == "" {
		return fmt.Errorf("MAILSYNC_INTERNAL_API_SECRET is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILSYNC_DB_PASSWORD is required")
	}

	if c.WebhookBaseURL == "" {
		return fmt.Errorf("MAILSYNC_WEBHOOK_BASE_URL is required")
	}

	if c.BodyCacheSize <= 0 {
		return fmt.Errorf("MAILSYNC_BODY_CACHE_SIZE must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

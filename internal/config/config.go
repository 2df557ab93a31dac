package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Cache settings
	CachePath       string
	CacheQuotaBytes int64
	LogLevel        string

	// Remote API
	APIBaseURL     string
	APIToken       string
	TenantID       string
	RequestTimeout time.Duration

	// Connectivity probing
	HealthURL     string
	ProbeInterval time.Duration

	// Sync queue
	FlushInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		CachePath:       getEnv("CACHE_PATH", "/data/offline_cache.db"),
		CacheQuotaBytes: int64(getEnvInt("CACHE_QUOTA_MB", 512)) * 1024 * 1024,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		APIBaseURL:      getEnv("API_BASE_URL", ""),
		APIToken:        getEnv("API_TOKEN", ""),
		TenantID:        getEnv("TENANT_ID", "default"),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		HealthURL:       getEnv("HEALTH_URL", ""),
		ProbeInterval:   getEnvDuration("PROBE_INTERVAL", 15*time.Second),
		FlushInterval:   getEnvDuration("FLUSH_INTERVAL", 5*time.Minute),
		MaxRetries:      getEnvInt("SYNC_MAX_RETRIES", 50),
		RetryBackoff:    getEnvDuration("SYNC_RETRY_BACKOFF", 30*time.Second),
	}

	// Probe the API root when no dedicated health endpoint is configured
	if cfg.HealthURL == "" && cfg.APIBaseURL != "" {
		cfg.HealthURL = cfg.APIBaseURL + "/health"
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.TenantID == "" {
		return fmt.Errorf("TENANT_ID is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("SYNC_MAX_RETRIES must not be negative")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package storage

import (
	"batchkit/internal/config"
	"batchkit/pkg/backoff"
	"time"
)

// Hardcoded breaker defaults - these rarely need tuning.
const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
)

// Config holds configuration for the blob storage client.
type Config struct {
	BaseURL     string          // object store root, e.g. http://blobs:9000/batch
	Token       string          // bearer token sent with every request, optional
	MaxRetries  int             // retries per upload after the first attempt (default: 3)
	HTTPTimeout time.Duration   // per-request timeout (default: 60s)
	Backoff     *backoff.Config // retry backoff (default: backoff package defaults)
}

// LoadConfigFromEnv loads storage configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		BaseURL:     config.GetEnv("STORAGE_URL", ""),
		Token:       config.GetSecretFile(config.GetEnv("STORAGE_TOKEN_FILE", "")),
		MaxRetries:  config.GetIntEnv("STORAGE_MAX_RETRIES", 3),
		HTTPTimeout: config.GetDurationEnv("STORAGE_HTTP_TIMEOUT", 60*time.Second),
		Backoff:     config.GetBackoffEnv("STORAGE", 0.1),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 60 * time.Second
	}
	return c
}

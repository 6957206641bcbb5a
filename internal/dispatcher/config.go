package dispatcher

import (
	"batchkit/internal/config"
	"batchkit/pkg/backoff"
	"time"
)

const (
	defaultBufferSize       = 10000
	defaultWorkers          = 10
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
	defaultJitter           = 0.2
)

// MemoryConfig configures the in-memory dispatcher. Zero fields take the
// defaults above, except MaxRetries where 0 disables retries.
type MemoryConfig struct {
	BufferSize  int
	Workers     int
	HTTPTimeout time.Duration
	MaxRetries  int
	// BreakerCooldown is both how long a destination circuit stays open
	// and how long a requeued event waits.
	BreakerCooldown time.Duration
	Backoff         *backoff.Config
}

// LoadConfigFromEnv reads DISPATCHER_* variables. Retry delays carry 20%
// jitter unless DISPATCHER_BACKOFF_JITTER says otherwise.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:      config.GetIntEnv("DISPATCHER_BUFFER_SIZE", defaultBufferSize),
		Workers:         config.GetIntEnv("DISPATCHER_WORKERS", defaultWorkers),
		HTTPTimeout:     config.GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", defaultHTTPTimeout),
		MaxRetries:      config.GetIntEnv("DISPATCHER_MAX_RETRIES", defaultMaxRetries),
		BreakerCooldown: config.GetDurationEnv("DISPATCHER_BREAKER_COOLDOWN", defaultBreakerCooldown),
		Backoff:         config.GetBackoffEnv("DISPATCHER", defaultJitter),
	}
	return cfg.withDefaults()
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
	return c
}

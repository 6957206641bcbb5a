package orchestrator

import "batchkit/internal/config"

// Config bounds the concurrency of the submission protocol.
type Config struct {
	UploadConcurrency int // parallel file uploads (default: 8)
	SubmitConcurrency int // parallel task submissions (default: 16)
}

// LoadConfigFromEnv loads orchestrator configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		UploadConcurrency: config.GetIntEnv("UPLOAD_CONCURRENCY", 8),
		SubmitConcurrency: config.GetIntEnv("SUBMIT_CONCURRENCY", 16),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = 8
	}
	if c.SubmitConcurrency <= 0 {
		c.SubmitConcurrency = 16
	}
	return c
}

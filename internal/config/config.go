// Package config reads service settings from environment variables.
package config

import (
	"batchkit/internal/apperrors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Execution backends selectable with BACKEND.
const (
	BackendDocker = "docker"
	BackendMemory = "memory"
)

// ServiceConfig holds configuration for the workload service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // load balancer drain time, 0 skips
	Backend           string
	MaxRequestBytes   int64 // manifest body limit
	LogLevel          slog.Level
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		Backend:           GetEnv("BACKEND", BackendDocker),
		MaxRequestBytes:   GetInt64Env("MAX_REQUEST_BYTES", 1<<20),
		LogLevel: lookup("LOG_LEVEL", slog.LevelInfo, func(s string) (slog.Level, error) {
			var l slog.Level
			err := l.UnmarshalText([]byte(s))
			return l, err
		}),
	}
}

// Validate rejects settings the service cannot start with.
func (c *ServiceConfig) Validate() error {
	for name, port := range map[string]string{"PORT": c.Port, "METRICS_PORT": c.MetricsPort} {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			return apperrors.Validation(name, fmt.Sprintf("%s must be a port number, got %q", name, port))
		}
	}
	if c.Port == c.MetricsPort {
		return apperrors.Validation("METRICS_PORT", "METRICS_PORT must differ from PORT")
	}
	if c.Backend != BackendDocker && c.Backend != BackendMemory {
		return apperrors.Validation("BACKEND", fmt.Sprintf("BACKEND must be %s or %s, got %q", BackendDocker, BackendMemory, c.Backend))
	}
	if c.MaxRequestBytes <= 0 {
		return apperrors.Validation("MAX_REQUEST_BYTES", "MAX_REQUEST_BYTES must be positive")
	}
	if c.ShutdownDrainWait < 0 {
		return apperrors.Validation("SHUTDOWN_DRAIN_WAIT", "SHUTDOWN_DRAIN_WAIT must not be negative")
	}
	return nil
}

package config

import (
	"batchkit/pkg/backoff"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup parses the variable key with parse. Unset variables yield def;
// malformed ones are logged and also yield def.
func lookup[T any](key string, def T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		slog.Warn("Ignoring invalid environment value", "key", key, "value", raw, "error", err)
		return def
	}
	return v
}

// GetEnv returns the environment variable value or a default.
func GetEnv(key, defaultValue string) string {
	return lookup(key, defaultValue, func(s string) (string, error) { return s, nil })
}

// GetIntEnv returns an integer environment variable or a default.
func GetIntEnv(key string, defaultValue int) int {
	return lookup(key, defaultValue, strconv.Atoi)
}

// GetInt64Env returns a 64-bit integer environment variable or a default.
func GetInt64Env(key string, defaultValue int64) int64 {
	return lookup(key, defaultValue, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

// GetBoolEnv returns a boolean environment variable (strconv.ParseBool
// syntax) or a default.
func GetBoolEnv(key string, defaultValue bool) bool {
	return lookup(key, defaultValue, strconv.ParseBool)
}

// GetDurationEnv returns a duration environment variable or a default.
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	return lookup(key, defaultValue, time.ParseDuration)
}

// GetFloatEnv returns a floating point environment variable or a default.
func GetFloatEnv(key string, defaultValue float64) float64 {
	return lookup(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// GetBackoffEnv reads <prefix>_BACKOFF_INITIAL, <prefix>_BACKOFF_MAX and
// <prefix>_BACKOFF_JITTER. Unset values keep the backoff package defaults.
func GetBackoffEnv(prefix string, jitter float64) *backoff.Config {
	return &backoff.Config{
		Initial: GetDurationEnv(prefix+"_BACKOFF_INITIAL", 0),
		Max:     GetDurationEnv(prefix+"_BACKOFF_MAX", 0),
		Jitter:  GetFloatEnv(prefix+"_BACKOFF_JITTER", jitter),
	}
}

// GetListEnv returns a comma-separated environment variable as a list,
// dropping empty entries. Returns nil when unset.
func GetListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// GetSecretFile reads a secret from a mounted file such as a Docker or
// Kubernetes secret. A missing path or unreadable file yields "".
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read secret file", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}

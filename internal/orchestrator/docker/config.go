package docker

import "batchkit/internal/config"

// Config holds configuration for the Docker backend.
type Config struct {
	NetworkDriver string   // driver for pool networks (default: bridge)
	Workspace     string   // job volume mount path inside task containers (default: /workspace)
	Fetcher       string   // command used to stage resource files (default: wget -q -O)
	ExtraHosts    []string // extra /etc/hosts entries for task containers (e.g., ["blobs.test:host-gateway"])
}

// LoadConfigFromEnv loads backend configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		NetworkDriver: config.GetEnv("DOCKER_NETWORK_DRIVER", "bridge"),
		Workspace:     config.GetEnv("DOCKER_WORKSPACE", "/workspace"),
		Fetcher:       config.GetEnv("DOCKER_FETCHER", "wget -q -O"),
		ExtraHosts:    config.GetListEnv("EXTRA_HOSTS"),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.NetworkDriver == "" {
		c.NetworkDriver = "bridge"
	}
	if c.Workspace == "" {
		c.Workspace = "/workspace"
	}
	if c.Fetcher == "" {
		c.Fetcher = "wget -q -O"
	}
	return c
}

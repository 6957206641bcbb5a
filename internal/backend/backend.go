// Package backend selects and connects the execution and storage services
// a binary submits to.
package backend

import (
	"batchkit/internal/apperrors"
	"batchkit/internal/batch"
	"batchkit/internal/config"
	"batchkit/internal/job"
	"batchkit/internal/orchestrator/docker"
	"batchkit/internal/orchestrator/memory"
	"batchkit/internal/storage"
	"context"
	"fmt"
)

// Set is a connected execution backend and the storage its tasks read from.
type Set struct {
	Kind      string
	Execution batch.ExecutionService
	Storage   batch.StorageService
	Jobs      job.Backend

	// StorageReady is nil when storage lives inside the backend.
	StorageReady interface {
		Ready(ctx context.Context) error
	}
}

// Open connects the backend called kind. The memory backend serves as its
// own storage; the docker backend uploads to the object store in
// storageCfg.
func Open(kind string, dockerCfg docker.Config, storageCfg storage.Config) (*Set, error) {
	switch kind {
	case config.BackendMemory:
		b := memory.New()
		return &Set{Kind: kind, Execution: b, Storage: b, Jobs: b}, nil
	case config.BackendDocker:
		if storageCfg.BaseURL == "" {
			return nil, apperrors.Validation("STORAGE_URL", "the docker backend requires a storage URL")
		}
		store, err := storage.New(storageCfg)
		if err != nil {
			return nil, err
		}
		b, err := docker.NewBackend(dockerCfg)
		if err != nil {
			return nil, err
		}
		return &Set{Kind: kind, Execution: b, Storage: store, Jobs: b, StorageReady: store}, nil
	default:
		return nil, apperrors.Validation("backend", fmt.Sprintf("unknown backend %q (want %s or %s)", kind, config.BackendDocker, config.BackendMemory))
	}
}

// Close releases the backend. Submitted tasks keep running.
func (s *Set) Close() error {
	return s.Jobs.Close()
}

package job

import (
	"batchkit/internal/batch"
	"batchkit/internal/orchestrator"
	"context"
)

// Submitter runs the submission protocol for a request.
// *orchestrator.Orchestrator implements it.
type Submitter interface {
	Submit(ctx context.Context, req *orchestrator.Request) (*orchestrator.Submission, error)
}

// Backend is the execution service as seen after submission.
//
// # State Management
//
// The backend is the SOURCE OF TRUTH for job and task state. State lives in
// the execution layer (e.g. Docker labels) rather than in the service
// process, so the service restarts without losing track of jobs and several
// instances can serve the same backend.
type Backend interface {
	batch.JobInspector

	// Ready checks if the backend is reachable.
	Ready(ctx context.Context) error

	// Close releases resources held by the backend.
	// Running tasks are NOT stopped - they continue independently.
	Close() error
}

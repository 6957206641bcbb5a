package batch

import (
	"batchkit/internal/workload"
	"context"
	"time"
)

// PoolHandle is a resolved pool.
type PoolHandle struct {
	Name          PoolName
	ID            string
	Created       bool
	Specification PoolSpecification
}

// JobHandle is a resolved job bound to a pool.
type JobHandle struct {
	Name    JobName
	ID      string
	Pool    PoolHandle
	Created bool
}

// TaskHandle identifies a submitted task.
type TaskHandle struct {
	Job  JobName
	Name TaskName
	ID   string
}

// TaskDescriptor is everything the execution service needs to create a task.
// Index is the task's position in expansion order.
type TaskDescriptor struct {
	Index         int
	Name          TaskName
	CommandLine   string
	ResourceFiles []workload.ResourceFile
	Spec          TaskSpecification
	Arguments     TaskArguments
}

// ExecutionService creates pools, jobs and tasks on the remote service.
// Resolve operations are idempotent by name.
type ExecutionService interface {
	// ResolveOrCreatePool returns the pool called name, creating it with spec
	// when it does not exist.
	ResolveOrCreatePool(ctx context.Context, name PoolName, spec PoolSpecification) (PoolHandle, error)

	// ResolveOrCreateJob returns the job called name, creating it on pool with
	// spec when it does not exist.
	ResolveOrCreateJob(ctx context.Context, name JobName, spec JobSpecification, pool PoolHandle) (JobHandle, error)

	// SubmitTask adds a task to job.
	SubmitTask(ctx context.Context, job JobHandle, task TaskDescriptor) (TaskHandle, error)
}

// StorageService makes files reachable by tasks.
type StorageService interface {
	// UploadFile copies a local file to storage. The returned Path is the
	// file's base name.
	UploadFile(ctx context.Context, localPath string) (workload.ResourceFile, error)

	// ResolveExisting references a file already in storage.
	ResolveExisting(ctx context.Context, source, path string) (workload.ResourceFile, error)
}

// JobInspector reads back and removes what an ExecutionService created.
type JobInspector interface {
	// ListTasks returns the status of every task of job.
	ListTasks(ctx context.Context, job JobName) ([]TaskStatus, error)

	// DeleteJob removes job and its tasks. Deleting a missing job is an
	// apperrors.ErrNotFound error.
	DeleteJob(ctx context.Context, job JobName) error
}

// TaskStatus is the observed state of a task.
type TaskStatus struct {
	Job        JobName    `json:"job"`
	Name       TaskName   `json:"name"`
	ID         string     `json:"id"`
	State      string     `json:"state"`
	ExitCode   *int       `json:"exitCode,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Task states
const (
	StateActive    = "active"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

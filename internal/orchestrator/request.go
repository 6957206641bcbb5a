package orchestrator

import (
	"batchkit/internal/apperrors"
	"batchkit/internal/batch"
	"batchkit/internal/workload"
	"fmt"
	"path/filepath"
)

// Request is a workload together with where and how it runs.
type Request struct {
	Pool     batch.Pool
	Job      batch.JobName
	JobSpec  batch.JobSpecification
	TaskSpec batch.TaskSpecification
	Workload workload.Specification
}

// Validate checks the request without expanding it.
func (r *Request) Validate() error {
	if r.Pool == nil {
		return apperrors.Validation("pool", "pool is required")
	}
	if err := r.Pool.PoolName().Validate(); err != nil {
		return err
	}
	if err := r.Pool.PoolSpecification().Validate(); err != nil {
		return err
	}
	if err := r.Job.Validate(); err != nil {
		return err
	}
	if err := r.JobSpec.Validate(); err != nil {
		return err
	}
	if err := r.TaskSpec.Validate(); err != nil {
		return err
	}
	return r.Workload.Validate()
}

// Expand validates req and renders its workload into concrete tasks. It
// never contacts a remote service.
func Expand(req *Request) ([]workload.ConcreteTask, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	tasks, err := workload.Expand(req.Workload)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, apperrors.Validation("workload", "workload expands to no tasks")
	}

	attached := req.Workload.Attached().Files()
	for _, t := range tasks {
		if err := batch.TaskName(t.Name).Validate(); err != nil {
			return nil, err
		}
		if err := checkDestinations(t, attached); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// checkDestinations rejects tasks where two files would land on the same
// path in the working directory.
func checkDestinations(t workload.ConcreteTask, attached []workload.ResourceFile) error {
	seen := make(map[string]string, t.RequiredFiles.Len()+len(attached))
	for _, p := range t.RequiredFiles.Paths() {
		dest := filepath.Base(p)
		if prev, ok := seen[dest]; ok {
			return apperrors.Validation("files", fmt.Sprintf("%s: %q and %q both stage as %q", t.Name, prev, p, dest))
		}
		seen[dest] = p
	}
	for _, f := range attached {
		if prev, ok := seen[f.Path]; ok {
			return apperrors.Validation("files", fmt.Sprintf("%s: %q and %q both stage as %q", t.Name, prev, f.Source, f.Path))
		}
		seen[f.Path] = f.Source
	}
	return nil
}

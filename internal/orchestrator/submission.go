package orchestrator

import (
	"batchkit/internal/batch"
	"batchkit/internal/workload"
	"errors"
)

// SubmittedTask is a task the execution service accepted.
type SubmittedTask struct {
	Index  int
	Task   workload.ConcreteTask
	Handle batch.TaskHandle
}

// TaskFailure is a task that could not be submitted. Err matches
// apperrors.ErrTaskSubmission and its cause.
type TaskFailure struct {
	Index int
	Task  workload.ConcreteTask
	Err   error
}

// Submission is the outcome of submitting a workload. Tasks and Failures are
// ordered by expansion index and together cover every expanded task.
type Submission struct {
	Pool     batch.PoolHandle
	Job      batch.JobHandle
	Tasks    []SubmittedTask
	Failures []TaskFailure
}

// Succeeded reports whether every task was submitted.
func (s *Submission) Succeeded() bool { return len(s.Failures) == 0 }

// Total returns the number of expanded tasks.
func (s *Submission) Total() int { return len(s.Tasks) + len(s.Failures) }

// Err joins the failures, or returns nil when every task was submitted.
func (s *Submission) Err() error {
	errs := make([]error, len(s.Failures))
	for i, f := range s.Failures {
		errs[i] = f.Err
	}
	return errors.Join(errs...)
}

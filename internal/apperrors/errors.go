// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")

	// Workload definition errors. These abort the whole operation.
	ErrMalformedTemplate = errors.New("malformed template")
	ErrUnboundParameter  = errors.New("unbound parameter")

	// Collaborator errors raised while submitting a workload.
	ErrPoolResolution = errors.New("pool resolution failed")
	ErrUpload         = errors.New("upload failed")
	ErrJobResolution  = errors.New("job resolution failed")
	ErrTaskSubmission = errors.New("task submission failed")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "job.name", "units[0]")
	Resource string // Resource kind or name (e.g., "pool", "task-0-1")
	Op       string // Operation that failed (e.g., "docker.createNetwork")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches
// the classification as well as whatever the collaborator returned.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// MalformedTemplate reports a parametrized command whose placeholders do not
// match its declared parameter names.
func MalformedTemplate(template, reason string) error {
	return &Error{
		Sentinel: ErrMalformedTemplate,
		Message:  fmt.Sprintf("malformed template %q: %s", template, reason),
		Field:    "template",
	}
}

// UnboundParameter reports a placeholder with no value in the active binding.
func UnboundParameter(name string) error {
	return &Error{
		Sentinel: ErrUnboundParameter,
		Message:  fmt.Sprintf("parameter %q is not bound", name),
		Field:    name,
	}
}

// PoolResolution wraps a failure to resolve or create a pool.
func PoolResolution(pool string, cause error) error {
	return &Error{
		Sentinel: ErrPoolResolution,
		Message:  fmt.Sprintf("resolve pool %s: %v", pool, cause),
		Resource: pool,
		Op:       "pool.resolve",
		Cause:    cause,
	}
}

// Upload wraps a failure to stage a file in storage.
func Upload(path string, cause error) error {
	return &Error{
		Sentinel: ErrUpload,
		Message:  fmt.Sprintf("upload %s: %v", path, cause),
		Resource: path,
		Op:       "storage.upload",
		Cause:    cause,
	}
}

// JobResolution wraps a failure to resolve or create a job.
func JobResolution(job string, cause error) error {
	return &Error{
		Sentinel: ErrJobResolution,
		Message:  fmt.Sprintf("resolve job %s: %v", job, cause),
		Resource: job,
		Op:       "job.resolve",
		Cause:    cause,
	}
}

// TaskSubmission wraps a failure to submit a single task.
func TaskSubmission(task string, cause error) error {
	return &Error{
		Sentinel: ErrTaskSubmission,
		Message:  fmt.Sprintf("submit task %s: %v", task, cause),
		Resource: task,
		Op:       "task.submit",
		Cause:    cause,
	}
}

// Package batch holds the descriptors of the three remote entities (pools,
// jobs and tasks) and the contracts of the services that create them.
package batch

import (
	"batchkit/internal/apperrors"
	"fmt"
	"maps"
	"regexp"
	"time"
)

// MaxNameLength bounds pool, job and task names.
const MaxNameLength = 64

// Priority bounds accepted by the remote service.
const (
	MinJobPriority = -1000
	MaxJobPriority = 1000
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

func validateName(field, name string) error {
	if name == "" {
		return apperrors.Validation(field, field+" is required")
	}
	if len(name) > MaxNameLength {
		return apperrors.Validation(field, fmt.Sprintf("%s exceeds %d characters", field, MaxNameLength))
	}
	if !namePattern.MatchString(name) {
		return apperrors.Validation(field, field+" must be alphanumeric with hyphens or underscores")
	}
	return nil
}

// TaskName identifies a task within its job.
type TaskName string

// Validate checks the name against the remote naming rules.
func (n TaskName) Validate() error { return validateName("task.name", string(n)) }

// TaskArguments is the argument binding a task was rendered with.
type TaskArguments map[string]string

// TaskSpecification carries per-task settings. The zero value leaves every
// setting to the service.
type TaskSpecification struct {
	MaxRetries    int               `json:"maxRetries,omitempty"`
	MaxWallClock  time.Duration     `json:"maxWallClock,omitempty"`
	RetentionTime time.Duration     `json:"retentionTime,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`
}

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the settings are within range.
func (s TaskSpecification) Validate() error {
	if s.MaxRetries < 0 {
		return apperrors.Validation("task.maxRetries", "task.maxRetries must not be negative")
	}
	if s.MaxWallClock < 0 {
		return apperrors.Validation("task.maxWallClock", "task.maxWallClock must not be negative")
	}
	if s.RetentionTime < 0 {
		return apperrors.Validation("task.retentionTime", "task.retentionTime must not be negative")
	}
	for name := range s.Environment {
		if !envNamePattern.MatchString(name) {
			return apperrors.Validation("task.environment", fmt.Sprintf("invalid environment variable name %q", name))
		}
	}
	return nil
}

// Clone returns a copy that shares no maps with s.
func (s TaskSpecification) Clone() TaskSpecification {
	s.Environment = maps.Clone(s.Environment)
	return s
}

// JobName identifies a job on the remote service.
type JobName string

// Validate checks the name against the remote naming rules.
func (n JobName) Validate() error { return validateName("job.name", string(n)) }

// JobPriority is an optional priority. The zero value means the service
// default applies.
type JobPriority struct {
	value int
	set   bool
}

// NewJobPriority returns a priority of v, which must lie within
// MinJobPriority..MaxJobPriority.
func NewJobPriority(v int) (JobPriority, error) {
	if v < MinJobPriority || v > MaxJobPriority {
		return JobPriority{}, apperrors.Validation("job.priority",
			fmt.Sprintf("job.priority must be between %d and %d", MinJobPriority, MaxJobPriority))
	}
	return JobPriority{value: v, set: true}, nil
}

// Value returns the priority and whether one was set.
func (p JobPriority) Value() (int, bool) { return p.value, p.set }

func (p JobPriority) String() string {
	if !p.set {
		return "default"
	}
	return fmt.Sprint(p.value)
}

// JobSpecification carries job-wide settings.
type JobSpecification struct {
	Priority       JobPriority
	MaxWallClock   time.Duration
	MaxTaskRetries int
	Metadata       map[string]string
}

// Validate checks the settings are within range.
func (s JobSpecification) Validate() error {
	if s.MaxWallClock < 0 {
		return apperrors.Validation("job.maxWallClock", "job.maxWallClock must not be negative")
	}
	if s.MaxTaskRetries < 0 {
		return apperrors.Validation("job.maxTaskRetries", "job.maxTaskRetries must not be negative")
	}
	return nil
}

// PoolName identifies a pool on the remote service.
type PoolName string

// Validate checks the name against the remote naming rules.
func (n PoolName) Validate() error { return validateName("pool.name", string(n)) }

// PoolSpecification describes the machines of a pool. Zero fields take the
// values of DefaultPoolSpecification.
type PoolSpecification struct {
	Image    string            `json:"image,omitempty"`
	Nodes    int               `json:"nodes,omitempty"`
	CPU      float64           `json:"cpu,omitempty"`
	MemoryMB int               `json:"memoryMB,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// DefaultPoolSpecification returns the specification used when a pool is
// created without overrides.
func DefaultPoolSpecification() PoolSpecification {
	return PoolSpecification{
		Image:    "alpine:3.20",
		Nodes:    1,
		CPU:      1,
		MemoryMB: 512,
	}
}

// WithDefaults returns s with zero fields filled from
// DefaultPoolSpecification.
func (s PoolSpecification) WithDefaults() PoolSpecification {
	d := DefaultPoolSpecification()
	if s.Image == "" {
		s.Image = d.Image
	}
	if s.Nodes == 0 {
		s.Nodes = d.Nodes
	}
	if s.CPU == 0 {
		s.CPU = d.CPU
	}
	if s.MemoryMB == 0 {
		s.MemoryMB = d.MemoryMB
	}
	s.Labels = maps.Clone(s.Labels)
	return s
}

// Validate checks the specification after defaults are applied.
func (s PoolSpecification) Validate() error {
	s = s.WithDefaults()
	if s.Nodes < 0 {
		return apperrors.Validation("pool.nodes", "pool.nodes must not be negative")
	}
	if s.CPU < 0 {
		return apperrors.Validation("pool.cpu", "pool.cpu must not be negative")
	}
	if s.MemoryMB < 0 {
		return apperrors.Validation("pool.memoryMB", "pool.memoryMB must not be negative")
	}
	return nil
}

// Pool selects the pool a workload runs on. NamedPool is the only variant.
type Pool interface {
	// PoolName returns the name the pool is resolved by.
	PoolName() PoolName
	// PoolSpecification returns the specification used if the pool is created.
	PoolSpecification() PoolSpecification

	isPool()
}

// NamedPool resolves a pool by name, creating it with Specification when it
// does not exist.
type NamedPool struct {
	Name          PoolName
	Specification PoolSpecification
}

func (p NamedPool) PoolName() PoolName { return p.Name }

func (p NamedPool) PoolSpecification() PoolSpecification { return p.Specification.WithDefaults() }

func (NamedPool) isPool() {}

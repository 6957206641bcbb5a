// Package memory is an in-process execution and storage backend. It backs
// dry runs and tests, and can be told to fail specific operations.
package memory

import (
	"batchkit/internal/apperrors"
	"batchkit/internal/batch"
	"batchkit/internal/workload"
	"context"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/xid"
)

type poolRecord struct {
	id   string
	spec batch.PoolSpecification
}

type jobRecord struct {
	id    string
	pool  batch.PoolName
	spec  batch.JobSpecification
	tasks map[batch.TaskName]*taskRecord
	order []batch.TaskName
}

type taskRecord struct {
	id         string
	descriptor batch.TaskDescriptor
	state      string
	exitCode   *int
	created    time.Time
	finished   *time.Time
}

// Backend implements batch.ExecutionService, batch.StorageService and
// batch.JobInspector in memory. It is safe for concurrent use.
type Backend struct {
	mu      sync.RWMutex
	pools   map[batch.PoolName]*poolRecord
	jobs    map[batch.JobName]*jobRecord
	uploads []string
	faults  faults
	now     func() time.Time
	baseURL string
}

type faults struct {
	pool    error
	job     error
	uploads map[string]error
	tasks   map[batch.TaskName]error
}

// New creates an empty backend whose uploads are addressed under
// mem://uploads.
func New() *Backend {
	return &Backend{
		pools:   make(map[batch.PoolName]*poolRecord),
		jobs:    make(map[batch.JobName]*jobRecord),
		now:     time.Now,
		baseURL: "mem://uploads",
		faults: faults{
			uploads: make(map[string]error),
			tasks:   make(map[batch.TaskName]error),
		},
	}
}

// FailPools makes every pool resolution fail with err.
func (b *Backend) FailPools(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults.pool = err
}

// FailJobs makes every job resolution fail with err.
func (b *Backend) FailJobs(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults.job = err
}

// FailUpload makes uploads of localPath fail with err.
func (b *Backend) FailUpload(localPath string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults.uploads[localPath] = err
}

// FailTask makes submissions of the task called name fail with err.
func (b *Backend) FailTask(name batch.TaskName, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults.tasks[name] = err
}

// ResolveOrCreatePool returns the pool called name, creating it if needed.
func (b *Backend) ResolveOrCreatePool(ctx context.Context, name batch.PoolName, spec batch.PoolSpecification) (batch.PoolHandle, error) {
	if err := ctx.Err(); err != nil {
		return batch.PoolHandle{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.faults.pool != nil {
		return batch.PoolHandle{}, b.faults.pool
	}
	if p, ok := b.pools[name]; ok {
		return batch.PoolHandle{Name: name, ID: p.id, Specification: p.spec}, nil
	}
	p := &poolRecord{id: xid.New().String(), spec: spec.WithDefaults()}
	b.pools[name] = p
	return batch.PoolHandle{Name: name, ID: p.id, Created: true, Specification: p.spec}, nil
}

// ResolveOrCreateJob returns the job called name, creating it on pool if
// needed. An existing job bound to another pool is a conflict.
func (b *Backend) ResolveOrCreateJob(ctx context.Context, name batch.JobName, spec batch.JobSpecification, pool batch.PoolHandle) (batch.JobHandle, error) {
	if err := ctx.Err(); err != nil {
		return batch.JobHandle{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.faults.job != nil {
		return batch.JobHandle{}, b.faults.job
	}
	if _, ok := b.pools[pool.Name]; !ok {
		return batch.JobHandle{}, apperrors.NotFound("pool", string(pool.Name))
	}
	if j, ok := b.jobs[name]; ok {
		if j.pool != pool.Name {
			return batch.JobHandle{}, apperrors.Conflict("job", string(name), "job is bound to pool "+string(j.pool))
		}
		return batch.JobHandle{Name: name, ID: j.id, Pool: pool}, nil
	}
	j := &jobRecord{
		id:    xid.New().String(),
		pool:  pool.Name,
		spec:  spec,
		tasks: make(map[batch.TaskName]*taskRecord),
	}
	j.spec.Metadata = maps.Clone(spec.Metadata)
	b.jobs[name] = j
	return batch.JobHandle{Name: name, ID: j.id, Pool: pool, Created: true}, nil
}

// SubmitTask adds a task to job. Task names are unique within a job.
func (b *Backend) SubmitTask(ctx context.Context, job batch.JobHandle, task batch.TaskDescriptor) (batch.TaskHandle, error) {
	if err := ctx.Err(); err != nil {
		return batch.TaskHandle{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.faults.tasks[task.Name]; err != nil {
		return batch.TaskHandle{}, err
	}
	j, ok := b.jobs[job.Name]
	if !ok {
		return batch.TaskHandle{}, apperrors.NotFound("job", string(job.Name))
	}
	if _, exists := j.tasks[task.Name]; exists {
		return batch.TaskHandle{}, apperrors.Conflict("task", string(task.Name), "task already exists")
	}

	task.ResourceFiles = slices.Clone(task.ResourceFiles)
	task.Spec = task.Spec.Clone()
	task.Arguments = maps.Clone(task.Arguments)
	rec := &taskRecord{
		id:         xid.New().String(),
		descriptor: task,
		state:      batch.StateActive,
		created:    b.now(),
	}
	j.tasks[task.Name] = rec
	j.order = append(j.order, task.Name)
	return batch.TaskHandle{Job: job.Name, Name: task.Name, ID: rec.id}, nil
}

// UploadFile records localPath and returns a reference under the backend's
// base URL.
func (b *Backend) UploadFile(ctx context.Context, localPath string) (workload.ResourceFile, error) {
	if err := ctx.Err(); err != nil {
		return workload.ResourceFile{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.faults.uploads[localPath]; err != nil {
		return workload.ResourceFile{}, err
	}
	b.uploads = append(b.uploads, localPath)
	base := filepath.Base(localPath)
	return workload.ResourceFile{Source: b.baseURL + "/" + base, Path: base}, nil
}

// ResolveExisting references source at path without copying anything.
func (b *Backend) ResolveExisting(ctx context.Context, source, dest string) (workload.ResourceFile, error) {
	if err := ctx.Err(); err != nil {
		return workload.ResourceFile{}, err
	}
	if source == "" {
		return workload.ResourceFile{}, apperrors.Validation("source", "source is required")
	}
	if dest == "" {
		dest = path.Base(source)
	}
	return workload.ResourceFile{Source: source, Path: dest}, nil
}

// ListTasks returns the tasks of job in submission order.
func (b *Backend) ListTasks(_ context.Context, job batch.JobName) ([]batch.TaskStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	j, ok := b.jobs[job]
	if !ok {
		return nil, apperrors.NotFound("job", string(job))
	}
	statuses := make([]batch.TaskStatus, 0, len(j.order))
	for _, name := range j.order {
		t := j.tasks[name]
		statuses = append(statuses, batch.TaskStatus{
			Job:        job,
			Name:       name,
			ID:         t.id,
			State:      t.state,
			ExitCode:   t.exitCode,
			CreatedAt:  t.created,
			FinishedAt: t.finished,
		})
	}
	return statuses, nil
}

// DeleteJob removes job and its tasks.
func (b *Backend) DeleteJob(_ context.Context, job batch.JobName) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.jobs[job]; !ok {
		return apperrors.NotFound("job", string(job))
	}
	delete(b.jobs, job)
	return nil
}

// Finish marks a task as exited with exitCode.
func (b *Backend) Finish(job batch.JobName, task batch.TaskName, exitCode int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[job]
	if !ok {
		return apperrors.NotFound("job", string(job))
	}
	t, ok := j.tasks[task]
	if !ok {
		return apperrors.NotFound("task", string(task))
	}
	now := b.now()
	t.exitCode = &exitCode
	t.finished = &now
	t.state = batch.StateCompleted
	if exitCode != 0 {
		t.state = batch.StateFailed
	}
	return nil
}

// Task returns the descriptor a task was submitted with.
func (b *Backend) Task(job batch.JobName, task batch.TaskName) (batch.TaskDescriptor, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	j, ok := b.jobs[job]
	if !ok {
		return batch.TaskDescriptor{}, false
	}
	t, ok := j.tasks[task]
	if !ok {
		return batch.TaskDescriptor{}, false
	}
	return t.descriptor, true
}

// Job returns the specification and pool of a job.
func (b *Backend) Job(name batch.JobName) (batch.JobSpecification, batch.PoolName, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	j, ok := b.jobs[name]
	if !ok {
		return batch.JobSpecification{}, "", false
	}
	return j.spec, j.pool, true
}

// PoolCount returns the number of pools created.
func (b *Backend) PoolCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pools)
}

// JobCount returns the number of live jobs.
func (b *Backend) JobCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.jobs)
}

// TaskCount returns the number of tasks across all jobs.
func (b *Backend) TaskCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, j := range b.jobs {
		n += len(j.tasks)
	}
	return n
}

// Uploads returns the uploaded local paths in upload order.
func (b *Backend) Uploads() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.uploads)
}

// Ready always succeeds.
func (b *Backend) Ready(context.Context) error { return nil }

// Close is a no-op.
func (b *Backend) Close() error { return nil }

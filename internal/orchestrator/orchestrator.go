// Package orchestrator drives the submission protocol: resolve the pool,
// stage files, resolve the job and submit every expanded task.
//
// Pool, file and job failures abort the submission before any task is
// created. Task submissions are independent; one failed task never stops
// the others.
package orchestrator

import (
	"batchkit/internal/apperrors"
	"batchkit/internal/batch"
	"batchkit/internal/workload"
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Recorder receives protocol measurements. A nil Recorder records nothing.
type Recorder interface {
	RecordUpload(ctx context.Context, duration time.Duration, err error)
	RecordTaskSubmission(ctx context.Context, duration time.Duration, err error)
}

// Orchestrator submits workloads to an execution service.
type Orchestrator struct {
	execution batch.ExecutionService
	storage   batch.StorageService
	config    Config
	metrics   Recorder
	logger    *slog.Logger
}

// New creates an orchestrator. metrics may be nil.
func New(execution batch.ExecutionService, storage batch.StorageService, cfg Config, metrics Recorder) *Orchestrator {
	return &Orchestrator{
		execution: execution,
		storage:   storage,
		config:    cfg.withDefaults(),
		metrics:   metrics,
		logger:    slog.With("component", "orchestrator"),
	}
}

// Expand renders req into concrete tasks without contacting any service.
func (o *Orchestrator) Expand(req *Request) ([]workload.ConcreteTask, error) {
	return Expand(req)
}

// Submit runs the submission protocol for req.
//
// A non-nil Submission is returned once the job exists; its Failures list
// the tasks that were not submitted. If ctx ends while tasks are being
// submitted, the remaining tasks are reported as failures and the returned
// error matches ctx.Err().
func (o *Orchestrator) Submit(ctx context.Context, req *Request) (*Submission, error) {
	tasks, err := Expand(req)
	if err != nil {
		return nil, err
	}

	poolName := req.Pool.PoolName()
	logger := o.logger.With("pool", poolName, "job", req.Job, "tasks", len(tasks))

	pool, err := o.execution.ResolveOrCreatePool(ctx, poolName, req.Pool.PoolSpecification())
	if err != nil {
		logger.Error("Pool resolution failed", "error", err)
		return nil, apperrors.PoolResolution(string(poolName), err)
	}
	logger.Debug("Pool resolved", "poolId", pool.ID, "created", pool.Created)

	staged, attached, err := o.stageFiles(ctx, req.Workload)
	if err != nil {
		logger.Error("File staging failed", "error", err)
		return nil, err
	}

	job, err := o.execution.ResolveOrCreateJob(ctx, req.Job, req.JobSpec, pool)
	if err != nil {
		logger.Error("Job resolution failed", "error", err)
		return nil, apperrors.JobResolution(string(req.Job), err)
	}
	logger.Debug("Job resolved", "jobId", job.ID, "created", job.Created)

	sub := o.submitTasks(ctx, job, tasks, staged, attached, req.TaskSpec)
	sub.Pool = pool

	if err := ctx.Err(); err != nil {
		logger.Warn("Submission interrupted", "submitted", len(sub.Tasks), "failed", len(sub.Failures), "error", err)
		return sub, fmt.Errorf("submission interrupted: %w", err)
	}
	if !sub.Succeeded() {
		logger.Warn("Workload partially submitted", "submitted", len(sub.Tasks), "failed", len(sub.Failures))
	} else {
		logger.Info("Workload submitted", "submitted", len(sub.Tasks))
	}
	return sub, nil
}

// stageFiles uploads every distinct local file of spec and resolves its
// attached files. The first failure cancels the remaining uploads.
func (o *Orchestrator) stageFiles(ctx context.Context, spec workload.Specification) (map[string]workload.ResourceFile, []workload.ResourceFile, error) {
	paths := spec.LocalFiles().Paths()
	wanted := spec.Attached().Files()
	uploaded := make([]workload.ResourceFile, len(paths))
	attached := make([]workload.ResourceFile, len(wanted))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.UploadConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			start := time.Now()
			ref, err := o.storage.UploadFile(gctx, p)
			if o.metrics != nil {
				o.metrics.RecordUpload(gctx, time.Since(start), err)
			}
			if err != nil {
				return apperrors.Upload(p, err)
			}
			uploaded[i] = ref
			return nil
		})
	}
	for i, f := range wanted {
		g.Go(func() error {
			ref, err := o.storage.ResolveExisting(gctx, f.Source, f.Path)
			if err != nil {
				return apperrors.Upload(f.Source, err)
			}
			attached[i] = ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	staged := make(map[string]workload.ResourceFile, len(paths))
	for i, p := range paths {
		staged[p] = uploaded[i]
	}
	return staged, attached, nil
}

// submitTasks submits every task and collects the outcomes by index.
func (o *Orchestrator) submitTasks(ctx context.Context, job batch.JobHandle, tasks []workload.ConcreteTask, staged map[string]workload.ResourceFile, attached []workload.ResourceFile, spec batch.TaskSpecification) *Submission {
	handles := make([]batch.TaskHandle, len(tasks))
	errs := make([]error, len(tasks))

	var g errgroup.Group
	g.SetLimit(o.config.SubmitConcurrency)
	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			errs[i] = apperrors.TaskSubmission(t.Name, err)
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = apperrors.TaskSubmission(t.Name, err)
				return nil
			}
			start := time.Now()
			h, err := o.execution.SubmitTask(ctx, job, descriptor(t, staged, attached, spec))
			if o.metrics != nil {
				o.metrics.RecordTaskSubmission(ctx, time.Since(start), err)
			}
			if err != nil {
				o.logger.Warn("Task submission failed", "job", job.Name, "task", t.Name, "error", err)
				errs[i] = apperrors.TaskSubmission(t.Name, err)
				return nil
			}
			handles[i] = h
			return nil
		})
	}
	_ = g.Wait()

	sub := &Submission{Job: job}
	for i, t := range tasks {
		if errs[i] != nil {
			sub.Failures = append(sub.Failures, TaskFailure{Index: i, Task: t, Err: errs[i]})
			continue
		}
		sub.Tasks = append(sub.Tasks, SubmittedTask{Index: i, Task: t, Handle: handles[i]})
	}
	return sub
}

// descriptor maps a concrete task to what the execution service needs.
func descriptor(t workload.ConcreteTask, staged map[string]workload.ResourceFile, attached []workload.ResourceFile, spec batch.TaskSpecification) batch.TaskDescriptor {
	files := make([]workload.ResourceFile, 0, t.RequiredFiles.Len()+len(attached))
	for _, p := range t.RequiredFiles.Paths() {
		files = append(files, staged[p])
	}
	files = append(files, attached...)

	return batch.TaskDescriptor{
		Index:         t.Index,
		Name:          batch.TaskName(t.Name),
		CommandLine:   t.CommandLine,
		ResourceFiles: files,
		Spec:          spec.Clone(),
		Arguments:     batch.TaskArguments(t.Arguments),
	}
}

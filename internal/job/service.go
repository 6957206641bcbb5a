// Package job is the workload submission service: it validates manifests,
// previews or submits them, reports on submitted jobs and notifies callbacks.
package job

import (
	"batchkit/internal/apperrors"
	"batchkit/internal/batch"
	"batchkit/internal/dispatcher"
	"batchkit/internal/manifest"
	"batchkit/internal/observability"
	"batchkit/internal/orchestrator"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Validation limits
const (
	maxUnits          = 256
	maxStepsPerUnit   = 64
	maxArguments      = 16
	maxArgumentValues = 4096
	maxTasks          = 10000
	maxFiles          = 256
	maxNodes          = 64
	maxCPU            = 64    // cores
	maxMemory         = 65536 // MB (64GB)
	maxMetaKeyLen     = 64
	maxMetaValueLen   = 256
	maxMetaEntries    = 32
	maxCallbackEvents = 16
)

// EventSource is the CloudEvents source of submission events.
const EventSource = "batchkit/workload-service"

// Service submits workloads and reports on submitted jobs.
//
// The Service is stateless - all job state lives in the backend.
type Service struct {
	submitter  Submitter
	backend    batch.JobInspector
	dispatcher dispatcher.Dispatcher
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewService creates a new submission service. dispatcher and metrics may
// be nil.
func NewService(submitter Submitter, backend batch.JobInspector, d dispatcher.Dispatcher, metrics *observability.Metrics) *Service {
	return &Service{
		submitter:  submitter,
		backend:    backend,
		dispatcher: d,
		metrics:    metrics,
		logger:     slog.With("component", "job"),
	}
}

// Submit validates m and submits its workload.
//
// A response is returned whenever the job was created, even if some tasks
// were rejected; Status tells the two cases apart. If ctx ends during task
// submission the partial response is returned together with the error.
// Note: This method applies defaults to the manifest before validation.
func (s *Service) Submit(ctx context.Context, m *manifest.Manifest) (*SubmitResponse, error) {
	req, err := s.prepare(m)
	if err != nil {
		return nil, err
	}

	pool := string(req.Pool.PoolName())
	logger := s.logger.With("pool", pool, "job", req.Job)

	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordWorkloadStarted(ctx, pool, req.Workload.TaskCount())
	}

	sub, err := s.submitter.Submit(ctx, req)
	if sub == nil {
		s.recordFinished(ctx, pool, observability.OutcomeFailed, start)
		logger.Error("Workload submission failed", "error", err)
		return nil, err
	}

	outcome := observability.OutcomeSubmitted
	if !sub.Succeeded() {
		outcome = observability.OutcomePartial
	}
	s.recordFinished(ctx, pool, outcome, start)
	s.notify(m.Callback, req, sub)

	resp := newSubmitResponse(sub)
	if err != nil {
		logger.Warn("Workload submission interrupted", "submitted", resp.Submitted, "failed", resp.Failed, "error", err)
		return resp, err
	}
	if resp.Failed > 0 {
		logger.Warn("Workload partially submitted", "submitted", resp.Submitted, "failed", resp.Failed, "error", sub.Err())
	} else {
		logger.Info("Workload submitted", "tasks", resp.Submitted)
	}
	return resp, nil
}

// Expand validates m and previews its tasks without contacting the backend.
// Note: This method applies defaults to the manifest before validation.
func (s *Service) Expand(ctx context.Context, m *manifest.Manifest) (*ExpandResponse, error) {
	req, err := s.prepare(m)
	if err != nil {
		return nil, err
	}
	tasks, err := orchestrator.Expand(req)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordExpansion(ctx, len(tasks))
	}

	resp := &ExpandResponse{
		Pool:  string(req.Pool.PoolName()),
		Job:   string(req.Job),
		Tasks: make([]TaskPreview, len(tasks)),
	}
	for i, t := range tasks {
		resp.Tasks[i] = TaskPreview{
			Index:       t.Index,
			Name:        t.Name,
			Arguments:   t.Arguments,
			CommandLine: t.CommandLine,
			Files:       t.RequiredFiles.Paths(),
			Strict:      t.Strict,
		}
	}
	return resp, nil
}

// Tasks returns the status of every task of a job.
func (s *Service) Tasks(ctx context.Context, job string) (*TasksResponse, error) {
	name := batch.JobName(job)
	if err := name.Validate(); err != nil {
		return nil, err
	}
	statuses, err := s.backend.ListTasks(ctx, name)
	if err != nil {
		return nil, err
	}
	return &TasksResponse{Job: job, Tasks: statuses}, nil
}

// Delete removes a job and its tasks.
func (s *Service) Delete(ctx context.Context, job string) error {
	name := batch.JobName(job)
	if err := name.Validate(); err != nil {
		return err
	}
	logger := s.logger.With("job", job)
	if err := s.backend.DeleteJob(ctx, name); err != nil {
		logger.Error("Job deletion failed", "error", err)
		return err
	}
	logger.Info("Job deleted")
	return nil
}

// prepare applies defaults, checks service limits and builds the request.
func (s *Service) prepare(m *manifest.Manifest) (*orchestrator.Request, error) {
	if m == nil {
		return nil, apperrors.Validation("manifest", "manifest is required")
	}
	m.ApplyDefaults()
	if err := validate(m); err != nil {
		return nil, err
	}
	req, err := m.Build()
	if err != nil {
		return nil, err
	}
	if n := req.Workload.TaskCount(); n > maxTasks {
		return nil, apperrors.Validation("workload", fmt.Sprintf("workload expands to %d tasks, maximum is %d", n, maxTasks))
	}
	return req, nil
}

func (s *Service) recordFinished(ctx context.Context, pool, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordWorkloadFinished(ctx, pool, outcome, time.Since(start))
	}
}

// notify queues the submission events for the callback, if any.
func (s *Service) notify(cb *manifest.CallbackDTO, req *orchestrator.Request, sub *orchestrator.Submission) {
	if cb == nil || cb.URL == "" || s.dispatcher == nil {
		return
	}

	builder := NewEventBuilder(string(req.Job), EventSource, req.JobSpec.Metadata)
	dispatch := func(eventType string, build func() *dispatcher.Event) {
		if !FilteredEvents(eventType, cb.Events) {
			return
		}
		if err := s.dispatcher.Dispatch(build()); err != nil {
			s.logger.Warn("Event dispatch failed", "job", req.Job, "type", eventType, "error", err)
		}
	}

	dispatch(EventTypeSubmitted, func() *dispatcher.Event {
		return &dispatcher.Event{Payload: builder.BuildSubmittedEvent(sub), Destination: cb.URL, SigningKey: cb.SigningKey}
	})
	for _, f := range sub.Failures {
		dispatch(EventTypeTaskFailed, func() *dispatcher.Event {
			return &dispatcher.Event{Payload: builder.BuildTaskFailedEvent(f), Destination: cb.URL, SigningKey: cb.SigningKey}
		})
	}
}

func newSubmitResponse(sub *orchestrator.Submission) *SubmitResponse {
	resp := &SubmitResponse{
		Pool:      string(sub.Pool.Name),
		Job:       string(sub.Job.Name),
		Status:    StatusSubmitted,
		Submitted: len(sub.Tasks),
		Failed:    len(sub.Failures),
		Tasks:     make([]TaskResult, 0, sub.Total()),
	}
	if !sub.Succeeded() {
		resp.Status = StatusPartial
	}

	// Merge both lists back into expansion order.
	i, j := 0, 0
	for i < len(sub.Tasks) || j < len(sub.Failures) {
		if j >= len(sub.Failures) || (i < len(sub.Tasks) && sub.Tasks[i].Index < sub.Failures[j].Index) {
			t := sub.Tasks[i]
			resp.Tasks = append(resp.Tasks, TaskResult{Index: t.Index, Name: t.Task.Name, ID: t.Handle.ID, Arguments: t.Task.Arguments})
			i++
			continue
		}
		f := sub.Failures[j]
		resp.Tasks = append(resp.Tasks, TaskResult{Index: f.Index, Name: f.Task.Name, Arguments: f.Task.Arguments, Error: f.Err.Error()})
		j++
	}
	return resp
}

// validate checks the service limits of a manifest with defaults applied.
// Does not modify the manifest.
func validate(m *manifest.Manifest) error {
	if m.Pool.Nodes > maxNodes {
		return apperrors.Validation("pool.nodes", fmt.Sprintf("pool.nodes exceeds maximum of %d", maxNodes))
	}
	if m.Pool.CPU > maxCPU {
		return apperrors.Validation("pool.cpu", fmt.Sprintf("CPU exceeds maximum of %d cores", maxCPU))
	}
	if m.Pool.MemoryMB > maxMemory {
		return apperrors.Validation("pool.memoryMB", fmt.Sprintf("memory exceeds maximum of %d MB", maxMemory))
	}

	if err := validateMeta("job.metadata", m.Job.Metadata); err != nil {
		return err
	}
	if err := validateMeta("pool.labels", m.Pool.Labels); err != nil {
		return err
	}

	w := m.Workload
	if len(w.Units) > maxUnits {
		return apperrors.Validation("workload.units", fmt.Sprintf("units exceed maximum of %d", maxUnits))
	}
	files := len(w.SharedFiles) + len(w.Attach)
	for i, u := range w.Units {
		if len(u.Steps)+len(u.Always) > maxStepsPerUnit {
			return apperrors.Validation(fmt.Sprintf("workload.units[%d]", i), fmt.Sprintf("commands exceed maximum of %d", maxStepsPerUnit))
		}
		files += len(u.Files)
	}
	if files > maxFiles {
		return apperrors.Validation("workload.files", fmt.Sprintf("files exceed maximum of %d", maxFiles))
	}
	if len(w.Arguments) > maxArguments {
		return apperrors.Validation("workload.arguments", fmt.Sprintf("arguments exceed maximum of %d", maxArguments))
	}
	for i, a := range w.Arguments {
		if len(a.Values) > maxArgumentValues {
			return apperrors.Validation(fmt.Sprintf("workload.arguments[%d]", i), fmt.Sprintf("values exceed maximum of %d", maxArgumentValues))
		}
	}

	if cb := m.Callback; cb != nil {
		if err := validateURL(cb.URL); err != nil {
			return apperrors.Validation("callback.url", fmt.Sprintf("invalid callback URL: %v", err))
		}
		if len(cb.Events) > maxCallbackEvents {
			return apperrors.Validation("callback.events", fmt.Sprintf("callback events exceed maximum of %d", maxCallbackEvents))
		}
		for _, e := range cb.Events {
			if e != EventTypeSubmitted && e != EventTypeTaskFailed {
				return apperrors.Validation("callback.events", fmt.Sprintf("unknown event type %q", e))
			}
		}
	}
	return nil
}

func validateMeta(field string, meta map[string]string) error {
	if len(meta) > maxMetaEntries {
		return apperrors.Validation(field, fmt.Sprintf("%s exceeds maximum of %d entries", field, maxMetaEntries))
	}
	for k, v := range meta {
		if len(k) > maxMetaKeyLen {
			return apperrors.Validation(field, fmt.Sprintf("%s key exceeds maximum length of %d", field, maxMetaKeyLen))
		}
		if len(v) > maxMetaValueLen {
			return apperrors.Validation(field, fmt.Sprintf("%s value exceeds maximum length of %d", field, maxMetaValueLen))
		}
	}
	return nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

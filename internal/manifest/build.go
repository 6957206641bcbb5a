package manifest

import (
	"batchkit/internal/apperrors"
	"batchkit/internal/batch"
	"batchkit/internal/orchestrator"
	"batchkit/internal/workload"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.trai.ch/zerr"
)

// DefaultPoolName names the pool of manifests that do not name one.
const DefaultPoolName = "default"

// ApplyDefaults fills what the manifest leaves out: a generated job name,
// the default pool and the default pool specification.
func (m *Manifest) ApplyDefaults() {
	if m.Pool == nil {
		m.Pool = &PoolDTO{}
	}
	if m.Pool.Name == "" {
		m.Pool.Name = DefaultPoolName
	}
	def := batch.DefaultPoolSpecification()
	if m.Pool.Image == "" {
		m.Pool.Image = def.Image
	}
	if m.Pool.Nodes == 0 {
		m.Pool.Nodes = def.Nodes
	}
	if m.Pool.CPU == 0 {
		m.Pool.CPU = def.CPU
	}
	if m.Pool.MemoryMB == 0 {
		m.Pool.MemoryMB = def.MemoryMB
	}

	if m.Job == nil {
		m.Job = &JobDTO{}
	}
	if m.Job.Name == "" {
		m.Job.Name = "job-" + xid.New().String()
	}
}

// WithBaseDir returns a copy of m resolving relative local paths against dir.
func (m *Manifest) WithBaseDir(dir string) *Manifest {
	c := *m
	c.baseDir = dir
	return &c
}

// Build converts the manifest into a submission request. Call ApplyDefaults
// first unless the manifest names its pool and job.
func (m *Manifest) Build() (*orchestrator.Request, error) {
	if m.Pool == nil || m.Pool.Name == "" {
		return nil, apperrors.Validation("pool.name", "pool.name is required")
	}
	if m.Job == nil || m.Job.Name == "" {
		return nil, apperrors.Validation("job.name", "job.name is required")
	}

	jobSpec, err := m.Job.specification()
	if err != nil {
		return nil, err
	}
	var taskSpec batch.TaskSpecification
	if m.Task != nil {
		if taskSpec, err = m.Task.specification(); err != nil {
			return nil, err
		}
	}
	spec, err := m.Workload.specification(m.baseDir)
	if err != nil {
		return nil, err
	}

	return &orchestrator.Request{
		Pool: batch.NamedPool{
			Name: batch.PoolName(m.Pool.Name),
			Specification: batch.PoolSpecification{
				Image:    m.Pool.Image,
				Nodes:    m.Pool.Nodes,
				CPU:      m.Pool.CPU,
				MemoryMB: m.Pool.MemoryMB,
				Labels:   m.Pool.Labels,
			},
		},
		Job:      batch.JobName(m.Job.Name),
		JobSpec:  jobSpec,
		TaskSpec: taskSpec,
		Workload: spec,
	}, nil
}

func (j *JobDTO) specification() (batch.JobSpecification, error) {
	spec := batch.JobSpecification{
		MaxTaskRetries: j.MaxTaskRetries,
		Metadata:       j.Metadata,
	}
	if j.Priority != nil {
		p, err := batch.NewJobPriority(*j.Priority)
		if err != nil {
			return batch.JobSpecification{}, err
		}
		spec.Priority = p
	}
	var err error
	if spec.MaxWallClock, err = parseDuration("job.maxWallClock", j.MaxWallClock); err != nil {
		return batch.JobSpecification{}, err
	}
	return spec, nil
}

func (t *TaskDTO) specification() (batch.TaskSpecification, error) {
	spec := batch.TaskSpecification{
		MaxRetries:  t.MaxRetries,
		Environment: t.Environment,
	}
	var err error
	if spec.MaxWallClock, err = parseDuration("task.maxWallClock", t.MaxWallClock); err != nil {
		return batch.TaskSpecification{}, err
	}
	if spec.RetentionTime, err = parseDuration("task.retention", t.Retention); err != nil {
		return batch.TaskSpecification{}, err
	}
	return spec, nil
}

func (w *WorkloadDTO) specification(baseDir string) (workload.Specification, error) {
	units := make([]workload.UnitTemplate, len(w.Units))
	for i, u := range w.Units {
		unit, err := u.template(baseDir)
		if err != nil {
			return workload.Specification{}, zerr.With(err, "unit", i)
		}
		units[i] = unit
	}

	params := make([]workload.Parameter, len(w.Arguments))
	for i, a := range w.Arguments {
		params[i] = workload.Parameter{Name: a.Name, Values: a.Values}
	}
	args, err := workload.NewArguments(params...)
	if err != nil {
		return workload.Specification{}, err
	}

	attached := make([]workload.ResourceFile, len(w.Attach))
	for i, a := range w.Attach {
		if a.Source == "" {
			return workload.Specification{}, apperrors.Validation(fmt.Sprintf("workload.attach[%d].source", i), "source is required")
		}
		attached[i] = workload.ResourceFile{Source: a.Source, Path: a.Path}
	}

	spec := workload.NewSpecification(units, localFiles(baseDir, w.SharedFiles), args)
	if len(attached) > 0 {
		spec = spec.WithAttached(workload.NewUploadedFiles(attached...))
	}
	return spec, nil
}

func (u *UnitDTO) template(baseDir string) (workload.UnitTemplate, error) {
	guarded := make([]workload.ErrorHandledCommand, len(u.Steps))
	for i, s := range u.Steps {
		primary, err := command(s.Run, s.Template, s.Params)
		if err != nil {
			return workload.UnitTemplate{}, zerr.With(err, "step", i)
		}
		guarded[i] = workload.Try(primary)
		if s.Fallback != nil {
			fallback, err := s.Fallback.command()
			if err != nil {
				return workload.UnitTemplate{}, zerr.With(zerr.With(err, "step", i), "fallback", true)
			}
			guarded[i] = guarded[i].Catch(fallback)
		}
	}

	always := make([]workload.Command, len(u.Always))
	for i, c := range u.Always {
		cmd, err := c.command()
		if err != nil {
			return workload.UnitTemplate{}, zerr.With(err, "always", i)
		}
		always[i] = cmd
	}

	return workload.UnitTemplate{
		Commands: workload.NewCommandSet(guarded, always),
		Files:    localFiles(baseDir, u.Files),
		Strict:   u.Strict,
	}, nil
}

func (c CommandDTO) command() (workload.Command, error) {
	return command(c.Run, c.Template, c.Params)
}

// command builds a Simple command from run or a Parametrized one from
// template. Exactly one of them must be set and not blank.
func command(run, template string, params []string) (workload.Command, error) {
	if strings.TrimSpace(run) == "" {
		run = ""
	}
	if strings.TrimSpace(template) == "" {
		template = ""
	}
	switch {
	case run != "" && template != "":
		return nil, apperrors.Validation("command", "set either run or template, not both")
	case template != "":
		p, err := workload.NewParametrized(template, params...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case run != "":
		if len(params) > 0 {
			return nil, apperrors.Validation("command", "params require a template")
		}
		return workload.NewSimple(run), nil
	default:
		return nil, apperrors.Validation("command", "command is empty")
	}
}

func localFiles(baseDir string, paths []string) workload.LocalFiles {
	resolved := make([]string, len(paths))
	for i, p := range paths {
		if baseDir != "" && !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		resolved[i] = p
	}
	return workload.NewLocalFiles(resolved...)
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, apperrors.Validation(field, fmt.Sprintf("%s: invalid duration %q", field, value))
	}
	return d, nil
}

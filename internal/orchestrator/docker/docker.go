// Package docker implements the batch services on a Docker daemon. Pools are
// networks, jobs are named workspace volumes and tasks are containers
// attached to both.
package docker

import (
	"batchkit/internal/apperrors"
	"batchkit/internal/batch"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
)

// Backend implements batch.ExecutionService and batch.JobInspector using
// Docker. Labels on the created resources are the source of truth, so
// several service instances can share a daemon.
type Backend struct {
	client *client.Client
	config Config
	jobs   *jobCache
	logger *slog.Logger
}

// NewBackend connects to the Docker daemon configured by the environment.
func NewBackend(cfg Config) (*Backend, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Backend{
		client: dockerClient,
		config: cfg.withDefaults(),
		jobs:   newJobCache(),
		logger: slog.With("component", "docker"),
	}, nil
}

// ResolveOrCreatePool returns the network of the pool called name, creating
// it when missing. A network created concurrently by another caller is
// reused.
func (b *Backend) ResolveOrCreatePool(ctx context.Context, name batch.PoolName, spec batch.PoolSpecification) (batch.PoolHandle, error) {
	netName := poolNetworkName(name)

	existing, err := b.client.NetworkInspect(ctx, netName, network.InspectOptions{})
	if err == nil {
		return batch.PoolHandle{Name: name, ID: existing.ID, Specification: poolSpecFromLabels(existing.Labels)}, nil
	}
	if !cerrdefs.IsNotFound(err) {
		return batch.PoolHandle{}, apperrors.Internal("docker.inspectNetwork", err)
	}

	spec = spec.WithDefaults()
	resp, err := b.client.NetworkCreate(ctx, netName, network.CreateOptions{
		Driver: b.config.NetworkDriver,
		Labels: poolLabels(name, spec),
	})
	if err != nil {
		// Lost a create race: the winner's network is the pool.
		if existing, inspectErr := b.client.NetworkInspect(ctx, netName, network.InspectOptions{}); inspectErr == nil {
			return batch.PoolHandle{Name: name, ID: existing.ID, Specification: poolSpecFromLabels(existing.Labels)}, nil
		}
		return batch.PoolHandle{}, apperrors.Internal("docker.createNetwork", err)
	}

	// Pull with a detached context so a request timeout does not abort a large pull.
	if err := b.pullImageIfNeeded(context.WithoutCancel(ctx), spec.Image); err != nil {
		return batch.PoolHandle{}, apperrors.Internal("docker.pullImage", err)
	}

	b.logger.Info("Pool created", "pool", name, "network", resp.ID, "image", spec.Image)
	return batch.PoolHandle{Name: name, ID: resp.ID, Created: true, Specification: spec}, nil
}

// ResolveOrCreateJob returns the workspace volume of the job called name,
// creating it when missing. A job already bound to another pool is a
// conflict.
func (b *Backend) ResolveOrCreateJob(ctx context.Context, name batch.JobName, spec batch.JobSpecification, pool batch.PoolHandle) (batch.JobHandle, error) {
	if cached, ok := b.jobs.get(name); ok {
		if cached.pool != pool.Name {
			return batch.JobHandle{}, apperrors.Conflict("job", string(name), "job is bound to pool "+string(cached.pool))
		}
		return batch.JobHandle{Name: name, ID: cached.volume, Pool: pool}, nil
	}

	volName := jobVolumeName(name)
	existing, err := b.client.VolumeInspect(ctx, volName)
	switch {
	case err == nil:
		bound := batch.PoolName(existing.Labels[labelPool])
		if bound != pool.Name {
			return batch.JobHandle{}, apperrors.Conflict("job", string(name), "job is bound to pool "+string(bound))
		}
		b.jobs.put(name, resolvedJob{volume: volName, pool: bound})
		return batch.JobHandle{Name: name, ID: volName, Pool: pool}, nil
	case !cerrdefs.IsNotFound(err):
		return batch.JobHandle{}, apperrors.Internal("docker.inspectVolume", err)
	}

	if _, err := b.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   volName,
		Labels: jobLabels(name, spec, pool.Name),
	}); err != nil {
		return batch.JobHandle{}, apperrors.Internal("docker.createVolume", err)
	}
	b.jobs.put(name, resolvedJob{volume: volName, pool: pool.Name})

	b.logger.Info("Job created", "job", name, "pool", pool.Name, "priority", spec.Priority)
	return batch.JobHandle{Name: name, ID: volName, Pool: pool, Created: true}, nil
}

// SubmitTask creates and starts the container of a task.
func (b *Backend) SubmitTask(ctx context.Context, job batch.JobHandle, task batch.TaskDescriptor) (batch.TaskHandle, error) {
	containerConfig, hostConfig := taskContainer(b.config, job, task)
	name := taskContainerName(job.Name, task.Name)

	resp, err := b.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		if cerrdefs.IsConflict(err) {
			return batch.TaskHandle{}, apperrors.Conflict("task", string(task.Name), "task already exists")
		}
		return batch.TaskHandle{}, apperrors.Internal("docker.createContainer", err)
	}

	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = b.client.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return batch.TaskHandle{}, apperrors.Internal("docker.startContainer", err)
	}

	return batch.TaskHandle{Job: job.Name, Name: task.Name, ID: resp.ID}, nil
}

// ListTasks returns the status of every task container of job, ordered by
// expansion index.
func (b *Backend) ListTasks(ctx context.Context, job batch.JobName) ([]batch.TaskStatus, error) {
	if _, err := b.client.VolumeInspect(ctx, jobVolumeName(job)); err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, apperrors.NotFound("job", string(job))
		}
		return nil, apperrors.Internal("docker.inspectVolume", err)
	}

	containers, err := b.jobContainers(ctx, job)
	if err != nil {
		return nil, err
	}

	type indexed struct {
		index  int
		status batch.TaskStatus
	}
	tasks := make([]indexed, 0, len(containers))
	for _, c := range containers {
		status := batch.TaskStatus{
			Job:       job,
			Name:      batch.TaskName(c.Labels[labelTask]),
			ID:        c.ID,
			State:     taskState(string(c.State), string(c.State) == "running", 0),
			CreatedAt: time.Unix(c.Created, 0).UTC(),
		}

		inspect, err := b.client.ContainerInspect(ctx, c.ID)
		if err == nil && inspect.State != nil {
			status.State = taskState(string(inspect.State.Status), inspect.State.Running, inspect.State.ExitCode)
			if status.State == batch.StateCompleted || status.State == batch.StateFailed {
				exitCode := inspect.State.ExitCode
				status.ExitCode = &exitCode
				status.Error = inspect.State.Error
				status.FinishedAt = parseDockerTime(inspect.State.FinishedAt)
			}
		}

		index, _ := strconv.Atoi(c.Labels[labelTaskIndex])
		tasks = append(tasks, indexed{index: index, status: status})
	}

	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].index < tasks[j].index })
	statuses := make([]batch.TaskStatus, len(tasks))
	for i, t := range tasks {
		statuses[i] = t.status
	}
	return statuses, nil
}

// DeleteJob removes every task container of job and its workspace volume.
func (b *Backend) DeleteJob(ctx context.Context, job batch.JobName) error {
	volName := jobVolumeName(job)
	if _, err := b.client.VolumeInspect(ctx, volName); err != nil {
		if cerrdefs.IsNotFound(err) {
			return apperrors.NotFound("job", string(job))
		}
		return apperrors.Internal("docker.inspectVolume", err)
	}

	containers, err := b.jobContainers(ctx, job)
	if err != nil {
		return err
	}
	for _, c := range containers {
		if err := b.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
			return apperrors.Internal("docker.removeContainer", err)
		}
	}
	if err := b.client.VolumeRemove(ctx, volName, true); err != nil && !cerrdefs.IsNotFound(err) {
		return apperrors.Internal("docker.removeVolume", err)
	}
	b.jobs.forget(job)

	b.logger.Info("Job deleted", "job", job, "tasks", len(containers))
	return nil
}

func (b *Backend) jobContainers(ctx context.Context, job batch.JobName) ([]container.Summary, error) {
	containers, err := b.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelManagedBy+"="+managedBy),
			filters.Arg("label", labelJob+"="+string(job)),
		),
	})
	if err != nil {
		return nil, apperrors.Internal("docker.listContainers", err)
	}
	return containers, nil
}

func (b *Backend) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := b.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := b.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Ready checks if the Docker daemon is reachable and responsive.
func (b *Backend) Ready(ctx context.Context) error {
	_, err := b.client.Ping(ctx)
	return err
}

// Close releases the Docker client. Running tasks are not stopped.
func (b *Backend) Close() error {
	b.logger.Debug("Closing backend", "cachedJobs", b.jobs.len())
	return b.client.Close()
}

var (
	_ batch.ExecutionService = (*Backend)(nil)
	_ batch.JobInspector     = (*Backend)(nil)
)

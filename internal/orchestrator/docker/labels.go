package docker

import (
	"batchkit/internal/batch"
	"batchkit/internal/workload"
	"fmt"
	"maps"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
)

// Label keys set on every resource the backend creates.
const (
	labelManagedBy    = "managed-by"
	labelPool         = "batch.pool"
	labelPoolImage    = "batch.pool.image"
	labelPoolNodes    = "batch.pool.nodes"
	labelPoolCPU      = "batch.pool.cpu"
	labelPoolMemory   = "batch.pool.memory"
	labelJob          = "batch.job"
	labelJobPriority  = "batch.job.priority"
	labelTask         = "batch.task"
	labelTaskIndex    = "batch.task.index"
	labelTaskWallTime = "batch.task.maxWallClock"

	managedBy = "batchkit"
)

func poolNetworkName(name batch.PoolName) string { return "pool-" + string(name) }

func jobVolumeName(name batch.JobName) string { return fmt.Sprintf("job-%s-workspace", name) }

func taskContainerName(job batch.JobName, task batch.TaskName) string {
	return fmt.Sprintf("job-%s-%s", job, task)
}

// poolLabels encodes a pool specification as network labels.
func poolLabels(name batch.PoolName, spec batch.PoolSpecification) map[string]string {
	labels := maps.Clone(spec.Labels)
	if labels == nil {
		labels = make(map[string]string, 6)
	}
	labels[labelManagedBy] = managedBy
	labels[labelPool] = string(name)
	labels[labelPoolImage] = spec.Image
	labels[labelPoolNodes] = strconv.Itoa(spec.Nodes)
	labels[labelPoolCPU] = strconv.FormatFloat(spec.CPU, 'f', -1, 64)
	labels[labelPoolMemory] = strconv.Itoa(spec.MemoryMB)
	return labels
}

// poolSpecFromLabels recovers a pool specification from network labels.
// Missing or unparsable values fall back to the defaults.
func poolSpecFromLabels(labels map[string]string) batch.PoolSpecification {
	var spec batch.PoolSpecification
	spec.Image = labels[labelPoolImage]
	spec.Nodes, _ = strconv.Atoi(labels[labelPoolNodes])
	spec.CPU, _ = strconv.ParseFloat(labels[labelPoolCPU], 64)
	spec.MemoryMB, _ = strconv.Atoi(labels[labelPoolMemory])
	for k, v := range labels {
		if strings.HasPrefix(k, "batch.") || k == labelManagedBy {
			continue
		}
		if spec.Labels == nil {
			spec.Labels = make(map[string]string)
		}
		spec.Labels[k] = v
	}
	return spec.WithDefaults()
}

// jobLabels encodes a job as volume labels.
func jobLabels(name batch.JobName, spec batch.JobSpecification, pool batch.PoolName) map[string]string {
	labels := make(map[string]string, 4+len(spec.Metadata))
	for k, v := range spec.Metadata {
		labels["batch.meta."+k] = v
	}
	labels[labelManagedBy] = managedBy
	labels[labelJob] = string(name)
	labels[labelPool] = string(pool)
	if p, ok := spec.Priority.Value(); ok {
		labels[labelJobPriority] = strconv.Itoa(p)
	}
	return labels
}

// shellQuote quotes s for POSIX sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// taskScript prefixes the command line with the download of every resource
// file into the working directory. A failed download aborts the task.
func taskScript(fetcher string, files []workload.ResourceFile, commandLine string) string {
	var b strings.Builder
	for _, f := range files {
		if dir := path.Dir(f.Path); dir != "." {
			fmt.Fprintf(&b, "mkdir -p %s || exit 1\n", shellQuote(dir))
		}
		fmt.Fprintf(&b, "%s %s %s || exit 1\n", fetcher, shellQuote(f.Path), shellQuote(f.Source))
	}
	b.WriteString(commandLine)
	return b.String()
}

// taskEnv returns the container environment of a task, sorted by name.
func taskEnv(job batch.JobName, task batch.TaskDescriptor) []string {
	env := make([]string, 0, len(task.Spec.Environment)+3)
	for k, v := range task.Spec.Environment {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"BATCH_JOB="+string(job),
		"BATCH_TASK="+string(task.Name),
		"BATCH_TASK_INDEX="+strconv.Itoa(task.Index),
	)
	sort.Strings(env)
	return env
}

// taskContainer builds the container and host configuration of a task.
func taskContainer(cfg Config, job batch.JobHandle, task batch.TaskDescriptor) (*container.Config, *container.HostConfig) {
	pool := job.Pool.Specification.WithDefaults()
	workDir := path.Join(cfg.Workspace, string(task.Name))

	labels := map[string]string{
		labelManagedBy: managedBy,
		labelPool:      string(job.Pool.Name),
		labelJob:       string(job.Name),
		labelTask:      string(task.Name),
		labelTaskIndex: strconv.Itoa(task.Index),
	}
	if task.Spec.MaxWallClock > 0 {
		labels[labelTaskWallTime] = task.Spec.MaxWallClock.String()
	}

	containerConfig := &container.Config{
		Image:      pool.Image,
		Cmd:        []string{"/bin/sh", "-c", taskScript(cfg.Fetcher, task.ResourceFiles, task.CommandLine)},
		Env:        taskEnv(job.Name, task),
		WorkingDir: workDir,
		Labels:     labels,
	}

	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(poolNetworkName(job.Pool.Name)),
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: jobVolumeName(job.Name),
				Target: cfg.Workspace,
			},
		},
		Resources: container.Resources{
			NanoCPUs: int64(pool.CPU * 1e9),
			Memory:   int64(pool.MemoryMB) * 1024 * 1024,
		},
		ExtraHosts: cfg.ExtraHosts,
	}
	if task.Spec.MaxRetries > 0 {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyOnFailure,
			MaximumRetryCount: task.Spec.MaxRetries,
		}
	}
	return containerConfig, hostConfig
}

// taskState maps a Docker container state to a task state.
func taskState(status string, running bool, exitCode int) string {
	switch {
	case running || status == "restarting":
		return batch.StateRunning
	case status == "created":
		return batch.StateActive
	case exitCode == 0:
		return batch.StateCompleted
	default:
		return batch.StateFailed
	}
}

// parseDockerTime parses a Docker timestamp, returning nil for the zero
// timestamp Docker reports for containers that never finished.
func parseDockerTime(s string) *time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.IsZero() || t.Year() <= 1 {
		return nil
	}
	return &t
}

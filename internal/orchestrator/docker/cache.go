package docker

import (
	"batchkit/internal/batch"
	"sync"
)

// resolvedJob is what the backend learned when it resolved a job.
type resolvedJob struct {
	volume string
	pool   batch.PoolName
}

// jobCache remembers resolved jobs to save Docker round trips. Labels on
// the job volume remain the source of truth.
type jobCache struct {
	mu   sync.RWMutex
	jobs map[batch.JobName]resolvedJob
}

func newJobCache() *jobCache {
	return &jobCache{jobs: make(map[batch.JobName]resolvedJob)}
}

func (c *jobCache) put(name batch.JobName, job resolvedJob) {
	c.mu.Lock()
	c.jobs[name] = job
	c.mu.Unlock()
}

func (c *jobCache) get(name batch.JobName) (resolvedJob, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	job, ok := c.jobs[name]
	return job, ok
}

// forget drops name and reports whether it was cached.
func (c *jobCache) forget(name batch.JobName) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.jobs[name]
	delete(c.jobs, name)
	return ok
}

func (c *jobCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.jobs)
}

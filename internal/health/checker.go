// Package health answers the service's liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ReadinessChecker is implemented by execution backends and the storage
// client.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response is the body of a probe.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy reports whether the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout bounds each dependency check. Defaults to 5s.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

// WithCacheTTL sets how long a readiness result is reused. Defaults to 1s.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Checker) { c.cacheTTL = d }
}

type dependency struct {
	name  string
	ready ReadinessChecker
}

// Checker runs readiness checks against the execution backend and any
// registered dependencies. Results are cached briefly so frequent probes do
// not hammer the backend.
type Checker struct {
	deps     []dependency
	timeout  time.Duration
	cacheTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cached   *Response
	cachedAt time.Time

	shuttingDown atomic.Bool
}

// NewChecker creates a checker whose first dependency is the execution
// backend, reported as "backend".
func NewChecker(backend ReadinessChecker, opts ...Option) *Checker {
	c := &Checker{
		deps:     []dependency{{name: "backend", ready: backend}},
		timeout:  5 * time.Second,
		cacheTTL: time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a named dependency. It must be called before the checker
// serves probes.
func (c *Checker) Register(name string, r ReadinessChecker) {
	c.deps = append(c.deps, dependency{name: name, ready: r})
}

// Liveness reports the process as alive. It never consults dependencies.
func (c *Checker) Liveness(context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness checks every dependency concurrently. Any failing dependency
// makes the service unhealthy, and so does a pending shutdown.
func (c *Checker) Readiness(ctx context.Context) *Response {
	if c.shuttingDown.Load() {
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.cachedAt) < c.cacheTTL {
		cached := c.cached
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	results := make([]CheckResult, len(c.deps))
	var g errgroup.Group
	for i, dep := range c.deps {
		g.Go(func() error {
			results[i] = c.check(ctx, dep)
			return nil
		})
	}
	_ = g.Wait()

	response := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(c.deps))}
	for i, dep := range c.deps {
		response.Checks[dep.name] = results[i]
		if results[i].Status != StatusHealthy {
			response.Status = StatusUnhealthy
		}
	}

	c.mu.Lock()
	c.cached = response
	c.cachedAt = c.now()
	c.mu.Unlock()

	return response
}

func (c *Checker) check(ctx context.Context, dep dependency) CheckResult {
	if dep.ready == nil {
		return CheckResult{Status: StatusUnhealthy, Message: dep.name + " not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := dep.ready.Ready(ctx)
	result := CheckResult{Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}

// SetShuttingDown makes every later readiness probe fail so load balancers
// stop routing new work here.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

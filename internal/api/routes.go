package api

import (
	"batchkit/internal/health"
	"batchkit/internal/job"
	"batchkit/internal/observability"
	"net/http"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService      *job.Service
	Metrics         *observability.Metrics
	HealthChecker   *health.Checker
	APIKey          string
	MaxRequestBytes int64
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.HealthChecker, cfg.MaxRequestBytes)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Workload and job endpoints - auth required
	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/workloads", auth(http.HandlerFunc(handler.SubmitWorkload)))
	mux.Handle("POST /v1/workloads/expand", auth(http.HandlerFunc(handler.ExpandWorkload)))
	mux.Handle("GET /v1/jobs/{jobId}/tasks", auth(http.HandlerFunc(handler.ListTasks)))
	mux.Handle("DELETE /v1/jobs/{jobId}", auth(http.HandlerFunc(handler.DeleteJob)))

	mws := []Middleware{RecoveryMiddleware(), RequestIDMiddleware(), LoggingMiddleware()}
	// Metrics must see the request the mux matched, so nothing between it
	// and the mux may replace the request.
	if cfg.Metrics != nil {
		mws = append(mws, MetricsMiddleware(cfg.Metrics))
	}
	mws = append(mws, CORSMiddleware(), ContentTypeMiddleware())
	return chain(mux, mws...)
}

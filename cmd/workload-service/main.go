// workload-service accepts batch workloads over HTTP, expands them into
// tasks and submits them to the configured execution backend.
package main

import (
	"batchkit/internal/api"
	"batchkit/internal/backend"
	"batchkit/internal/config"
	"batchkit/internal/dispatcher"
	"batchkit/internal/health"
	"batchkit/internal/job"
	"batchkit/internal/observability"
	"batchkit/internal/orchestrator"
	"batchkit/internal/orchestrator/docker"
	"batchkit/internal/storage"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	serverShutdownTimeout     = 25 * time.Second
	dispatcherShutdownTimeout = 10 * time.Second
)

func main() {
	svcCfg := config.LoadServiceConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: svcCfg.LogLevel})))

	if err := run(svcCfg); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(svcCfg *config.ServiceConfig) error {
	if err := svcCfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	backends, err := backend.Open(svcCfg.Backend, docker.LoadConfigFromEnv(), storage.LoadConfigFromEnv())
	if err != nil {
		return err
	}
	defer backends.Close()
	slog.Info("Connected to backend", "backend", backends.Kind)

	checker := health.NewChecker(backends.Jobs)
	if backends.StorageReady != nil {
		checker.Register("storage", backends.StorageReady)
	}

	events := dispatcher.NewMemory(dispatcher.LoadConfigFromEnv(), metrics)
	submitter := orchestrator.New(backends.Execution, backends.Storage, orchestrator.LoadConfigFromEnv(), metrics)

	if svcCfg.APIKey == "" {
		slog.Warn("API authentication disabled, no API_KEY configured")
	}

	// Large workloads upload files and create many tasks within one request.
	apiServer := &http.Server{
		Addr: ":" + svcCfg.Port,
		Handler: api.NewRouter(api.RouterConfig{
			JobService:      job.NewService(submitter, backends.Jobs, events, metrics),
			Metrics:         metrics,
			HealthChecker:   checker,
			APIKey:          svcCfg.APIKey,
			MaxRequestBytes: svcCfg.MaxRequestBytes,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen("api", apiServer) })
	g.Go(func() error { return listen("metrics", metricsServer) })
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			slog.Info("Received shutdown signal")
			drain(checker, svcCfg.ShutdownDrainWait)
		}
		shutdown(apiServer, metricsServer)
		return nil
	})
	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), dispatcherShutdownTimeout)
	defer cancel()
	if cerr := events.Close(closeCtx); cerr != nil {
		slog.Warn("Dispatcher shutdown error", "error", cerr)
	}
	stats := events.Stats()
	slog.Info("Shutdown complete",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)
	return err
}

// listen serves until the server is shut down. Only startup and accept
// failures are returned.
func listen(name string, srv *http.Server) error {
	slog.Info("Starting server", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// drain fails readiness and waits so load balancers stop routing here
// before the listeners close.
func drain(checker *health.Checker, wait time.Duration) {
	checker.SetShuttingDown()
	if wait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", wait)
		time.Sleep(wait)
	}
}

// shutdown lets in-flight submissions finish. Submitted tasks belong to the
// backend and keep running.
func shutdown(servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "addr", srv.Addr, "error", err)
		}
	}
}

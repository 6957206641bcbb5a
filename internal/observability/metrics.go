package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests, uploads and submissions take
// - Traffic: Request, workload and task throughput
// - Errors: Rate of failures
// - Saturation: Submissions in flight, dispatcher queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Workload metrics (Latency, Traffic, Errors, Saturation)
	WorkloadDuration    metric.Float64Histogram
	WorkloadsTotal      metric.Int64Counter
	WorkloadErrorsTotal metric.Int64Counter
	WorkloadsActive     metric.Int64UpDownCounter
	TasksExpanded       metric.Int64Counter

	// Upload metrics (Latency, Traffic, Errors)
	UploadDuration    metric.Float64Histogram
	UploadsTotal      metric.Int64Counter
	UploadErrorsTotal metric.Int64Counter

	// Task submission metrics (Latency, Traffic, Errors)
	TaskSubmitDuration    metric.Float64Histogram
	TasksSubmittedTotal   metric.Int64Counter
	TaskSubmitErrorsTotal metric.Int64Counter

	// Dispatcher metrics (Latency, Traffic, Errors, Saturation)
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter("batchkit"))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	if err := m.register(); err != nil {
		return nil, err
	}
	return m, nil
}

// register creates every instrument, stopping at the first error.
func (m *Metrics) register() error {
	meter := m.meter
	latency := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	transfer := []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120}

	var err error
	histogram := func(name, desc string, buckets []float64) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}

	m.HTTPRequestDuration = histogram("http_request_duration_seconds", "HTTP request latency in seconds", latency)
	m.HTTPRequestsTotal = counter("http_requests_total", "Total number of HTTP requests")
	m.HTTPErrorsTotal = counter("http_errors_total", "Total number of HTTP errors (4xx and 5xx)")

	m.WorkloadDuration = histogram("workload_submit_duration_seconds", "Workload submission duration in seconds", transfer)
	m.WorkloadsTotal = counter("workloads_total", "Total number of workloads submitted")
	m.WorkloadErrorsTotal = counter("workload_errors_total", "Total number of workloads that failed before any task was submitted")
	m.TasksExpanded = counter("tasks_expanded_total", "Total number of concrete tasks produced by expansion")

	m.UploadDuration = histogram("upload_duration_seconds", "File upload latency in seconds", transfer)
	m.UploadsTotal = counter("uploads_total", "Total number of file uploads")
	m.UploadErrorsTotal = counter("upload_errors_total", "Total number of failed file uploads")

	m.TaskSubmitDuration = histogram("task_submit_duration_seconds", "Task submission latency in seconds", latency)
	m.TasksSubmittedTotal = counter("tasks_submitted_total", "Total number of task submissions")
	m.TaskSubmitErrorsTotal = counter("task_submit_errors_total", "Total number of failed task submissions")

	m.DispatcherDuration = histogram("dispatcher_duration_seconds", "Callback delivery latency in seconds", latency)
	m.DispatcherDelivered = counter("dispatcher_delivered_total", "Total events successfully delivered")
	m.DispatcherFailed = counter("dispatcher_failed_total", "Total events failed after retries")
	m.DispatcherDropped = counter("dispatcher_dropped_total", "Total events dropped (buffer full or max requeues)")
	m.DispatcherRequeued = counter("dispatcher_requeued_total", "Total events requeued due to open circuit")
	if err != nil {
		return err
	}

	m.WorkloadsActive, err = meter.Int64UpDownCounter(
		"workloads_active",
		metric.WithDescription("Number of workload submissions in flight (saturation)"),
	)
	if err != nil {
		return err
	}

	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of events in dispatcher queue (saturation)"),
	)
	return err
}

// RecordHTTPRequest records one request. route must be a mux pattern, not
// a raw path, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		keyMethod.String(method),
		keyRoute.String(route),
		keyStatus.String(statusClass(statusCode)),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordWorkloadStarted records a workload submission entering the protocol.
func (m *Metrics) RecordWorkloadStarted(ctx context.Context, pool string, tasks int) {
	attrs := metric.WithAttributes(keyPool.String(pool))
	m.WorkloadsActive.Add(ctx, 1, attrs)
	m.TasksExpanded.Add(ctx, int64(tasks), attrs)
}

// RecordWorkloadFinished records the outcome of a workload submission.
// outcome is one of the Outcome constants.
func (m *Metrics) RecordWorkloadFinished(ctx context.Context, pool, outcome string, duration time.Duration) {
	m.WorkloadsActive.Add(ctx, -1, metric.WithAttributes(keyPool.String(pool)))

	attrs := metric.WithAttributes(keyPool.String(pool), keyOutcome.String(outcome))
	m.WorkloadsTotal.Add(ctx, 1, attrs)
	m.WorkloadDuration.Record(ctx, duration.Seconds(), attrs)
	if outcome == OutcomeFailed {
		m.WorkloadErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordExpansion records tasks produced by a preview expansion.
func (m *Metrics) RecordExpansion(ctx context.Context, tasks int) {
	m.TasksExpanded.Add(ctx, int64(tasks), metric.WithAttributes(keyOutcome.String(OutcomePreview)))
}

// RecordUpload records one file upload.
func (m *Metrics) RecordUpload(ctx context.Context, duration time.Duration, err error) {
	attrs := metric.WithAttributes(keySuccess.Bool(err == nil))
	m.UploadsTotal.Add(ctx, 1, attrs)
	m.UploadDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.UploadErrorsTotal.Add(ctx, 1)
	}
}

// RecordTaskSubmission records one task submission.
func (m *Metrics) RecordTaskSubmission(ctx context.Context, duration time.Duration, err error) {
	attrs := metric.WithAttributes(keySuccess.Bool(err == nil))
	m.TasksSubmittedTotal.Add(ctx, 1, attrs)
	m.TaskSubmitDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.TaskSubmitErrorsTotal.Add(ctx, 1)
	}
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}

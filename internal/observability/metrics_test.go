package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics registers the instruments against a manual reader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := newMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func matches(set attribute.Set, want []attribute.KeyValue) bool {
	for _, kv := range want {
		v, ok := set.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}

// sum adds up the int64 sum points carrying every attribute in want.
func sum(t *testing.T, data metricdata.Aggregation, want ...attribute.KeyValue) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected an int64 sum, got %T", data)
	}
	var total int64
	for _, dp := range s.DataPoints {
		if matches(dp.Attributes, want) {
			total += dp.Value
		}
	}
	return total
}

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	metrics, handler, err := NewMetrics(context.Background())
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
	if metrics.WorkloadsActive == nil || metrics.DispatcherQueueSize == nil || metrics.TaskSubmitErrorsTotal == nil {
		t.Error("Expected every instrument to be registered")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, reader := newTestMetrics(t)

	metrics.RecordHTTPRequest(ctx, "GET", "/livez", 200, 0.001)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/workloads", 202, 0.050)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/jobs/{id}/tasks", 200, 0.010)
	metrics.RecordHTTPRequest(ctx, "DELETE", "/v1/jobs/{id}", 404, 0.005)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/workloads", 502, 0.001)

	data := collect(t, reader)
	if got := sum(t, data["http_requests_total"]); got != 5 {
		t.Errorf("http_requests_total = %d, want 5", got)
	}
	if got := sum(t, data["http_requests_total"], keyRoute.String("/v1/workloads")); got != 2 {
		t.Errorf("requests for /v1/workloads = %d, want 2", got)
	}
	if got := sum(t, data["http_errors_total"]); got != 2 {
		t.Errorf("http_errors_total = %d, want 2", got)
	}
	if got := sum(t, data["http_errors_total"], keyStatus.String("5xx")); got != 1 {
		t.Errorf("5xx errors = %d, want 1", got)
	}
}

func TestRecordWorkloadMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, reader := newTestMetrics(t)

	metrics.RecordWorkloadStarted(ctx, "farm", 12)
	metrics.RecordUpload(ctx, 20*time.Millisecond, nil)
	metrics.RecordUpload(ctx, time.Second, errors.New("timeout"))
	metrics.RecordTaskSubmission(ctx, 5*time.Millisecond, nil)
	metrics.RecordTaskSubmission(ctx, 5*time.Millisecond, errors.New("quota"))
	metrics.RecordWorkloadFinished(ctx, "farm", OutcomePartial, 2*time.Second)
	metrics.RecordWorkloadStarted(ctx, "farm", 1)
	metrics.RecordWorkloadFinished(ctx, "farm", OutcomeFailed, time.Second)
	metrics.RecordExpansion(ctx, 4)

	data := collect(t, reader)
	tests := []struct {
		name   string
		metric string
		attrs  []attribute.KeyValue
		want   int64
	}{
		{"expanded for submission", "tasks_expanded_total", []attribute.KeyValue{keyPool.String("farm")}, 13},
		{"expanded for preview", "tasks_expanded_total", []attribute.KeyValue{keyOutcome.String(OutcomePreview)}, 4},
		{"active drained", "workloads_active", nil, 0},
		{"partial workloads", "workloads_total", []attribute.KeyValue{keyOutcome.String(OutcomePartial)}, 1},
		{"failed workloads", "workload_errors_total", nil, 1},
		{"failed uploads", "uploads_total", []attribute.KeyValue{keySuccess.Bool(false)}, 1},
		{"upload errors", "upload_errors_total", nil, 1},
		{"task submit errors", "task_submit_errors_total", nil, 1},
	}
	for _, tt := range tests {
		if got := sum(t, data[tt.metric], tt.attrs...); got != tt.want {
			t.Errorf("%s: %s = %d, want %d", tt.name, tt.metric, got, tt.want)
		}
	}
}

func TestRecordDispatcherMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, reader := newTestMetrics(t)

	metrics.RecordDispatcherDelivered(ctx, 0.02)
	metrics.RecordDispatcherDelivered(ctx, 0.04)
	metrics.RecordDispatcherFailed(ctx)
	metrics.RecordDispatcherDropped(ctx)
	metrics.RecordDispatcherRequeued(ctx)
	metrics.RecordDispatcherQueueSize(ctx, 7)

	data := collect(t, reader)
	if got := sum(t, data["dispatcher_delivered_total"]); got != 2 {
		t.Errorf("dispatcher_delivered_total = %d, want 2", got)
	}
	hist, ok := data["dispatcher_duration_seconds"].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("unexpected delivery histogram %+v", data["dispatcher_duration_seconds"])
	}
	gauge, ok := data["dispatcher_queue_size"].(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 7 {
		t.Errorf("unexpected queue gauge %+v", data["dispatcher_queue_size"])
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()
	for code, want := range map[int]string{200: "2xx", 202: "2xx", 404: "4xx", 502: "5xx"} {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}

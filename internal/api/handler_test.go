package api

import (
	"batchkit/internal/health"
	"batchkit/internal/job"
	"batchkit/internal/orchestrator"
	"batchkit/internal/orchestrator/memory"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/xid"
)

const greetWorkload = `{
	"pool": {"name": "john"},
	"job": {"name": "greetings"},
	"workload": {
		"units": [{"steps": [{"template": "echo %user%", "params": ["user"]}], "strict": true}],
		"arguments": [{"name": "user", "values": ["john", "pradeep"]}]
	}
}`

// newTestRouter wires the full router over an in-memory backend.
func newTestRouter(t *testing.T, apiKey string) (http.Handler, *memory.Backend) {
	t.Helper()
	backend := memory.New()
	o := orchestrator.New(backend, backend, orchestrator.Config{}, nil)
	svc := job.NewService(o, backend, nil, nil)
	router := NewRouter(RouterConfig{
		JobService:    svc,
		HealthChecker: health.NewChecker(backend),
		APIKey:        apiKey,
	})
	return router, backend
}

func serve(h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandler_Livez(t *testing.T) {
	t.Parallel()
	handler := &Handler{
		health: health.NewChecker(nil),
	}

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	handler.Livez(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response health.Response
	json.NewDecoder(w.Body).Decode(&response)

	if response.Status != health.StatusHealthy {
		t.Errorf("Expected status healthy, got %s", response.Status)
	}
}

func TestHandler_Readyz_NoBackend(t *testing.T) {
	t.Parallel()
	handler := &Handler{
		health: health.NewChecker(nil),
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	handler.Readyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestRouter_Readyz(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t, "")

	w := serve(router, http.MethodGet, "/readyz", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body)
	}
}

func TestRouter_SubmitWorkload(t *testing.T) {
	t.Parallel()
	router, backend := newTestRouter(t, "")

	w := serve(router, http.MethodPost, "/v1/workloads", greetWorkload, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusAccepted, w.Code, w.Body)
	}

	var resp job.SubmitResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != job.StatusSubmitted || resp.Submitted != 2 {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if backend.TaskCount() != 2 {
		t.Errorf("Expected 2 tasks in backend, got %d", backend.TaskCount())
	}
}

func TestRouter_SubmitWorkload_Partial(t *testing.T) {
	t.Parallel()
	router, backend := newTestRouter(t, "")
	backend.FailTask("task-0-1", errors.New("quota exceeded"))

	w := serve(router, http.MethodPost, "/v1/workloads", greetWorkload, nil)
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusMultiStatus, w.Code, w.Body)
	}

	var resp job.SubmitResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Failed != 1 || resp.Tasks[1].Error == "" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestRouter_SubmitWorkload_PoolFailure(t *testing.T) {
	t.Parallel()
	router, backend := newTestRouter(t, "")
	backend.FailPools(errors.New("service unavailable"))

	w := serve(router, http.MethodPost, "/v1/workloads", greetWorkload, nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status %d, got %d: %s", http.StatusBadGateway, w.Code, w.Body)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if resp.Code != "pool_resolution" || resp.Error == "" {
		t.Errorf("Unexpected error body: %+v", resp)
	}
}

func TestRouter_ExpandWorkload(t *testing.T) {
	t.Parallel()
	router, backend := newTestRouter(t, "")

	w := serve(router, http.MethodPost, "/v1/workloads/expand", greetWorkload, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body)
	}

	var resp job.ExpandResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Tasks) != 2 || resp.Tasks[1].CommandLine != "echo pradeep" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if backend.PoolCount() != 0 {
		t.Error("Expand must not create pools")
	}
}

func TestRouter_TasksAndDelete(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t, "")

	if w := serve(router, http.MethodPost, "/v1/workloads", greetWorkload, nil); w.Code != http.StatusAccepted {
		t.Fatalf("Submit: expected status %d, got %d", http.StatusAccepted, w.Code)
	}

	w := serve(router, http.MethodGet, "/v1/jobs/greetings/tasks", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body)
	}
	var tasks job.TasksResponse
	json.NewDecoder(w.Body).Decode(&tasks)
	if len(tasks.Tasks) != 2 {
		t.Errorf("Expected 2 tasks, got %d", len(tasks.Tasks))
	}

	if w := serve(router, http.MethodDelete, "/v1/jobs/greetings", "", nil); w.Code != http.StatusNoContent {
		t.Errorf("Delete: expected status %d, got %d", http.StatusNoContent, w.Code)
	}
	if w := serve(router, http.MethodGet, "/v1/jobs/greetings/tasks", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("Tasks after delete: expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if w := serve(router, http.MethodDelete, "/v1/jobs/bad!name", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Delete invalid: expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestRouter_Auth(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t, "secret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			header := map[string]string{}
			if tt.header != "" {
				header["Authorization"] = tt.header
			}
			w := serve(router, http.MethodPost, "/v1/workloads/expand", greetWorkload, header)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}

	// Probes stay open
	if w := serve(router, http.MethodGet, "/livez", "", nil); w.Code != http.StatusOK {
		t.Errorf("livez: expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestHandler_DecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "invalid json", http.StatusBadRequest},
		{"empty body", "", http.StatusBadRequest},
		{"unknown field", `{"workload": {"units": []}, "colour": "red"}`, http.StatusBadRequest},
		{"too large", `{"workload": {"units": [{"steps": ["` + strings.Repeat("x", 2048) + `"]}]}}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := NewHandler(nil, nil, 1024)

			req := httptest.NewRequest(http.MethodPost, "/v1/workloads", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			handler.SubmitWorkload(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
			var resp map[string]string
			json.NewDecoder(w.Body).Decode(&resp)
			if resp["error"] == "" {
				t.Error("Expected error message in response")
			}
		})
	}
}

func TestHandler_EmptyJobID(t *testing.T) {
	t.Parallel()
	handler := &Handler{}

	for _, tt := range []struct {
		method string
		serve  http.HandlerFunc
	}{
		{http.MethodGet, handler.ListTasks},
		{http.MethodDelete, handler.DeleteJob},
	} {
		req := httptest.NewRequest(tt.method, "/v1/jobs/", nil)
		w := httptest.NewRecorder()

		tt.serve(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status %d, got %d", tt.method, http.StatusBadRequest, w.Code)
		}
	}
}

func TestMiddleware_Logging(t *testing.T) {
	t.Parallel()
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	handler := LoggingMiddleware()(inner)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Error("Inner handler was not called")
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	t.Parallel()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware()(inner)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestMiddleware_ContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		method      string
		contentType string
		wantCalled  bool
	}{
		{"wrong type", http.MethodPost, "text/plain", false},
		{"json", http.MethodPost, "application/json", true},
		{"json with charset", http.MethodPost, "application/json; charset=utf-8", true},
		{"absent", http.MethodPost, "", true},
		{"GET ignores type", http.MethodGet, "text/plain", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			called := false
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			})

			req := httptest.NewRequest(tt.method, "/test", bytes.NewBufferString("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()

			ContentTypeMiddleware()(inner).ServeHTTP(w, req)

			if called != tt.wantCalled {
				t.Errorf("called = %v, want %v", called, tt.wantCalled)
			}
			if !tt.wantCalled && w.Code != http.StatusUnsupportedMediaType {
				t.Errorf("Expected status %d, got %d", http.StatusUnsupportedMediaType, w.Code)
			}
		})
	}
}

func TestMiddleware_CORS(t *testing.T) {
	t.Parallel()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := CORSMiddleware()(inner)

	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status %d, got %d", http.StatusNoContent, w.Code)
	}

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError)

	if rw.statusCode != http.StatusAccepted {
		t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusAccepted)
	}
	if rw.Unwrap() != rec {
		t.Error("Unwrap() should return the wrapped writer")
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	t.Parallel()
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	})
	handler := RequestIDMiddleware()(inner)

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"propagated", xid.New().String(), true},
		{"malformed replaced", "not-an-id", false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		if tt.incoming != "" {
			req.Header.Set(RequestIDHeader, tt.incoming)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		got := w.Header().Get(RequestIDHeader)
		if got == "" || got != seen {
			t.Errorf("%s: header %q, context %q", tt.name, got, seen)
		}
		if (got == tt.incoming) != tt.keep {
			t.Errorf("%s: id %q, incoming %q, keep %v", tt.name, got, tt.incoming, tt.keep)
		}
	}
}

func TestRouteLabel(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/jobs/{jobId}/tasks", func(http.ResponseWriter, *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/render-42/tasks", nil)
	mux.ServeHTTP(httptest.NewRecorder(), req)
	if got := routeLabel(req); got != "/v1/jobs/{jobId}/tasks" {
		t.Errorf("routeLabel() = %q, want the route pattern", got)
	}

	miss := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	mux.ServeHTTP(httptest.NewRecorder(), miss)
	if got := routeLabel(miss); got != "unmatched" {
		t.Errorf("routeLabel() = %q, want unmatched", got)
	}
}

func TestRouter_UnauthorizedIsJSON(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t, "secret")

	w := serve(router, http.MethodGet, "/v1/jobs/render/tasks", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("Expected WWW-Authenticate header")
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body["error"] == "" {
		t.Errorf("Expected JSON error body, got %q (%v)", w.Body.String(), err)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected request id on rejected requests")
	}
}

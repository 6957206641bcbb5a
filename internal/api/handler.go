// Package api provides the HTTP API handlers and routing for the workload service.
package api

import (
	"batchkit/internal/apperrors"
	"batchkit/internal/health"
	"batchkit/internal/job"
	"batchkit/internal/manifest"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// defaultMaxRequestBodySize limits manifests to 1MB to prevent memory exhaustion
const defaultMaxRequestBodySize = 1 << 20 // 1 MB

// Handler contains HTTP handlers for the workload API
type Handler struct {
	svc         *job.Service
	health      *health.Checker
	maxBodySize int64
}

// NewHandler creates a new API handler. maxBodySize <= 0 selects the
// default of 1MB.
func NewHandler(svc *job.Service, healthChecker *health.Checker, maxBodySize int64) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		svc:         svc,
		health:      healthChecker,
		maxBodySize: maxBodySize,
	}
}

// SubmitWorkload handles POST /v1/workloads.
// Responds 202 when every task was accepted and 207 when some were rejected.
func (h *Handler) SubmitWorkload(w http.ResponseWriter, r *http.Request) {
	m, ok := h.decodeManifest(w, r)
	if !ok {
		return
	}

	resp, err := h.svc.Submit(r.Context(), m)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if resp.Status == job.StatusPartial {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

// ExpandWorkload handles POST /v1/workloads/expand
func (h *Handler) ExpandWorkload(w http.ResponseWriter, r *http.Request) {
	m, ok := h.decodeManifest(w, r)
	if !ok {
		return
	}

	resp, err := h.svc.Expand(r.Context(), m)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListTasks handles GET /v1/jobs/{jobId}/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	resp, err := h.svc.Tasks(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteJob handles DELETE /v1/jobs/{jobId}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if err := h.svc.Delete(r.Context(), jobID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the backend or storage is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, response)
}

// decodeManifest reads a JSON manifest from the request body. Unknown
// fields are rejected. On failure the error response is already written.
func (h *Handler) decodeManifest(w http.ResponseWriter, r *http.Request) (*manifest.Manifest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return nil, false
	}

	m, err := manifest.Decode(data, manifest.FormatJSON, "request")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid manifest: "+err.Error())
		return nil, false
	}
	return m, true
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// handleError maps a service error to its HTTP status.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	logger := slog.With("path", r.URL.Path, "request_id", RequestID(r.Context()))
	if status >= 500 {
		logger.Error("Request failed", "error", err, "status", status)
	} else {
		logger.Warn("Request rejected", "error", err, "status", status)
	}
	writeJSON(w, status, ErrorResponse{
		Error: err.Error(),
		Code:  apperrors.Code(err),
		Field: apperrors.Field(err),
	})
}

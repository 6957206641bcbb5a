package apperrors

import (
	"errors"
	"net/http"
)

// class ties a sentinel to its HTTP status and machine-readable code.
type class struct {
	sentinel error
	status   int
	code     string
}

// Checked in order; the first sentinel the error matches wins.
var classes = []class{
	{ErrValidation, http.StatusBadRequest, "validation"},
	{ErrMalformedTemplate, http.StatusBadRequest, "malformed_template"},
	{ErrUnboundParameter, http.StatusBadRequest, "unbound_parameter"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrConflict, http.StatusConflict, "conflict"},
	{ErrPoolResolution, http.StatusBadGateway, "pool_resolution"},
	{ErrUpload, http.StatusBadGateway, "upload"},
	{ErrJobResolution, http.StatusBadGateway, "job_resolution"},
	{ErrTaskSubmission, http.StatusBadGateway, "task_submission"},
}

func classify(err error) (class, bool) {
	if err != nil {
		for _, c := range classes {
			if errors.Is(err, c.sentinel) {
				return c, true
			}
		}
	}
	return class{}, false
}

// HTTPStatus maps an error to the status a handler should respond with.
// Unclassified errors are internal.
func HTTPStatus(err error) int {
	if c, ok := classify(err); ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// Code returns a stable identifier for the error's class, "internal" when
// it has none.
func Code(err error) string {
	if c, ok := classify(err); ok {
		return c.code
	}
	return "internal"
}

// Field returns the offending field of a structured error, if any.
func Field(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

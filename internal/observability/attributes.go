// Package observability exposes the service's OpenTelemetry instruments
// through a Prometheus scrape endpoint.
package observability

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

// Workload outcomes
const (
	OutcomeSubmitted = "submitted"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
	OutcomePreview   = "preview"
)

var (
	keyMethod  = attribute.Key("method")
	keyRoute   = attribute.Key("route")
	keyStatus  = attribute.Key("status")
	keyPool    = attribute.Key("pool")
	keyOutcome = attribute.Key("outcome")
	keySuccess = attribute.Key("success")
)

// statusClass folds a status code into "2xx", "4xx" and so on.
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

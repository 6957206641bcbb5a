package job

import (
	"batchkit/internal/orchestrator"
	"batchkit/pkg/cloudevent"
	"slices"
)

// Event types for submission callbacks
const (
	EventTypeSubmitted  = "batch.workload.submitted"
	EventTypeTaskFailed = "batch.task.failed"
)

// FilteredEvents returns true if the event type should be sent based on the filter.
// If the filter is empty, all events are allowed.
func FilteredEvents(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// EventBuilder builds CloudEvents about one job.
type EventBuilder struct {
	source  string
	subject string
	meta    map[string]string
}

// NewEventBuilder creates a new EventBuilder.
func NewEventBuilder(job, source string, meta map[string]string) *EventBuilder {
	return &EventBuilder{
		source:  source,
		subject: job,
		meta:    meta,
	}
}

// Build creates a new CloudEvent with the given type and data.
func (b *EventBuilder) Build(eventType string, data map[string]any) *cloudevent.CloudEvent {
	return cloudevent.New(eventType, b.source, b.subject, data)
}

// BuildSubmittedEvent summarises a submission.
func (b *EventBuilder) BuildSubmittedEvent(sub *orchestrator.Submission) *cloudevent.CloudEvent {
	tasks := make([]string, len(sub.Tasks))
	for i, t := range sub.Tasks {
		tasks[i] = t.Task.Name
	}
	data := map[string]any{
		"job":         b.subject,
		"pool":        string(sub.Pool.Name),
		"poolCreated": sub.Pool.Created,
		"jobCreated":  sub.Job.Created,
		"submitted":   len(sub.Tasks),
		"failed":      len(sub.Failures),
		"tasks":       tasks,
		"meta":        b.meta,
	}
	return b.Build(EventTypeSubmitted, data)
}

// BuildTaskFailedEvent reports a task that could not be submitted.
func (b *EventBuilder) BuildTaskFailedEvent(f orchestrator.TaskFailure) *cloudevent.CloudEvent {
	data := map[string]any{
		"job":       b.subject,
		"task":      f.Task.Name,
		"index":     f.Index,
		"arguments": f.Task.Arguments,
		"error":     f.Err.Error(),
		"meta":      b.meta,
	}
	return b.Build(EventTypeTaskFailed, data)
}

package job

import "batchkit/internal/batch"

// Submission states reported in SubmitResponse.Status.
const (
	StatusSubmitted = "submitted" // every task was accepted
	StatusPartial   = "partial"   // some tasks were rejected
)

// SubmitResponse reports the outcome of a workload submission.
type SubmitResponse struct {
	Pool      string       `json:"pool"`
	Job       string       `json:"job"`
	Status    string       `json:"status"`
	Submitted int          `json:"submitted"`
	Failed    int          `json:"failed"`
	Tasks     []TaskResult `json:"tasks"`
}

// TaskResult is one expanded task and what became of it. ID is set for
// submitted tasks and Error for rejected ones.
type TaskResult struct {
	Index     int               `json:"index"`
	Name      string            `json:"name"`
	ID        string            `json:"id,omitempty"`
	Arguments map[string]string `json:"arguments,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// ExpandResponse previews the tasks a workload expands to.
type ExpandResponse struct {
	Pool  string        `json:"pool"`
	Job   string        `json:"job"`
	Tasks []TaskPreview `json:"tasks"`
}

// TaskPreview is a rendered task that has not been submitted.
type TaskPreview struct {
	Index       int               `json:"index"`
	Name        string            `json:"name"`
	Arguments   map[string]string `json:"arguments,omitempty"`
	CommandLine string            `json:"commandLine"`
	Files       []string          `json:"files,omitempty"`
	Strict      bool              `json:"strict"`
}

// TasksResponse lists the tasks of a job.
type TasksResponse struct {
	Job   string             `json:"job"`
	Tasks []batch.TaskStatus `json:"tasks"`
}

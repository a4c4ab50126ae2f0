package executor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the executor does not know a run.
	ErrNotFound = errors.New("executor run not found")

	// ErrNoRunID is returned when a create-run response carries no run id.
	ErrNoRunID = errors.New("executor returned no run_id")
)

// StatusError describes a non-2xx executor response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("executor %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// RunStatus is the executor's view of a run.
type RunStatus struct {
	RunID    string   `json:"run_id"`
	JobID    string   `json:"job_id,omitempty"`
	RunState string   `json:"run_state"`
	Metadata Metadata `json:"metadata"`
	Result   *Result  `json:"result"`
}

type Metadata struct {
	QueuedTime        *time.Time `json:"queued_time"`
	StartTime         *time.Time `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
	EstimatedDuration *int64     `json:"estimated_duration"`
	Logs              []LogEntry `json:"logs"`
}

type LogEntry struct {
	Timestamp time.Time `json:"log_timestamp"`
	Message   string    `json:"log_message"`
}

// Result describes the artifact of a finished run. Every field may be null.
type Result struct {
	Type     *string `json:"type"`
	Location *string `json:"location"`
	Size     *string `json:"size"`
}

// Complete reports whether type, location and size are all present.
func (r *Result) Complete() bool {
	return r != nil && r.Type != nil && r.Location != nil && r.Size != nil
}

type createRunResponse struct {
	RunID string `json:"run_id"`
}

// Package output provides JSONL output for runorch commands.
//
// Every line is a typed record envelope holding a run, a per-pipeline
// trigger outcome, a per-run reconcile result, an error or a tick summary.
// Each line is a self-contained JSON object that can be parsed on its own.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
)

// Record type constants follow the pattern runorch.<type>.v<version>.
const (
	TypeRun       = "runorch.run.v1"
	TypeTrigger   = "runorch.trigger.v1"
	TypeReconcile = "runorch.reconcile.v1"
	TypeError     = "runorch.error.v1"
	TypeSummary   = "runorch.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the payload in Data.
	Type string `json:"type"`

	// TS is when the record was created.
	TS time.Time `json:"ts"`

	// InvocationID correlates every record of one command invocation.
	InvocationID string `json:"invocation_id"`

	Data json.RawMessage `json:"data"`
}

// RunRecord is a run with its logs and output, when known.
type RunRecord struct {
	runstore.Run
	Logs   []runstore.LogEntry `json:"logs,omitempty"`
	Output *runstore.Output    `json:"output,omitempty"`
}

// TriggerRecord is the outcome of evaluating one pipeline.
type TriggerRecord struct {
	PipelineID string `json:"pipeline_id"`
	Decision   string `json:"decision"`
	RunID      string `json:"run_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReconcileRecord is the outcome of reconciling one run.
type ReconcileRecord struct {
	RunID         string `json:"run_id"`
	PreviousState string `json:"previous_state"`
	State         string `json:"state"`
	LogsAdded     int    `json:"logs_added"`
	OutputSaved   bool   `json:"output_saved"`
	TimedOut      bool   `json:"timed_out"`
	PollError     string `json:"poll_error,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ErrorRecord reports a failure that did not stop the command.
type ErrorRecord struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	PipelineID string `json:"pipeline_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	Details    any    `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeDispatch   = "DISPATCH_FAILED"
	ErrCodeExecutor   = "EXECUTOR_ERROR"
	ErrCodeStore      = "STORE_ERROR"
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeInternal   = "INTERNAL"
)

// SummaryRecord closes a tick or listing.
type SummaryRecord struct {
	// Operation names what ran, e.g. "trigger_tick".
	Operation string `json:"operation"`

	Evaluated  int `json:"evaluated,omitempty"`
	Dispatched int `json:"dispatched,omitempty"`
	Replayed   int `json:"replayed,omitempty"`
	Polled     int `json:"polled,omitempty"`
	Changed    int `json:"changed,omitempty"`
	TimedOut   int `json:"timed_out,omitempty"`
	Failed     int `json:"failed"`
	Count      int `json:"count,omitempty"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

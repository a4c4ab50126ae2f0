package runstore

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a run (or one of its children) does not exist.
var ErrNotFound = errors.New("run not found")

// State is the lifecycle state of a pipeline run.
type State string

const (
	StateRequested  State = "REQUESTED"
	StateQueued     State = "QUEUED"
	StateEstimating State = "ESTIMATING"
	StateInProgress State = "IN_PROGRESS"
	StateSuccessful State = "SUCCESSFUL"
	StateFailed     State = "FAILED"
)

var stateOrder = map[State]int{
	StateRequested:  1,
	StateQueued:     2,
	StateEstimating: 3,
	StateInProgress: 4,
	StateSuccessful: 5,
	StateFailed:     5,
}

// InFlightStates lists the states reconciliation polls.
var InFlightStates = []State{StateRequested, StateQueued, StateEstimating, StateInProgress}

// ParseState validates a state string reported by an executor or a caller.
func ParseState(s string) (State, bool) {
	st := State(s)
	_, ok := stateOrder[st]
	return st, ok
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSuccessful || s == StateFailed
}

// InFlight reports whether the run is still awaiting a terminal state.
func (s State) InFlight() bool {
	order, ok := stateOrder[s]
	return ok && order < stateOrder[StateSuccessful]
}

// CanTransition reports whether a run may move from one state to another.
// Transitions are forward-only and terminal states are immutable.
func CanTransition(from, to State) bool {
	fromOrder, ok := stateOrder[from]
	if !ok {
		return false
	}
	toOrder, ok := stateOrder[to]
	if !ok {
		return false
	}
	if from.Terminal() {
		return false
	}
	return toOrder > fromOrder
}

// Actor records who created a run.
type Actor struct {
	UserID *string `json:"user_id"`
	Name   string  `json:"name"`
}

// ScheduledActor is the actor stamped on runs created by the trigger loop.
func ScheduledActor() Actor {
	return Actor{UserID: nil, Name: "scheduled_task"}
}

// UserActor builds an actor for a manually requested run.
func UserActor(userID string, name string) Actor {
	id := userID
	return Actor{UserID: &id, Name: name}
}

// Run is the local record of one execution of a pipeline.
type Run struct {
	RunID                   string     `json:"run_id"`
	JobID                   string     `json:"job_id"`
	PipelineID              string     `json:"pipeline_id"`
	RunParametersCompressed string     `json:"run_parameters_compressed"`
	RunParametersHash       string     `json:"run_parameters_hash"`
	State                   State      `json:"state"`
	QueuedTime              *time.Time `json:"queued_time"`
	StartTime               *time.Time `json:"start_time"`
	EndTime                 *time.Time `json:"end_time"`
	EstimatedDuration       *int64     `json:"estimated_duration"`
	ModifiedBy              Actor      `json:"modified_by"`
}

// StatusUpdate carries executor-reported changes for a run.
// Nil fields leave the stored value untouched.
type StatusUpdate struct {
	State             State
	StartTime         *time.Time
	EndTime           *time.Time
	EstimatedDuration *int64
}

// ListFilter narrows ListRunsByPipeline.
type ListFilter struct {
	State State
	Take  int
}

// LogEntry is one executor log line attached to a run.
type LogEntry struct {
	LogID     string    `json:"log_id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"log_timestamp"`
	Message   string    `json:"log_message"`
}

// ResultType classifies a run output.
type ResultType string

const (
	ResultJSON   ResultType = "JSON"
	ResultCSV    ResultType = "CSV"
	ResultXML    ResultType = "XML"
	ResultBinary ResultType = "BINARY"
	ResultError  ResultType = "ERROR"
)

// ParseResultType validates an executor-reported result type.
func ParseResultType(s string) (ResultType, bool) {
	switch rt := ResultType(s); rt {
	case ResultJSON, ResultCSV, ResultXML, ResultBinary, ResultError:
		return rt, true
	}
	return "", false
}

// Output describes the artifact produced by a successful run.
type Output struct {
	OutputID string     `json:"output_id"`
	RunID    string     `json:"run_id"`
	Type     ResultType `json:"type"`
	Location string     `json:"location"`
	Size     string     `json:"size"`
}

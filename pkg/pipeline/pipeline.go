// Package pipeline defines the pipeline catalog model consumed by the run
// orchestrator.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a pipeline does not exist in the catalog.
	ErrNotFound = errors.New("pipeline not found")

	// ErrLinkedServiceNotFound is returned when a linked service does not exist.
	ErrLinkedServiceNotFound = errors.New("linked service not found")
)

// State is the lifecycle state of a pipeline definition.
type State string

const (
	StateEnabled  State = "ENABLED"
	StateDisabled State = "DISABLED"
	StateDeleted  State = "DELETED"
	StateError    State = "ERROR"
)

// PrivacyLevel is forwarded verbatim to the executor.
type PrivacyLevel string

const (
	PrivacyPublic  PrivacyLevel = "PUBLIC"
	PrivacyPrivate PrivacyLevel = "PRIVATE"
)

// Pipeline is a schedulable or manually runnable job definition.
type Pipeline struct {
	PipelineID      string          `json:"pipeline_id"`
	Name            string          `json:"name"`
	Cron            string          `json:"cron,omitempty"`
	State           State           `json:"state"`
	JobID           string          `json:"job_id"`
	PrivacyLevel    PrivacyLevel    `json:"privacy_level"`
	LinkedServiceID string          `json:"linked_service_id,omitempty"`
	Parameters      json.RawMessage `json:"parameters"`
}

// HasCron reports whether the pipeline carries a schedule. Pipelines without
// one are manual-only.
func (p Pipeline) HasCron() bool {
	return strings.TrimSpace(p.Cron) != ""
}

// Schedulable reports whether the trigger loop should consider the pipeline.
func (p Pipeline) Schedulable() bool {
	return p.State == StateEnabled && p.HasCron()
}

// LinkedService is a connection definition referenced by synchronize pipelines.
type LinkedService struct {
	LinkedServiceID string          `json:"linked_service_id"`
	Type            string          `json:"type"`
	Config          json.RawMessage `json:"config"`
}

// Catalog is the read side of the pipeline store plus lifecycle updates.
type Catalog interface {
	// ListSchedulable returns ENABLED pipelines that carry a cron expression.
	ListSchedulable(ctx context.Context) ([]Pipeline, error)
	ListByState(ctx context.Context, state State) ([]Pipeline, error)
	GetPipeline(ctx context.Context, pipelineID string) (*Pipeline, error)
	GetLinkedService(ctx context.Context, linkedServiceID string) (*LinkedService, error)
	SetPipelineState(ctx context.Context, pipelineID string, state State) error
}

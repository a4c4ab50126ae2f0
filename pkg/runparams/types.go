// Package runparams turns a pipeline's stored parameter document into the
// payload sent to the job executor, together with the compressed form and
// dedupe hash recorded on the run.
package runparams

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownJobType is returned when a pipeline's job id matches no configured job type.
var ErrUnknownJobType = errors.New("unknown job type")

// Kind names a parameter-builder variant.
type Kind string

const (
	KindSynchronize Kind = "synchronize"
	KindTransform   Kind = "transform"
)

// JobTypes maps executor job-type ids to builder variants.
type JobTypes struct {
	SynchronizeID string
	TransformID   string
}

// KindOf selects the builder variant for a job id.
func (j JobTypes) KindOf(jobID string) (Kind, error) {
	id := strings.TrimSpace(jobID)
	switch {
	case id == "":
		return "", fmt.Errorf("empty job id: %w", ErrUnknownJobType)
	case j.SynchronizeID != "" && id == j.SynchronizeID:
		return KindSynchronize, nil
	case j.TransformID != "" && id == j.TransformID:
		return KindTransform, nil
	}
	return "", fmt.Errorf("job id %s: %w", id, ErrUnknownJobType)
}

// Document is a validated, job-type specific parameter document.
type Document interface {
	Kind() Kind
}

// SynchronizeDocument copies tables or views from a linked source.
type SynchronizeDocument struct {
	Objects []SynchronizeObject `json:"objects"`
}

func (SynchronizeDocument) Kind() Kind { return KindSynchronize }

type SynchronizeObject struct {
	Type                  string   `json:"type"`
	OriginSchemaName      string   `json:"origin_schema_name"`
	OriginObjectName      string   `json:"origin_object_name"`
	DestinationSchemaName string   `json:"destination_schema_name"`
	DestinationObjectName string   `json:"destination_object_name"`
	Columns               []string `json:"columns,omitempty"`
}

// TransformDocument materializes ready-made queries.
type TransformDocument struct {
	Objects []TransformObject `json:"objects"`
}

func (TransformDocument) Kind() Kind { return KindTransform }

type TransformObject struct {
	Type                  string `json:"type"`
	DestinationSchemaName string `json:"destination_schema_name"`
	DestinationObjectName string `json:"destination_object_name"`
	Query                 string `json:"query"`
}

// Payload is the body of an executor create-run request.
type Payload struct {
	Name       string     `json:"name"`
	PipelineID string     `json:"pipeline_id"`
	Cron       *string    `json:"cron"`
	Parameters Parameters `json:"parameters"`
}

// Parameters holds the job-type specific part of a payload. Objects is a
// []SynchronizeJobObject or a []TransformObject.
type Parameters struct {
	QueuedTime           string `json:"queued_time,omitempty"`
	PrivacyLevel         string `json:"privacy_level"`
	ConnectionSecretName string `json:"oracle_connectionstring_kv_name,omitempty"`
	Objects              any    `json:"objects"`
}

// SynchronizeJobObject is a synchronize object with its generated projection query.
type SynchronizeJobObject struct {
	SynchronizeObject
	Query string `json:"query"`
}

// Built is the outcome of a successful build.
type Built struct {
	Kind       Kind
	Payload    Payload
	Compressed string
	Hash       string
}

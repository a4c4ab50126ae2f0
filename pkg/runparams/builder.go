package runparams

import (
	"context"
	"fmt"
	"time"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/pipeline"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/secrets"
)

// QueuedTimeLayout is the wire format of parameters.queued_time.
const QueuedTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// SecretResolver turns a linked service reference into a secret handle.
type SecretResolver interface {
	Resolve(ctx context.Context, linkedServiceID string) (secrets.Handle, error)
}

// Builder selects a variant by job id and builds executor payloads.
type Builder struct {
	jobTypes JobTypes
	secrets  SecretResolver
	now      func() time.Time
}

func NewBuilder(jobTypes JobTypes, resolver SecretResolver) *Builder {
	return &Builder{jobTypes: jobTypes, secrets: resolver, now: time.Now}
}

// WithClock overrides the clock used to stamp queued_time.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

// JobTypes returns the configured job-type mapping.
func (b *Builder) JobTypes() JobTypes {
	return b.jobTypes
}

// Build validates the pipeline's parameter document and produces the payload,
// its compressed form and its hash. queued_time is stamped with the clock.
func (b *Builder) Build(ctx context.Context, p pipeline.Pipeline) (*Built, error) {
	kind, err := b.jobTypes.KindOf(p.JobID)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(kind, p.Parameters)
	if err != nil {
		return nil, err
	}

	payload := Payload{
		Name:       p.Name,
		PipelineID: p.PipelineID,
		Parameters: Parameters{
			QueuedTime:   b.now().UTC().Format(QueuedTimeLayout),
			PrivacyLevel: string(p.PrivacyLevel),
		},
	}
	if p.HasCron() {
		cron := p.Cron
		payload.Cron = &cron
	}

	switch d := doc.(type) {
	case SynchronizeDocument:
		if b.secrets == nil {
			return nil, fmt.Errorf("pipeline %s: no secret resolver configured", p.PipelineID)
		}
		handle, err := b.secrets.Resolve(ctx, p.LinkedServiceID)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", p.PipelineID, err)
		}
		payload.Parameters.ConnectionSecretName = handle.Name
		payload.Parameters.Objects = synchronizeJobObjects(d.Objects)
	case TransformDocument:
		objects := d.Objects
		if objects == nil {
			objects = []TransformObject{}
		}
		payload.Parameters.Objects = objects
	default:
		return nil, fmt.Errorf("kind %s: %w", doc.Kind(), ErrUnknownJobType)
	}

	compressed, err := Compress(payload)
	if err != nil {
		return nil, err
	}
	hash, err := Hash(payload)
	if err != nil {
		return nil, err
	}

	return &Built{Kind: kind, Payload: payload, Compressed: compressed, Hash: hash}, nil
}

func synchronizeJobObjects(objects []SynchronizeObject) []SynchronizeJobObject {
	out := make([]SynchronizeJobObject, 0, len(objects))
	for _, o := range objects {
		out = append(out, SynchronizeJobObject{
			SynchronizeObject: o,
			Query:             ProjectionQuery(o.OriginSchemaName, o.OriginObjectName, o.Columns),
		})
	}
	return out
}

// Package dispatch creates runs: it forwards a built payload to the executor
// and records the executor-assigned run locally.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/journal"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/pipeline"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runparams"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
)

var (
	// ErrDispatchFailed is returned when the executor did not accept the run.
	// No local record exists in that case.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrDuplicate is returned when an in-flight run with the same job type
	// and parameter hash already exists.
	ErrDuplicate = errors.New("identical run already in flight")
)

// RunCreator is the create side of the executor.
type RunCreator interface {
	CreateRun(ctx context.Context, jobTypeID string, payload any) (string, error)
}

// RunRecorder persists new runs.
type RunRecorder interface {
	InsertRun(ctx context.Context, run runstore.Run) error
	FindRunByHash(ctx context.Context, jobID string, hash string, states ...runstore.State) (*runstore.Run, error)
}

// Journal keeps runs that reached the executor but could not be recorded.
type Journal interface {
	Write(entry *journal.Entry) error
}

// Dispatcher performs the side-effecting creation of runs.
type Dispatcher struct {
	executor RunCreator
	runs     RunRecorder
	journal  Journal
	dedupe   bool
	now      func() time.Time
	logger   *zap.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithJournal records runs whose local insert failed.
func WithJournal(j Journal) Option {
	return func(d *Dispatcher) { d.journal = j }
}

// WithDedupe skips dispatch when an identical run is in flight.
func WithDedupe(enabled bool) Option {
	return func(d *Dispatcher) { d.dedupe = enabled }
}

// WithClock overrides the clock used for queued_time.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func New(executor RunCreator, runs RunRecorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		executor: executor,
		runs:     runs,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends built to the executor on behalf of p and records the
// resulting run in state REQUESTED.
func (d *Dispatcher) Dispatch(ctx context.Context, p pipeline.Pipeline, built *runparams.Built, actor runstore.Actor) (*runstore.Run, error) {
	if built == nil {
		return nil, fmt.Errorf("pipeline %s: no built parameters", p.PipelineID)
	}

	if d.dedupe {
		existing, err := d.runs.FindRunByHash(ctx, p.JobID, built.Hash, runstore.InFlightStates...)
		switch {
		case err == nil:
			return existing, fmt.Errorf("pipeline %s: run %s: %w", p.PipelineID, existing.RunID, ErrDuplicate)
		case !errors.Is(err, runstore.ErrNotFound):
			return nil, fmt.Errorf("dedupe lookup: %w", err)
		}
	}

	runID, err := d.executor.CreateRun(ctx, p.JobID, built.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: pipeline %s: %w", ErrDispatchFailed, p.PipelineID, err)
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("%w: pipeline %s: executor returned no run id", ErrDispatchFailed, p.PipelineID)
	}

	queued := d.now().UTC()
	run := runstore.Run{
		RunID:                   runID,
		JobID:                   p.JobID,
		PipelineID:              p.PipelineID,
		RunParametersCompressed: built.Compressed,
		RunParametersHash:       built.Hash,
		State:                   runstore.StateRequested,
		QueuedTime:              &queued,
		ModifiedBy:              actor,
	}

	insertErr := d.runs.InsertRun(ctx, run)
	if insertErr == nil {
		d.logger.Info("Run dispatched",
			zap.String("pipeline_id", p.PipelineID),
			zap.String("job_type_id", p.JobID),
			zap.String("run_id", runID),
			zap.String("modified_by", actor.Name))
		return &run, nil
	}

	if d.journal == nil {
		return nil, fmt.Errorf("record run %s: %w", runID, insertErr)
	}
	entry := &journal.Entry{Run: run, RecordedAt: queued, LastError: insertErr.Error()}
	if err := d.journal.Write(entry); err != nil {
		return nil, fmt.Errorf("record run %s: %w (journal: %v)", runID, insertErr, err)
	}
	d.logger.Warn("Run dispatched but not recorded; journaled for replay",
		zap.String("pipeline_id", p.PipelineID),
		zap.String("run_id", runID),
		zap.Error(insertErr))
	return &run, nil
}

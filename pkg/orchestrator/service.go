// Package orchestrator ties the catalog, builder, dispatcher and reconciler
// together: it serves run queries and manual triggers, and drives the
// periodic trigger and reconciliation ticks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/pipeline"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/reconcile"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runparams"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/trigger"
)

const instrumentationName = "github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/orchestrator"

var (
	// ErrPipelineNotFound is returned when a manual run names an unknown or
	// deleted pipeline.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidFilter is returned for a state filter that names no state.
	ErrInvalidFilter = errors.New("invalid state filter")
)

// RunReader is the read side of the run repository.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*runstore.Run, error)
	ListRunsByPipeline(ctx context.Context, pipelineID string, filter runstore.ListFilter) ([]runstore.Run, error)
	ListOngoingRuns(ctx context.Context) ([]runstore.Run, error)
	ListLogs(ctx context.Context, runID string) ([]runstore.LogEntry, error)
	GetOutput(ctx context.Context, runID string) (*runstore.Output, error)
}

// RunStore is the query side of the run repository used by the ticks.
type RunStore interface {
	RunReader
	LatestRunForPipeline(ctx context.Context, pipelineID string) (*runstore.Run, error)
}

// ParamBuilder turns a pipeline into an executor payload.
type ParamBuilder interface {
	Build(ctx context.Context, p pipeline.Pipeline) (*runparams.Built, error)
}

// Dispatcher creates runs.
type Dispatcher interface {
	Dispatch(ctx context.Context, p pipeline.Pipeline, built *runparams.Built, actor runstore.Actor) (*runstore.Run, error)
}

// Evaluator decides whether a pipeline is due.
type Evaluator interface {
	Evaluate(p pipeline.Pipeline, latest *runstore.Run, now time.Time) (trigger.Decision, error)
}

// Reconciler reconciles single runs.
type Reconciler interface {
	ReplayJournal(ctx context.Context) (int, error)
	JournaledRuns() ([]runstore.Run, error)
	OngoingRuns(ctx context.Context) ([]runstore.Run, error)
	ReconcileRun(ctx context.Context, run runstore.Run) reconcile.Result
}

// Deps are the collaborators of a Service.
type Deps struct {
	Catalog    pipeline.Catalog
	Runs       RunStore
	Builder    ParamBuilder
	Dispatcher Dispatcher
	Evaluator  Evaluator
	Reconciler Reconciler
}

// Service is the run orchestration entry point.
type Service struct {
	catalog    pipeline.Catalog
	runs       RunStore
	builder    ParamBuilder
	dispatcher Dispatcher
	evaluator  Evaluator
	reconciler Reconciler

	cfg    Config
	now    func() time.Time
	logger *zap.Logger
	tracer trace.Tracer
}

// Option customizes a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracerProvider enables tick spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// New builds a Service. Every dependency is required.
func New(deps Deps, cfg Config, opts ...Option) (*Service, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("orchestrator: catalog is required")
	case deps.Runs == nil:
		return nil, errors.New("orchestrator: run store is required")
	case deps.Builder == nil:
		return nil, errors.New("orchestrator: parameter builder is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("orchestrator: dispatcher is required")
	case deps.Evaluator == nil:
		return nil, errors.New("orchestrator: trigger evaluator is required")
	case deps.Reconciler == nil:
		return nil, errors.New("orchestrator: reconciler is required")
	}

	s := &Service{
		catalog:    deps.Catalog,
		runs:       deps.Runs,
		builder:    deps.Builder,
		dispatcher: deps.Dispatcher,
		evaluator:  deps.Evaluator,
		reconciler: deps.Reconciler,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		logger:     zap.NewNop(),
		tracer:     noop.NewTracerProvider().Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunView is a run with its logs and output.
type RunView struct {
	runstore.Run
	Logs   []runstore.LogEntry `json:"logs"`
	Output *runstore.Output    `json:"output"`
}

// CreateManualRun builds and dispatches a run of pipelineID on behalf of actor.
func (s *Service) CreateManualRun(ctx context.Context, pipelineID string, actor runstore.Actor) (*RunView, error) {
	p, err := s.catalog.GetPipeline(ctx, pipelineID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineID)
		}
		return nil, fmt.Errorf("get pipeline %s: %w", pipelineID, err)
	}
	if p.State == pipeline.StateDeleted {
		return nil, fmt.Errorf("%w: %s is deleted", ErrPipelineNotFound, pipelineID)
	}

	built, err := s.builder.Build(ctx, *p)
	if err != nil {
		return nil, err
	}
	run, err := s.dispatcher.Dispatch(ctx, *p, built, actor)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Manual run created",
		zap.String("pipeline_id", p.PipelineID),
		zap.String("run_id", run.RunID),
		zap.String("modified_by", actor.Name))
	return &RunView{Run: *run, Logs: []runstore.LogEntry{}}, nil
}

// GetRun returns a run with its logs and output.
func (s *Service) GetRun(ctx context.Context, runID string) (*RunView, error) {
	return QueryRun(ctx, s.runs, runID)
}

// ListRuns returns a pipeline's runs newest first.
func (s *Service) ListRuns(ctx context.Context, pipelineID string, filter runstore.ListFilter) ([]runstore.Run, error) {
	return QueryRuns(ctx, s.runs, pipelineID, filter)
}

// ListOngoingRuns returns every run in an in-flight state.
func (s *Service) ListOngoingRuns(ctx context.Context) ([]runstore.Run, error) {
	return QueryOngoingRuns(ctx, s.runs)
}

// QueryRun loads a run with its logs and output from runs. It needs no
// executor, so read-only callers can use it without a Service.
func QueryRun(ctx context.Context, runs RunReader, runID string) (*RunView, error) {
	run, err := runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	logs, err := runs.ListLogs(ctx, run.RunID)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []runstore.LogEntry{}
	}

	v := &RunView{Run: *run, Logs: logs}
	out, err := runs.GetOutput(ctx, run.RunID)
	switch {
	case err == nil:
		v.Output = out
	case !errors.Is(err, runstore.ErrNotFound):
		return nil, err
	}
	return v, nil
}

// QueryRuns lists a pipeline's runs newest first. The result is never nil.
func QueryRuns(ctx context.Context, runs RunReader, pipelineID string, filter runstore.ListFilter) ([]runstore.Run, error) {
	if filter.State != "" {
		if _, ok := runstore.ParseState(string(filter.State)); !ok {
			return nil, fmt.Errorf("%w %q", ErrInvalidFilter, filter.State)
		}
	}
	out, err := runs.ListRunsByPipeline(ctx, pipelineID, filter)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []runstore.Run{}
	}
	return out, nil
}

// QueryOngoingRuns lists every in-flight run. The result is never nil.
func QueryOngoingRuns(ctx context.Context, runs RunReader) ([]runstore.Run, error) {
	out, err := runs.ListOngoingRuns(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []runstore.Run{}
	}
	return out, nil
}

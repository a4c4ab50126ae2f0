package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/dispatch"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/pipeline"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/reconcile"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/trigger"
)

// TriggerOutcome is the result of evaluating one pipeline.
type TriggerOutcome struct {
	PipelineID string         `json:"pipeline_id"`
	Decision   trigger.Reason `json:"decision"`
	RunID      string         `json:"run_id,omitempty"`
	Err        error          `json:"-"`
	Error      string         `json:"error,omitempty"`
}

// TriggerReport summarizes a trigger tick.
type TriggerReport struct {
	Replayed   int              `json:"replayed"`
	Evaluated  int              `json:"evaluated"`
	Dispatched int              `json:"dispatched"`
	Failed     int              `json:"failed"`
	Outcomes   []TriggerOutcome `json:"outcomes"`
}

// ReconcileReport summarizes a reconciliation tick.
type ReconcileReport struct {
	Replayed  int                `json:"replayed"`
	Polled    int                `json:"polled"`
	Changed   int                `json:"changed"`
	TimedOut  int                `json:"timed_out"`
	Failed    int                `json:"failed"`
	Results   []reconcile.Result `json:"-"`
	ReplayErr error              `json:"-"`
}

// TriggerTick evaluates every schedulable pipeline and dispatches the due
// ones. It returns once every pipeline has been handled. Per-pipeline
// failures are reported in the outcomes, not as the returned error.
//
// Journaled runs are replayed first. A pipeline whose run is still only in
// the journal counts as in flight.
func (s *Service) TriggerTick(ctx context.Context) (*TriggerReport, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.trigger_tick")
	defer span.End()

	replayed, err := s.reconciler.ReplayJournal(ctx)
	if err != nil {
		s.logger.Warn("Journal replay incomplete", zap.Error(err))
	}
	pending, err := s.journaledPipelines()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	pipelines, err := s.catalog.ListSchedulable(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list schedulable pipelines: %w", err)
	}

	now := s.now()
	outcomes := make([]TriggerOutcome, len(pipelines))
	s.forEach(len(pipelines), func(i int) {
		if runID, ok := pending[pipelines[i].PipelineID]; ok {
			outcomes[i] = TriggerOutcome{PipelineID: pipelines[i].PipelineID, Decision: trigger.ReasonInFlight}
			s.logger.Info("Previous run awaiting local record",
				zap.String("pipeline_id", pipelines[i].PipelineID),
				zap.String("run_id", runID))
			return
		}
		outcomes[i] = s.triggerPipeline(ctx, pipelines[i], now)
	}, func(i int, recovered any) {
		outcomes[i] = TriggerOutcome{PipelineID: pipelines[i].PipelineID, Err: fmt.Errorf("panic: %v", recovered)}
	})

	report := &TriggerReport{Replayed: replayed, Evaluated: len(pipelines), Outcomes: outcomes}
	for i := range outcomes {
		o := &outcomes[i]
		switch {
		case o.Err != nil:
			o.Error = o.Err.Error()
			report.Failed++
			s.logger.Warn("Pipeline trigger failed",
				zap.String("pipeline_id", o.PipelineID),
				zap.Error(o.Err))
		case o.RunID != "":
			report.Dispatched++
		}
	}

	span.SetAttributes(
		attribute.Int("pipelines.evaluated", report.Evaluated),
		attribute.Int("runs.dispatched", report.Dispatched),
		attribute.Int("pipelines.failed", report.Failed),
	)
	return report, nil
}

// journaledPipelines maps pipeline ids to the run still waiting in the
// journal.
func (s *Service) journaledPipelines() (map[string]string, error) {
	runs, err := s.reconciler.JournaledRuns()
	if err != nil {
		return nil, err
	}
	pending := make(map[string]string, len(runs))
	for _, r := range runs {
		pending[r.PipelineID] = r.RunID
	}
	return pending, nil
}

func (s *Service) triggerPipeline(ctx context.Context, p pipeline.Pipeline, now time.Time) TriggerOutcome {
	out := TriggerOutcome{PipelineID: p.PipelineID}

	latest, err := s.runs.LatestRunForPipeline(ctx, p.PipelineID)
	if err != nil {
		if !errors.Is(err, runstore.ErrNotFound) {
			out.Err = fmt.Errorf("latest run: %w", err)
			return out
		}
		latest = nil
	}

	decision, err := s.evaluator.Evaluate(p, latest, now)
	if err != nil {
		out.Err = err
		return out
	}
	out.Decision = decision.Reason
	if !decision.Due {
		return out
	}

	built, err := s.builder.Build(ctx, p)
	if err != nil {
		out.Err = fmt.Errorf("build parameters: %w", err)
		return out
	}

	run, err := s.dispatcher.Dispatch(ctx, p, built, runstore.ScheduledActor())
	if err != nil {
		if errors.Is(err, dispatch.ErrDuplicate) {
			s.logger.Info("Identical run already in flight",
				zap.String("pipeline_id", p.PipelineID))
			return out
		}
		out.Err = err
		return out
	}
	out.RunID = run.RunID
	return out
}

// ReconcileTick replays the orphan journal and reconciles every in-flight
// run. It returns once every run has been handled.
func (s *Service) ReconcileTick(ctx context.Context) (*ReconcileReport, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.reconcile_tick")
	defer span.End()

	report := &ReconcileReport{}
	replayed, err := s.reconciler.ReplayJournal(ctx)
	report.Replayed = replayed
	if err != nil {
		report.ReplayErr = err
		s.logger.Warn("Journal replay incomplete", zap.Error(err))
	}

	runs, err := s.reconciler.OngoingRuns(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	results := make([]reconcile.Result, len(runs))
	s.forEach(len(runs), func(i int) {
		results[i] = s.reconciler.ReconcileRun(ctx, runs[i])
	}, func(i int, recovered any) {
		results[i] = reconcile.Result{
			RunID:         runs[i].RunID,
			PreviousState: runs[i].State,
			State:         runs[i].State,
			Err:           fmt.Errorf("panic: %v", recovered),
		}
	})

	report.Polled = len(runs)
	report.Results = results
	for _, r := range results {
		if r.State != r.PreviousState {
			report.Changed++
		}
		if r.TimedOut {
			report.TimedOut++
		}
		if r.Failed() {
			report.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("runs.polled", report.Polled),
		attribute.Int("runs.changed", report.Changed),
		attribute.Int("runs.timed_out", report.TimedOut),
		attribute.Int("runs.failed", report.Failed),
	)
	return report, nil
}

// DisableEnabledPipelines sets every ENABLED pipeline to DISABLED and
// returns how many were changed.
func (s *Service) DisableEnabledPipelines(ctx context.Context) (int, error) {
	pipelines, err := s.catalog.ListByState(ctx, pipeline.StateEnabled)
	if err != nil {
		return 0, fmt.Errorf("list enabled pipelines: %w", err)
	}

	disabled := 0
	var errs []error
	for _, p := range pipelines {
		if err := s.catalog.SetPipelineState(ctx, p.PipelineID, pipeline.StateDisabled); err != nil {
			errs = append(errs, fmt.Errorf("disable %s: %w", p.PipelineID, err))
			continue
		}
		disabled++
	}
	return disabled, errors.Join(errs...)
}

// forEach runs fn for indexes [0, n) on a bounded pool and waits for all of
// them. A panicking item is reported through onPanic.
func (s *Service) forEach(n int, fn func(i int), onPanic func(i int, recovered any)) {
	p := pool.New().WithMaxGoroutines(s.cfg.Workers)
	for i := 0; i < n; i++ {
		p.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					onPanic(i, r)
				}
			}()
			fn(i)
		})
	}
	p.Wait()
}

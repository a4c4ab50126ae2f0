// Package reconcile brings local run state in line with the executor and
// enforces the run timeout budget.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/executor"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/journal"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/outputsize"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
)

// DefaultTimeout is the wall-clock budget measured from queued_time.
const DefaultTimeout = 72000 * time.Second

// ErrMissingQueuedTime is reported for runs without a queued_time.
var ErrMissingQueuedTime = errors.New("run has no queued_time")

// StatusSource is the read side of the executor.
type StatusSource interface {
	GetRunStatus(ctx context.Context, jobTypeID string, runID string) (*executor.RunStatus, error)
}

// Store is the run repository surface the reconciler mutates.
type Store interface {
	ListOngoingRuns(ctx context.Context) ([]runstore.Run, error)
	InsertRun(ctx context.Context, run runstore.Run) error
	GetRun(ctx context.Context, runID string) (*runstore.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, from runstore.State, upd runstore.StatusUpdate) (bool, error)
	FailRun(ctx context.Context, runID string, endTime time.Time) (bool, error)
	AppendLog(ctx context.Context, runID string, ts time.Time, message string) (bool, error)
	SaveOutput(ctx context.Context, out runstore.Output) (bool, error)
}

// SizeResolver fills in output sizes the executor left out.
type SizeResolver interface {
	ResolveSize(ctx context.Context, location string) (string, error)
}

// JournalSource lists and clears runs awaiting a local record.
type JournalSource interface {
	List() ([]journal.Entry, error)
	Write(entry *journal.Entry) error
	Remove(runID string) error
}

// Result summarizes one run's reconciliation.
type Result struct {
	RunID         string
	PreviousState runstore.State
	State         runstore.State
	LogsAdded     int
	OutputSaved   bool
	TimedOut      bool

	// PollErr is the executor or state-mapping failure, if any. The
	// timeout check still ran.
	PollErr error

	// Err is the first store failure or the missing queued_time error.
	Err error
}

// Failed reports whether anything went wrong for the run.
func (r Result) Failed() bool {
	return r.PollErr != nil || r.Err != nil
}

// Reconciler polls the executor for in-flight runs.
type Reconciler struct {
	executor StatusSource
	store    Store
	sizes    SizeResolver
	journal  JournalSource
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithTimeout sets the timeout budget. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithSizeResolver resolves sizes of successful outputs reported without one.
func WithSizeResolver(s SizeResolver) Option {
	return func(r *Reconciler) { r.sizes = s }
}

// WithJournal replays journaled runs before each pass.
func WithJournal(j JournalSource) Option {
	return func(r *Reconciler) { r.journal = j }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(exec StatusSource, store Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		executor: exec,
		store:    store,
		timeout:  DefaultTimeout,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Timeout() time.Duration {
	return r.timeout
}

// OngoingRuns returns the runs a pass must visit.
func (r *Reconciler) OngoingRuns(ctx context.Context) ([]runstore.Run, error) {
	runs, err := r.store.ListOngoingRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ongoing runs: %w", err)
	}
	return runs, nil
}

// ReplayJournal inserts journaled runs into the store. Entries whose run is
// already recorded are dropped. It returns the number of runs recorded.
func (r *Reconciler) ReplayJournal(ctx context.Context) (int, error) {
	if r.journal == nil {
		return 0, nil
	}
	entries, err := r.journal.List()
	if err != nil {
		return 0, fmt.Errorf("list journal: %w", err)
	}

	replayed := 0
	var errs []error
	for i := range entries {
		entry := entries[i]
		runID := entry.Run.RunID

		if _, err := r.store.GetRun(ctx, runID); err == nil {
			if err := r.journal.Remove(runID); err != nil {
				errs = append(errs, err)
			}
			continue
		} else if !errors.Is(err, runstore.ErrNotFound) {
			errs = append(errs, fmt.Errorf("lookup run %s: %w", runID, err))
			continue
		}

		if err := r.store.InsertRun(ctx, entry.Run); err != nil {
			entry.Attempts++
			entry.LastError = err.Error()
			if werr := r.journal.Write(&entry); werr != nil {
				errs = append(errs, werr)
			}
			errs = append(errs, fmt.Errorf("replay run %s: %w", runID, err))
			continue
		}
		if err := r.journal.Remove(runID); err != nil {
			errs = append(errs, err)
		}
		replayed++
		r.logger.Info("Journaled run recorded",
			zap.String("run_id", runID),
			zap.String("pipeline_id", entry.Run.PipelineID))
	}
	return replayed, errors.Join(errs...)
}

// JournaledRuns returns the runs still waiting in the journal for a local
// record.
func (r *Reconciler) JournaledRuns() ([]runstore.Run, error) {
	if r.journal == nil {
		return nil, nil
	}
	entries, err := r.journal.List()
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	runs := make([]runstore.Run, 0, len(entries))
	for _, e := range entries {
		runs = append(runs, e.Run)
	}
	return runs, nil
}

// ReconcileRun applies the executor's view of run and enforces the timeout.
// Failures are captured in the Result rather than returned.
func (r *Reconciler) ReconcileRun(ctx context.Context, run runstore.Run) Result {
	res := Result{RunID: run.RunID, PreviousState: run.State, State: run.State}
	log := r.logger.With(
		zap.String("run_id", run.RunID),
		zap.String("pipeline_id", run.PipelineID),
		zap.String("job_type_id", run.JobID))

	status, err := r.executor.GetRunStatus(ctx, run.JobID, run.RunID)
	if err != nil {
		res.PollErr = fmt.Errorf("poll run %s: %w", run.RunID, err)
		log.Warn("Executor poll failed", zap.Error(err))
	} else {
		r.apply(ctx, run, status, &res, log)
	}

	r.enforceTimeout(ctx, run, &res, log)
	return res
}

func (r *Reconciler) apply(ctx context.Context, run runstore.Run, status *executor.RunStatus, res *Result, log *zap.Logger) {
	for _, entry := range status.Metadata.Logs {
		added, err := r.store.AppendLog(ctx, run.RunID, entry.Timestamp, entry.Message)
		if err != nil {
			res.setErr(err)
			log.Warn("Log ingest failed", zap.Error(err))
			continue
		}
		if added {
			res.LogsAdded++
		}
	}

	reported, ok := runstore.ParseState(strings.TrimSpace(status.RunState))
	if !ok {
		res.PollErr = fmt.Errorf("run %s: unknown executor state %q", run.RunID, status.RunState)
		log.Warn("Unknown executor state", zap.String("run_state", status.RunState))
		return
	}
	if reported == run.State || !runstore.CanTransition(run.State, reported) {
		if reported != run.State {
			log.Debug("Ignoring backward executor state",
				zap.String("state", string(run.State)),
				zap.String("run_state", string(reported)))
		}
		return
	}

	// A transient size lookup failure leaves the run ongoing for the next pass.
	var out *runstore.Output
	if reported == runstore.StateSuccessful {
		var err error
		out, err = r.resolveOutput(ctx, run.RunID, status.Result)
		if err != nil {
			res.PollErr = err
			log.Warn("Output size unresolved, holding SUCCESSFUL until next pass", zap.Error(err))
			return
		}
	}

	upd := runstore.StatusUpdate{
		State:             reported,
		StartTime:         status.Metadata.StartTime,
		EndTime:           status.Metadata.EndTime,
		EstimatedDuration: status.Metadata.EstimatedDuration,
	}
	if reported.Terminal() && upd.EndTime == nil && run.EndTime == nil {
		end := r.now().UTC()
		upd.EndTime = &end
	}

	changed, err := r.store.UpdateRunStatus(ctx, run.RunID, run.State, upd)
	if err != nil {
		res.setErr(err)
		log.Warn("State update failed", zap.Error(err))
		return
	}
	if !changed {
		return
	}
	res.State = reported
	log.Info("Run state changed",
		zap.String("from", string(run.State)),
		zap.String("to", string(reported)))

	if out != nil {
		saved, err := r.store.SaveOutput(ctx, *out)
		if err != nil {
			res.setErr(err)
			log.Warn("Output save failed", zap.Error(err))
			return
		}
		res.OutputSaved = saved
	}
}

// resolveOutput builds the output row for a successful run. It returns nil
// when the executor reported no usable result or the object cannot be sized,
// and an error only when the size lookup failed transiently.
func (r *Reconciler) resolveOutput(ctx context.Context, runID string, result *executor.Result) (*runstore.Output, error) {
	if result == nil || result.Type == nil || result.Location == nil {
		return nil, nil
	}
	rt, ok := runstore.ParseResultType(*result.Type)
	if !ok {
		r.logger.Warn("Unknown result type", zap.String("run_id", runID), zap.String("type", *result.Type))
		return nil, nil
	}

	var size string
	switch {
	case result.Size != nil:
		size = *result.Size
	case r.sizes != nil:
		resolved, err := r.sizes.ResolveSize(ctx, *result.Location)
		if errors.Is(err, outputsize.ErrNotFound) || errors.Is(err, outputsize.ErrUnsupportedLocation) {
			r.logger.Warn("Output size unavailable", zap.String("run_id", runID), zap.Error(err))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("run %s: resolve size of %s: %w", runID, *result.Location, err)
		}
		size = resolved
	default:
		return nil, nil
	}

	return &runstore.Output{
		RunID:    runID,
		Type:     rt,
		Location: *result.Location,
		Size:     size,
	}, nil
}

func (r *Reconciler) enforceTimeout(ctx context.Context, run runstore.Run, res *Result, log *zap.Logger) {
	if res.State.Terminal() {
		return
	}
	if run.QueuedTime == nil {
		res.setErr(fmt.Errorf("run %s: %w", run.RunID, ErrMissingQueuedTime))
		log.Error("Run has no queued_time")
		return
	}

	now := r.now().UTC()
	if now.Sub(*run.QueuedTime) <= r.timeout {
		return
	}

	failed, err := r.store.FailRun(ctx, run.RunID, now)
	if err != nil {
		res.setErr(err)
		log.Error("Timeout fail failed", zap.Error(err))
		return
	}
	if !failed {
		return
	}
	res.State = runstore.StateFailed
	res.TimedOut = true

	msg := fmt.Sprintf("timeout reached: run not finished within %s of queued_time", r.timeout)
	if _, err := r.store.AppendLog(ctx, run.RunID, now, msg); err != nil {
		res.setErr(err)
	}
	log.Error("Run timed out", zap.Duration("timeout", r.timeout))
}

func (r *Result) setErr(err error) {
	if r.Err == nil {
		r.Err = err
	}
}

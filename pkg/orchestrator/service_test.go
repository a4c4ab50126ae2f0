package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/catalog"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/dispatch"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/executor"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/pipeline"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/reconcile"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runparams"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/trigger"
)

const transformParams = `{"objects":[{"type":"table","destination_schema_name":"mart","destination_object_name":"daily","query":"SELECT 1"}]}`

// fakeExecutor hands out sequential run ids and serves canned statuses.
type fakeExecutor struct {
	mu       sync.Mutex
	next     int
	created  []string
	statuses map[string]*executor.RunStatus
}

func (f *fakeExecutor) CreateRun(_ context.Context, _ string, _ any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("RUN-%d", f.next)
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeExecutor) GetRunStatus(_ context.Context, _ string, runID string) (*executor.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[runID]
	if !ok {
		return nil, executor.ErrNotFound
	}
	return st, nil
}

func (f *fakeExecutor) setStatus(runID string, st *executor.RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = map[string]*executor.RunStatus{}
	}
	f.statuses[runID] = st
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	svc     *Service
	store   *runstore.Store
	catalog *catalog.SQLCatalog
	exec    *fakeExecutor
	clock   *clock
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := runstore.Open(ctx, runstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	clk := &clock{now: start}
	exec := &fakeExecutor{}
	cat := catalog.NewSQLCatalog(store.DB(), store.Dialect())
	jobTypes := runparams.JobTypes{SynchronizeID: "job-sync", TransformID: "job-transform"}

	svc, err := New(Deps{
		Catalog:    cat,
		Runs:       store,
		Builder:    runparams.NewBuilder(jobTypes, nil).WithClock(clk.Now),
		Dispatcher: dispatch.New(exec, store, dispatch.WithClock(clk.Now)),
		Evaluator:  trigger.NewEvaluator(trigger.DefaultWindow),
		Reconciler: reconcile.New(exec, store, reconcile.WithClock(clk.Now), reconcile.WithTimeout(20*time.Hour)),
	}, Config{Workers: 2}, WithClock(clk.Now))
	require.NoError(t, err)

	return &harness{svc: svc, store: store, catalog: cat, exec: exec, clock: clk}
}

func (h *harness) addPipeline(t *testing.T, id string, cron string, state pipeline.State) {
	t.Helper()
	require.NoError(t, h.catalog.UpsertPipeline(context.Background(), pipeline.Pipeline{
		PipelineID:   id,
		Name:         id,
		Cron:         cron,
		State:        state,
		JobID:        "job-transform",
		PrivacyLevel: pipeline.PrivacyPublic,
		Parameters:   json.RawMessage(transformParams),
	}))
}

func TestTriggerTickDispatchesDuePipelineOnce(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 15, 30, 0, time.UTC)
	h := newHarness(t, start)
	h.addPipeline(t, "p-every-minute", "* * * * *", pipeline.StateEnabled)
	h.addPipeline(t, "p-manual", "", pipeline.StateEnabled)
	ctx := context.Background()

	report, err := h.svc.TriggerTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated, "pipelines without cron are never evaluated")
	assert.Equal(t, 1, report.Dispatched)
	assert.Zero(t, report.Failed)

	runs, err := h.svc.ListRuns(ctx, "p-every-minute", runstore.ListFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runstore.StateRequested, runs[0].State)
	require.NotNil(t, runs[0].QueuedTime)
	assert.WithinDuration(t, start, *runs[0].QueuedTime, time.Millisecond)
	assert.Equal(t, "scheduled_task", runs[0].ModifiedBy.Name)

	// The first run is still in flight, so later ticks skip the pipeline.
	h.clock.Set(start.Add(5 * time.Minute))
	report, err = h.svc.TriggerTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Dispatched)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, trigger.ReasonInFlight, report.Outcomes[0].Decision)
	assert.Len(t, h.exec.created, 1)
}

func TestReconcileTickThenRetrigger(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 15, 30, 0, time.UTC)
	h := newHarness(t, start)
	h.addPipeline(t, "p-1", "* * * * *", pipeline.StateEnabled)
	ctx := context.Background()

	_, err := h.svc.TriggerTick(ctx)
	require.NoError(t, err)
	require.Len(t, h.exec.created, 1)
	runID := h.exec.created[0]

	ended := start.Add(30 * time.Second)
	h.exec.setStatus(runID, &executor.RunStatus{
		RunID:    runID,
		RunState: "SUCCESSFUL",
		Metadata: executor.Metadata{
			EndTime: &ended,
			Logs:    []executor.LogEntry{{Timestamp: ended, Message: "done"}},
		},
		Result: &executor.Result{Type: ptr("CSV"), Location: ptr("x"), Size: ptr("10")},
	})

	h.clock.Set(start.Add(time.Minute))
	report, err := h.svc.ReconcileTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Polled)
	assert.Equal(t, 1, report.Changed)
	assert.Zero(t, report.Failed)

	view, err := h.svc.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runstore.StateSuccessful, view.State)
	require.Len(t, view.Logs, 1)
	require.NotNil(t, view.Output)
	assert.Equal(t, "10", view.Output.Size)

	ongoing, err := h.svc.ListOngoingRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, ongoing)

	// A cron occurrence after end_time makes the pipeline due again.
	h.clock.Set(start.Add(2 * time.Minute))
	trig, err := h.svc.TriggerTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, trig.Dispatched)
	assert.Len(t, h.exec.created, 2)
}

func TestReconcileTickTimesOutDarkRuns(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 15, 30, 0, time.UTC)
	h := newHarness(t, start)
	h.addPipeline(t, "p-1", "* * * * *", pipeline.StateEnabled)
	ctx := context.Background()

	_, err := h.svc.TriggerTick(ctx)
	require.NoError(t, err)

	h.clock.Set(start.Add(21 * time.Hour))
	report, err := h.svc.ReconcileTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TimedOut)
	assert.Equal(t, 1, report.Failed, "executor does not know the run")

	view, err := h.svc.GetRun(ctx, h.exec.created[0])
	require.NoError(t, err)
	assert.Equal(t, runstore.StateFailed, view.State)
	require.NotNil(t, view.EndTime)
	require.Len(t, view.Logs, 1)
	assert.Contains(t, view.Logs[0].Message, "timeout reached")
	assert.Nil(t, view.Output)
}

func TestCreateManualRun(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	h.addPipeline(t, "p-manual", "", pipeline.StateDisabled)
	h.addPipeline(t, "p-gone", "", pipeline.StateDeleted)
	ctx := context.Background()

	view, err := h.svc.CreateManualRun(ctx, "p-manual", runstore.UserActor("u-7", "Grace"))
	require.NoError(t, err)
	assert.Equal(t, runstore.StateRequested, view.State)
	require.NotNil(t, view.ModifiedBy.UserID)
	assert.Equal(t, "u-7", *view.ModifiedBy.UserID)
	assert.NotNil(t, view.Logs)

	_, err = h.svc.CreateManualRun(ctx, "p-missing", runstore.UserActor("u-7", "Grace"))
	require.ErrorIs(t, err, ErrPipelineNotFound)

	_, err = h.svc.CreateManualRun(ctx, "p-gone", runstore.UserActor("u-7", "Grace"))
	require.ErrorIs(t, err, ErrPipelineNotFound)
}

func TestGetRunNotFound(t *testing.T) {
	h := newHarness(t, time.Now())
	_, err := h.svc.GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsRejectsUnknownState(t *testing.T) {
	h := newHarness(t, time.Now())
	_, err := h.svc.ListRuns(context.Background(), "p-1", runstore.ListFilter{State: "RUNNING"})
	require.ErrorIs(t, err, ErrInvalidFilter)

	runs, err := h.svc.ListRuns(context.Background(), "p-1", runstore.ListFilter{State: runstore.StateFailed})
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestDisableEnabledPipelines(t *testing.T) {
	h := newHarness(t, time.Now())
	h.addPipeline(t, "p-a", "* * * * *", pipeline.StateEnabled)
	h.addPipeline(t, "p-b", "", pipeline.StateEnabled)
	h.addPipeline(t, "p-c", "", pipeline.StateError)
	ctx := context.Background()

	n, err := h.svc.DisableEnabledPipelines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	enabled, err := h.catalog.ListByState(ctx, pipeline.StateEnabled)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	p, err := h.catalog.GetPipeline(ctx, "p-c")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateError, p.State)
}

type panickyEvaluator struct {
	inner *trigger.Evaluator
}

func (e panickyEvaluator) Evaluate(p pipeline.Pipeline, latest *runstore.Run, now time.Time) (trigger.Decision, error) {
	if p.PipelineID == "p-bad" {
		panic("corrupt pipeline")
	}
	return e.inner.Evaluate(p, latest, now)
}

func TestTriggerTickIsolatesPanics(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 15, 30, 0, time.UTC)
	h := newHarness(t, start)
	h.svc.evaluator = panickyEvaluator{inner: trigger.NewEvaluator(trigger.DefaultWindow)}
	h.addPipeline(t, "p-bad", "* * * * *", pipeline.StateEnabled)
	h.addPipeline(t, "p-good", "* * * * *", pipeline.StateEnabled)

	report, err := h.svc.TriggerTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 1, report.Failed)

	for _, o := range report.Outcomes {
		if o.PipelineID == "p-bad" {
			assert.Contains(t, o.Error, "corrupt pipeline")
		}
	}
}

func TestTriggerTickReportsInvalidParameters(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 15, 30, 0, time.UTC)
	h := newHarness(t, start)
	require.NoError(t, h.catalog.UpsertPipeline(context.Background(), pipeline.Pipeline{
		PipelineID: "p-invalid", Name: "bad", Cron: "* * * * *", State: pipeline.StateEnabled,
		JobID: "job-transform", PrivacyLevel: pipeline.PrivacyPublic,
		Parameters: json.RawMessage(`{"objects":[{"type":"synonym"}]}`),
	}))

	report, err := h.svc.TriggerTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, h.exec.created)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{})
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.svc.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunRejectsBadNightlySchedule(t *testing.T) {
	h := newHarness(t, time.Now())
	h.svc.cfg.DisableNightly = true
	h.svc.cfg.NightlySchedule = "not a cron"

	err := h.svc.Run(context.Background())
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Minute, cfg.TriggerInterval)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, DefaultNightlySchedule, cfg.NightlySchedule)
}

func ptr[T any](v T) *T {
	return &v
}

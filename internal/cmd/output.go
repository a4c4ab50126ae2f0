package cmd

import (
	"context"
	"io"

	"github.com/google/uuid"

	apperrors "github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/errors"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/orchestrator"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/output"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/reconcile"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
)

func newWriter(w io.Writer) *output.JSONLWriter {
	return output.NewJSONLWriter(w, uuid.NewString())
}

func runRecord(v *orchestrator.RunView) *output.RunRecord {
	return &output.RunRecord{Run: v.Run, Logs: v.Logs, Output: v.Output}
}

func writeRuns(ctx context.Context, w output.Writer, runs []runstore.Run) error {
	for i := range runs {
		if err := w.WriteRun(ctx, &output.RunRecord{Run: runs[i]}); err != nil {
			return err
		}
	}
	return nil
}

func triggerRecord(o orchestrator.TriggerOutcome) *output.TriggerRecord {
	return &output.TriggerRecord{
		PipelineID: o.PipelineID,
		Decision:   string(o.Decision),
		RunID:      o.RunID,
		Error:      o.Error,
	}
}

func reconcileRecord(r reconcile.Result) *output.ReconcileRecord {
	rec := &output.ReconcileRecord{
		RunID:         r.RunID,
		PreviousState: string(r.PreviousState),
		State:         string(r.State),
		LogsAdded:     r.LogsAdded,
		OutputSaved:   r.OutputSaved,
		TimedOut:      r.TimedOut,
	}
	if r.PollErr != nil {
		rec.PollError = r.PollErr.Error()
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// errorRecord classifies err the same way the HTTP API does.
func errorRecord(err error) *output.ErrorRecord {
	e := apperrors.Classify(err)
	rec := &output.ErrorRecord{Code: e.Code, Message: err.Error()}
	if len(e.Details) > 0 {
		rec.Details = e.Details
	}
	return rec
}

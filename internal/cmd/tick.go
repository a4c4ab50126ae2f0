package cmd

import (
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/observability"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/output"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single orchestrator tick",
	Long: `Run one trigger or reconcile tick and exit. Useful from cron or
Kubernetes jobs, and for debugging a single pass.

Each per-pipeline or per-run result is printed as a JSONL record followed
by a summary record.`,
}

var tickTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Dispatch every due scheduled pipeline once",
	Args:  cobra.NoArgs,
	RunE:  runTickTrigger,
}

var tickReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Poll the executor once for every in-flight run",
	Args:  cobra.NoArgs,
	RunE:  runTickReconcile,
}

func init() {
	rootCmd.AddCommand(tickCmd)
	tickCmd.AddCommand(tickTriggerCmd)
	tickCmd.AddCommand(tickReconcileCmd)
}

func runTickTrigger(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, observability.CLILogger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	start := time.Now()
	report, err := a.service.TriggerTick(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Trigger tick failed", err)
	}

	w := newWriter(cmd.OutOrStdout())
	defer func() { _ = w.Close() }()
	for _, o := range report.Outcomes {
		if err := w.WriteTrigger(ctx, triggerRecord(o)); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	if err := w.WriteSummary(ctx, &output.SummaryRecord{
		Operation:  "trigger_tick",
		Replayed:   report.Replayed,
		Evaluated:  report.Evaluated,
		Dispatched: report.Dispatched,
		Failed:     report.Failed,
		Duration:   time.Since(start),
	}); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}

	observability.CLILogger.Info("Trigger tick completed",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("failed", report.Failed))
	return nil
}

func runTickReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, observability.CLILogger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	start := time.Now()
	report, err := a.service.ReconcileTick(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Reconcile tick failed", err)
	}

	w := newWriter(cmd.OutOrStdout())
	defer func() { _ = w.Close() }()
	if report.ReplayErr != nil {
		if err := w.WriteError(ctx, &output.ErrorRecord{
			Code:    output.ErrCodeStore,
			Message: "journal replay: " + report.ReplayErr.Error(),
		}); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	for _, r := range report.Results {
		if err := w.WriteReconcile(ctx, reconcileRecord(r)); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	if err := w.WriteSummary(ctx, &output.SummaryRecord{
		Operation: "reconcile_tick",
		Replayed:  report.Replayed,
		Polled:    report.Polled,
		Changed:   report.Changed,
		TimedOut:  report.TimedOut,
		Failed:    report.Failed,
		Duration:  time.Since(start),
	}); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}

	observability.CLILogger.Info("Reconcile tick completed",
		zap.Int("polled", report.Polled),
		zap.Int("changed", report.Changed),
		zap.Int("timed_out", report.TimedOut),
		zap.Int("failed", report.Failed))
	return nil
}

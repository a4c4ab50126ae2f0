package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/observability"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/orchestrator"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/output"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
)

var (
	runsUserID   string
	runsUserName string
	runsState    string
	runsLimit    int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Create and inspect pipeline runs",
}

var runsTriggerCmd = &cobra.Command{
	Use:   "trigger <pipeline-id>",
	Short: "Start a manual run of a pipeline",
	Long: `Build the run parameters for a pipeline and dispatch a run now,
regardless of its schedule. The run is recorded as modified by the given
user.

Examples:
  runorch runs trigger p-42 --user-id u-7 --user-name "Ada"`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsTrigger,
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show a run with its logs and output",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsGet,
}

var runsListCmd = &cobra.Command{
	Use:   "list <pipeline-id>",
	Short: "List a pipeline's runs, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsList,
}

var runsOngoingCmd = &cobra.Command{
	Use:   "ongoing",
	Short: "List every in-flight run",
	Args:  cobra.NoArgs,
	RunE:  runRunsOngoing,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsTriggerCmd, runsGetCmd, runsListCmd, runsOngoingCmd)

	runsTriggerCmd.Flags().StringVar(&runsUserID, "user-id", "", "Id of the user requesting the run (required)")
	runsTriggerCmd.Flags().StringVar(&runsUserName, "user-name", "", "Display name of the user (defaults to --user-id)")
	_ = runsTriggerCmd.MarkFlagRequired("user-id")

	runsListCmd.Flags().StringVar(&runsState, "state", "", "Only runs in this state (e.g. FAILED)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 0, "Maximum number of runs (0 = all)")
}

func runRunsTrigger(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID := strings.TrimSpace(runsUserID)
	if userID == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --user-id value", errors.New("user id must not be empty"))
	}
	name := strings.TrimSpace(runsUserName)
	if name == "" {
		name = userID
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, observability.CLILogger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	view, err := a.service.CreateManualRun(ctx, args[0], runstore.UserActor(userID, name))
	if err != nil {
		w := newWriter(cmd.OutOrStdout())
		rec := errorRecord(err)
		rec.PipelineID = args[0]
		_ = w.WriteError(ctx, rec)
		if errors.Is(err, orchestrator.ErrPipelineNotFound) {
			return exitError(foundry.ExitInvalidArgument, "Unknown pipeline", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Manual run failed", err)
	}

	observability.CLILogger.Info("Manual run dispatched",
		zap.String("pipeline_id", view.PipelineID),
		zap.String("run_id", view.RunID))
	return writeOne(cmd, view)
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := storeForQuery(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	view, err := orchestrator.QueryRun(ctx, store, args[0])
	if err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			return exitError(foundry.ExitFileNotFound, "Run not found", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read run", err)
	}
	return writeOne(cmd, view)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if runsLimit < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --limit value", fmt.Errorf("limit must be >= 0"))
	}
	store, err := storeForQuery(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	filter := runstore.ListFilter{State: runstore.State(strings.ToUpper(strings.TrimSpace(runsState))), Take: runsLimit}
	runs, err := orchestrator.QueryRuns(ctx, store, args[0], filter)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidFilter) {
			return exitError(foundry.ExitInvalidArgument, "Invalid --state value", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list runs", err)
	}
	return writeList(cmd, "list_runs", runs)
}

func runRunsOngoing(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := storeForQuery(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := orchestrator.QueryOngoingRuns(ctx, store)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list runs", err)
	}
	return writeList(cmd, "list_ongoing_runs", runs)
}

// storeForQuery opens the run store for read-only commands, which need no
// executor configuration.
func storeForQuery(cmd *cobra.Command) (*runstore.Store, error) {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	return openStore(cmd.Context(), cfg)
}

func writeOne(cmd *cobra.Command, view *orchestrator.RunView) error {
	w := newWriter(cmd.OutOrStdout())
	defer func() { _ = w.Close() }()
	if err := w.WriteRun(cmd.Context(), runRecord(view)); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}

func writeList(cmd *cobra.Command, operation string, runs []runstore.Run) error {
	ctx := cmd.Context()
	w := newWriter(cmd.OutOrStdout())
	defer func() { _ = w.Close() }()
	if err := writeRuns(ctx, w, runs); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	if err := w.WriteSummary(ctx, &output.SummaryRecord{Operation: operation, Count: len(runs)}); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}

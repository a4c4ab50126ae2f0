package cmd

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	runconfig "github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/config"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/observability"
)

var doctorOutputs bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the configuration and its dependencies and
suggest fixes for common issues.

Examples:
  runorch doctor              # Config, run store and executor checks
  runorch doctor --outputs    # Also check AWS credentials for output sizing`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorOutputs, "outputs", false, "Check AWS credentials used for output size resolution")
}

func runDoctor(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	bannerName := identity().BinaryName + " doctor"
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")

	cfg, err := loadConfig(ctx)
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitInvalidArgument, "Configuration does not load", err)
		return
	}

	allChecks := true
	checkNum := 1
	totalChecks := 5
	if doctorOutputs || cfg.Outputs.ResolveSize {
		totalChecks = 7
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
		zap.String("go_version", goVersion))
	checkNum++

	// Check 2: Gofulmen access
	version := crucible.GetVersion()
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 3: Run store
	store, err := openStore(ctx, cfg)
	if err == nil {
		err = store.CheckHealth(ctx)
		_ = store.Close()
	}
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking run store... ❌ %s unreachable", checkNum, totalChecks, cfg.Store.Driver),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking run store... ✅ %s", checkNum, totalChecks, cfg.Store.Driver),
			zap.String("driver", cfg.Store.Driver))
	}
	checkNum++

	// Check 4: Executor configuration
	if err := requireExecutor(cfg); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking executor config... ❌ incomplete", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking executor config... ✅ %s", checkNum, totalChecks, cfg.Executor.BaseURL),
			zap.String("auth", executorAuthMode(cfg)))
	}
	checkNum++

	// Check 5: Scheduler
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking scheduler... ✅ timeout %s, %d workers", checkNum, totalChecks, cfg.Scheduler.Timeout(), cfg.Scheduler.Workers),
		zap.Duration("trigger_window", cfg.Scheduler.TriggerWindow),
		zap.Bool("disable_nightly", cfg.Scheduler.DisableNightly),
		zap.Bool("dedupe", cfg.Scheduler.Dedupe))
	checkNum++

	if totalChecks > 5 {
		allChecks = runS3Checks(ctx, checkNum, totalChecks, allChecks)
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

func executorAuthMode(cfg *runconfig.Config) string {
	switch {
	case cfg.Executor.ClientID != "" && cfg.Executor.TokenURL != "":
		return "oauth2_client_credentials"
	case cfg.Executor.Token != "":
		return "static_token"
	default:
		return "none"
	}
}

// runS3Checks checks the credentials used to resolve output sizes.
func runS3Checks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Output storage checks:")

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))
	checkNum++

	region, source := cfg.Region, "config"
	if region == "" {
		region, source = instanceRegion(ctx, cfg), "imds"
	}
	if region == "" {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking AWS region... ⚠️  not set, falling back to us-east-1", checkNum, totalChecks))
		return allChecks
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS region... ✅ %s", checkNum, totalChecks, region),
		zap.String("region", region),
		zap.String("source", source))

	return allChecks
}

// instanceRegion asks the EC2 instance metadata service for the region.
// Off EC2 the lookup fails fast and returns "".
func instanceRegion(ctx context.Context, cfg aws.Config) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := imds.NewFromConfig(cfg).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return ""
	}
	return out.Region
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials for output size resolution:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Set outputs.profile (RUNORCH_OUTPUTS_PROFILE) to a configured profile, or")
	observability.CLILogger.Info("  3. Use an IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage also set outputs.endpoint and outputs.force_path_style.")
	observability.CLILogger.Info("")
}

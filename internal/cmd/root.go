// Package cmd implements the runorch command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/config"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/observability"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile     string
	verbose     bool
	appIdentity *config.AppIdentity
)

var rootCmd = &cobra.Command{
	Use:   "runorch",
	Short: "Pipeline run orchestration and reconciliation",
	Long: `runorch triggers scheduled pipeline runs on an external job executor,
records them locally, and reconciles their state, logs and outputs.

Run "runorch serve" for the long-running service or use the tick and runs
commands for one-off operations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		observability.InitCLILogger(identity().BinaryName, verbose)
		config.SetConfigFile(cfgFile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./config.yaml or the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	setDefaults()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo records build metadata for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity once a command has loaded config.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

func identity() config.AppIdentity {
	if appIdentity != nil {
		return *appIdentity
	}
	return config.DefaultIdentity
}

// setDefaults registers config defaults on the global viper so flag
// help and ad-hoc lookups see the same values as config.Load.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

// ExitWithCode logs err and terminates the process with code.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger != nil {
		logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	}
	os.Exit(code)
}

// codedError carries a process exit code alongside the failure.
type codedError struct {
	code    int
	message string
	err     error
}

func (e *codedError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *codedError) Unwrap() error { return e.err }

func exitError(code int, message string, err error) error {
	return &codedError{code: code, message: message, err: err}
}

// ExitCode returns the exit code carried by err, or 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return 1
}

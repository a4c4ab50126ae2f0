package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/server"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/server/handlers"
)

var serveNoHTTP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trigger and reconcile loops with the HTTP API",
	Long: `Run the orchestrator as a long-lived service.

The trigger loop dispatches due scheduled runs, the reconcile loop polls the
executor for in-flight runs, and the HTTP API serves manual runs and run
queries. SIGINT or SIGTERM stops every loop after the current tick.

Examples:
  runorch serve
  runorch serve --config /etc/runorch/config.yaml
  runorch serve --no-http`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoHTTP, "no-http", false, "Run the loops without the HTTP API")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := serviceLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id := identity()
	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("signals", signalHealthChecker{})
	health.RegisterChecker("identity", identityHealthChecker{
		binaryName: id.BinaryName,
		envPrefix:  id.EnvPrefix,
		configName: id.ConfigName,
	})
	health.RegisterChecker("run_store", a.store)

	logger.Info("Starting orchestrator",
		zap.String("version", versionInfo.Version),
		zap.Duration("trigger_interval", cfg.Scheduler.TriggerInterval),
		zap.Duration("reconcile_interval", cfg.Scheduler.ReconcileInterval),
		zap.Duration("timeout", cfg.Scheduler.Timeout()),
		zap.Int("workers", cfg.Scheduler.Workers),
		zap.Bool("disable_nightly", cfg.Scheduler.DisableNightly))

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return ignoreCancel(a.service.Run(ctx))
	})
	if !serveNoHTTP {
		srv := server.New(cfg.Server.Host, cfg.Server.Port,
			server.WithRunService(a.service),
			server.WithLogger(logger.Named("http")),
			server.WithTimeouts(server.Timeouts{
				Read:     cfg.Server.ReadTimeout,
				Write:    cfg.Server.WriteTimeout,
				Idle:     cfg.Server.IdleTimeout,
				Shutdown: cfg.Server.ShutdownTimeout,
			}))
		p.Go(func(ctx context.Context) error {
			return srv.ListenAndServe(ctx)
		})
	}

	if err := p.Wait(); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Orchestrator stopped", err)
	}
	logger.Info("Orchestrator stopped")
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// signalHealthChecker reports healthy while the process is serving; the
// signal context ends the process on shutdown.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// identityHealthChecker verifies the app identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity: missing env prefix")
	case c.configName == "":
		return errors.New("app identity: missing config name")
	}
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/config"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/observability"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/catalog"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/dispatch"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/executor"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/journal"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/orchestrator"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/outputsize"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/pipeline"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/reconcile"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runparams"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/secrets"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/trigger"
)

// app holds every component built from one configuration.
type app struct {
	cfg     *config.Config
	store   *runstore.Store
	catalog pipeline.Catalog
	service *orchestrator.Service
	logger  *zap.Logger
}

func (a *app) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

// loadConfig loads configuration and records the app identity.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appIdentity = config.Identity()
	return cfg, nil
}

// openStore opens the run store and migrates it when configured to.
func openStore(ctx context.Context, cfg *config.Config) (*runstore.Store, error) {
	storeCfg := runstore.Config{
		Driver:          cfg.Store.Driver,
		Path:            cfg.Store.Path,
		URL:             cfg.Store.URL,
		AuthToken:       cfg.Store.AuthToken,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	}
	if cfg.Store.Driver == "sqlite" && storeCfg.Path == "" && storeCfg.URL == "" {
		dir := dataDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, exitError(foundry.ExitFileWriteError, "Failed to create data directory", err)
		}
		storeCfg.Path = filepath.Join(dir, "runs.db")
	}

	store, err := runstore.Open(ctx, storeCfg)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open run store", err)
	}
	if cfg.Store.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to migrate run store", err)
		}
	}
	return store, nil
}

func dataDir() string {
	return gfconfig.GetAppDataDir(identity().ConfigName)
}

func journalDir(cfg *config.Config) string {
	if dir := strings.TrimSpace(cfg.Journal.Dir); dir != "" {
		return dir
	}
	return filepath.Join(dataDir(), "journal")
}

// buildApp wires the orchestrator from cfg. The executor and job types
// must be configured.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := requireExecutor(cfg); err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Incomplete executor configuration", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store, logger: logger}

	a.catalog, err = buildCatalog(cfg, store)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	exec, err := executor.New(ctx, executor.Config{
		BaseURL:      cfg.Executor.BaseURL,
		Token:        cfg.Executor.Token,
		ClientID:     cfg.Executor.ClientID,
		ClientSecret: cfg.Executor.ClientSecret,
		TokenURL:     cfg.Executor.TokenURL,
		Scopes:       cfg.Executor.Scopes,
		Timeout:      cfg.Executor.RequestTimeout,
		RateLimit:    cfg.Executor.RateLimit,
	}, executor.WithLogger(logger.Named("executor")))
	if err != nil {
		_ = a.Close()
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid executor configuration", err)
	}

	builder := runparams.NewBuilder(runparams.JobTypes{
		SynchronizeID: cfg.JobTypes.Synchronize,
		TransformID:   cfg.JobTypes.Transform,
	}, secrets.NewCatalogResolver(a.catalog))

	dispatchOpts := []dispatch.Option{
		dispatch.WithDedupe(cfg.Scheduler.Dedupe),
		dispatch.WithLogger(logger.Named("dispatch")),
	}
	reconcileOpts := []reconcile.Option{
		reconcile.WithTimeout(cfg.Scheduler.Timeout()),
		reconcile.WithLogger(logger.Named("reconcile")),
	}
	if cfg.Journal.Enabled {
		j := journal.NewStore(journalDir(cfg))
		dispatchOpts = append(dispatchOpts, dispatch.WithJournal(j))
		reconcileOpts = append(reconcileOpts, reconcile.WithJournal(j))
	}
	if cfg.Outputs.ResolveSize {
		sizes, err := outputsize.New(ctx, outputsize.Config{
			Region:         cfg.Outputs.Region,
			Endpoint:       cfg.Outputs.Endpoint,
			Profile:        cfg.Outputs.Profile,
			ForcePathStyle: cfg.Outputs.ForcePathStyle,
		})
		if err != nil {
			_ = a.Close()
			return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to configure output size resolution", err)
		}
		reconcileOpts = append(reconcileOpts, reconcile.WithSizeResolver(sizes))
	}

	a.service, err = orchestrator.New(orchestrator.Deps{
		Catalog:    a.catalog,
		Runs:       store,
		Builder:    builder,
		Dispatcher: dispatch.New(exec, store, dispatchOpts...),
		Evaluator:  trigger.NewEvaluator(cfg.Scheduler.TriggerWindow),
		Reconciler: reconcile.New(exec, store, reconcileOpts...),
	}, orchestrator.Config{
		TriggerInterval:   cfg.Scheduler.TriggerInterval,
		ReconcileInterval: cfg.Scheduler.ReconcileInterval,
		Workers:           cfg.Scheduler.Workers,
		DisableNightly:    cfg.Scheduler.DisableNightly,
		NightlySchedule:   cfg.Scheduler.NightlySchedule,
	},
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithTracerProvider(observability.TracerProvider(cfg.Tracing.Enabled)),
	)
	if err != nil {
		_ = a.Close()
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to build orchestrator", err)
	}
	return a, nil
}

func buildCatalog(cfg *config.Config, store *runstore.Store) (pipeline.Catalog, error) {
	switch cfg.Catalog.Source {
	case "file":
		fc, err := catalog.LoadFileCatalog(cfg.Catalog.Files)
		if err != nil {
			return nil, exitError(foundry.ExitFileReadError, "Failed to load catalog files", err)
		}
		return fc, nil
	default:
		return catalog.NewSQLCatalog(store.DB(), store.Dialect()), nil
	}
}

func requireExecutor(cfg *config.Config) error {
	var errs []error
	if cfg.Executor.BaseURL == "" {
		errs = append(errs, errors.New("executor.base_url is required"))
	}
	if cfg.JobTypes.Synchronize == "" && cfg.JobTypes.Transform == "" {
		errs = append(errs, errors.New("at least one of job_types.synchronize or job_types.transform is required"))
	}
	return errors.Join(errs...)
}

// serviceLogger builds the structured logger for long-running work.
func serviceLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewServiceLogger(identity().BinaryName, cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", fmt.Errorf("logging: %w", err))
	}
	return logger, nil
}

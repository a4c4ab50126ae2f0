package cmd

import (
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/observability"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/catalog"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the run store",
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the run store schema",
	Args:  cobra.NoArgs,
	RunE:  runStoreMigrate,
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage pipeline definitions",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <glob>",
	Short: "Load YAML pipeline definitions into the SQL catalog",
	Long: `Read every YAML file matching a doublestar glob and upsert its
pipelines and linked services into the catalog tables of the run store.

Examples:
  runorch catalog import 'catalog/**/*.yaml'`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogImport,
}

func init() {
	rootCmd.AddCommand(storeCmd, catalogCmd)
	storeCmd.AddCommand(storeMigrateCmd)
	catalogCmd.AddCommand(catalogImportCmd)
}

func runStoreMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	cfg.Store.AutoMigrate = false

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Migration failed", err)
	}
	observability.CLILogger.Info("Run store migrated",
		zap.String("driver", cfg.Store.Driver),
		zap.String("dialect", string(store.Dialect())))
	return nil
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Catalog.Source != "sql" {
		return exitError(foundry.ExitInvalidArgument, "Import needs the sql catalog",
			errors.New("catalog.source is file; definitions are already read from disk"))
	}

	src, err := catalog.LoadFileCatalog(args[0])
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to load catalog files", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	res, err := src.Import(ctx, catalog.NewSQLCatalog(store.DB(), store.Dialect()))
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Catalog import failed", err)
	}
	observability.CLILogger.Info("Catalog imported",
		zap.Int("files", len(src.Sources())),
		zap.Int("pipelines", res.Pipelines),
		zap.Int("linked_services", res.LinkedServices))
	return nil
}

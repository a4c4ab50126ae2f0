package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		// Verify logging defaults
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)

		assert.True(t, cfg.Health.Enabled)
		assert.False(t, cfg.Tracing.Enabled)

		// Verify store and catalog defaults
		assert.Equal(t, "sqlite", cfg.Store.Driver)
		assert.True(t, cfg.Store.AutoMigrate)
		assert.Equal(t, "sql", cfg.Catalog.Source)

		// Verify scheduler defaults
		assert.Equal(t, time.Minute, cfg.Scheduler.TriggerInterval)
		assert.Equal(t, time.Minute, cfg.Scheduler.ReconcileInterval)
		assert.Equal(t, 72000, cfg.Scheduler.TimeoutSeconds)
		assert.Equal(t, 20*time.Hour, cfg.Scheduler.Timeout())
		assert.Equal(t, time.Hour, cfg.Scheduler.TriggerWindow)
		assert.Equal(t, 4, cfg.Scheduler.Workers)
		assert.Equal(t, "0 0 * * *", cfg.Scheduler.NightlySchedule)
		assert.False(t, cfg.Scheduler.DisableNightly)
		assert.False(t, cfg.Scheduler.Dedupe)

		assert.True(t, cfg.Journal.Enabled)
		assert.False(t, cfg.Outputs.ResolveSize)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify overrides were applied
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Verify non-overridden values remain default
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)
		assert.Equal(t, 4, cfg.Scheduler.Workers)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("RUNORCH_PORT", "3000")
		t.Setenv("RUNORCH_LOG_LEVEL", "warn")
		t.Setenv("RUNORCH_SCHEDULER_DISABLE_NIGHTLY", "true")
		t.Setenv("RUNORCH_TIMEOUT_SECONDS", "600")
		t.Setenv("RUNORCH_EXECUTOR_SCOPES", "runs.read,runs.write")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.True(t, cfg.Scheduler.DisableNightly)
		assert.Equal(t, 10*time.Minute, cfg.Scheduler.Timeout())
		assert.Equal(t, []string{"runs.read", "runs.write"}, cfg.Executor.Scopes)
	})

	t.Run("LongEnvName", func(t *testing.T) {
		t.Setenv("RUNORCH_SERVER_PORT", "3100")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3100, cfg.Server.Port)
	})

	// Test config precedence: runtime > env > defaults
	t.Run("ConfigPrecedence", func(t *testing.T) {
		t.Setenv("RUNORCH_PORT", "4000")

		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "runorch.yaml")
		content := "scheduler:\n  workers: 8\n  dedupe: true\nstore:\n  driver: postgres\n  url: postgres://localhost/runs\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		SetConfigFile(path)
		defer SetConfigFile("")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Scheduler.Workers)
		assert.True(t, cfg.Scheduler.Dedupe)
		assert.Equal(t, "postgres", cfg.Store.Driver)
		assert.Equal(t, "postgres://localhost/runs", cfg.Store.URL)
	})

	t.Run("MissingConfigFile", func(t *testing.T) {
		SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
		defer SetConfigFile("")

		_, err := Load(ctx)
		assert.Error(t, err)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		_, err := Load(ctx, map[string]any{
			"scheduler": map[string]any{"workers": 0},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheduler.workers")

		_, err = Load(ctx, map[string]any{
			"catalog": map[string]any{"source": "file"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalog.files")

		_, err = Load(ctx, map[string]any{
			"store": map[string]any{"driver": "mysql"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store.driver")
	})
}

func TestGetConfig(t *testing.T) {
	ctx := context.Background()

	cfg, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	t.Run("GetConfigReturnsLoadedConfig", func(t *testing.T) {
		retrieved := GetConfig()
		assert.NotNil(t, retrieved)
		assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
		assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
	})
}

func TestEnvSpecs(t *testing.T) {
	ctx := context.Background()
	_, err := Load(ctx)
	require.NoError(t, err)

	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	envVarNames := make(map[string]bool)
	for _, spec := range specs {
		envVarNames[spec.Name] = true
	}

	assert.True(t, envVarNames["RUNORCH_LOG_LEVEL"], "LOG_LEVEL env var must be mapped")
	assert.True(t, envVarNames["RUNORCH_PORT"], "PORT env var must be mapped")
	assert.True(t, envVarNames["RUNORCH_HOST"], "HOST env var must be mapped")
	assert.True(t, envVarNames["RUNORCH_DATABASE_URL"], "DATABASE_URL env var must be mapped")
	assert.True(t, envVarNames["RUNORCH_SCHEDULER_TIMEOUT_SECONDS"])
	assert.True(t, envVarNames["RUNORCH_JOB_TYPES_SYNCHRONIZE"])
}

func TestDurationParsing(t *testing.T) {
	ctx := context.Background()

	t.Run("DurationFromEnv", func(t *testing.T) {
		t.Setenv("RUNORCH_READ_TIMEOUT", "45s")
		t.Setenv("RUNORCH_SHUTDOWN_TIMEOUT", "5m")
		t.Setenv("RUNORCH_TRIGGER_INTERVAL", "30s")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 30*time.Second, cfg.Scheduler.TriggerInterval)
	})
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg1)
	initialPort := cfg1.Server.Port

	overrides := map[string]any{
		"server": map[string]any{
			"port": initialPort + 1000,
		},
	}

	cfg2, err := Load(ctx, overrides)
	require.NoError(t, err)
	require.NotNil(t, cfg2)

	assert.Equal(t, initialPort+1000, cfg2.Server.Port)

	current := GetConfig()
	assert.Equal(t, cfg2.Server.Port, current.Server.Port)
}

// resetAppIdentity resets package state for isolated tests.
// Must only be used in tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestGetUserConfigPathsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() {
		_, _ = Load(context.Background())
	}()

	paths := getUserConfigPaths()
	assert.Empty(t, paths)
}

func TestGetEnvSpecsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() {
		_, _ = Load(context.Background())
	}()

	specs := getEnvSpecs()
	assert.Empty(t, specs)
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	ctx := context.Background()

	_, err := Load(ctx)
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	for _, spec := range specs {
		assert.True(t, len(spec.Name) > 0, "env var name should not be empty")
		assert.Contains(t, spec.Name, "RUNORCH_", "all specs should have RUNORCH_ prefix")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
	}
}

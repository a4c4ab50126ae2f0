package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/internal/config"
)

func TestSetVersionInfo(t *testing.T) {
	saved := versionInfo
	defer func() { versionInfo = saved }()

	SetVersionInfo("0.3.1", "9f2c1ab", "2026-10-01T08:00:00Z")
	assert.Equal(t, "0.3.1", versionInfo.Version)
	assert.Equal(t, "9f2c1ab", versionInfo.Commit)
	assert.Equal(t, "2026-10-01T08:00:00Z", versionInfo.BuildDate)

	SetVersionInfo("", "", "")
	assert.Empty(t, versionInfo.Version)
}

func TestIdentityFallsBackToDefault(t *testing.T) {
	saved := appIdentity
	defer func() { appIdentity = saved }()

	appIdentity = nil
	assert.Nil(t, GetAppIdentity())
	assert.Equal(t, config.DefaultIdentity.BinaryName, identity().BinaryName)

	custom := &config.AppIdentity{BinaryName: "runorch-staging", EnvPrefix: "RUNORCH", ConfigName: "runorch"}
	appIdentity = custom
	assert.Same(t, custom, GetAppIdentity())
	assert.Equal(t, "runorch-staging", identity().BinaryName)
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setDefaults()

	assert.Equal(t, "localhost", viper.GetString("server.host"))
	assert.Equal(t, 8080, viper.GetInt("server.port"))
	assert.Equal(t, "10s", viper.GetString("server.shutdown_timeout"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))
	assert.True(t, viper.GetBool("health.enabled"))

	assert.Equal(t, "sqlite", viper.GetString("store.driver"))
	assert.True(t, viper.GetBool("store.auto_migrate"))
	assert.Equal(t, "sql", viper.GetString("catalog.source"))

	assert.Equal(t, 72000, viper.GetInt("scheduler.timeout_seconds"))
	assert.Equal(t, "1h", viper.GetString("scheduler.trigger_window"))
	assert.Equal(t, 4, viper.GetInt("scheduler.workers"))
	assert.Equal(t, "0 0 * * *", viper.GetString("scheduler.nightly_schedule"))
	assert.False(t, viper.GetBool("scheduler.disable_nightly"))
	assert.False(t, viper.GetBool("scheduler.dedupe"))

	assert.True(t, viper.GetBool("journal.enabled"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))

	err := exitError(foundry.ExitFileNotFound, "catalog files missing", errors.New("no match for pipelines/*.yaml"))
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))
	assert.Contains(t, err.Error(), "catalog files missing")
	assert.Contains(t, err.Error(), "no match for pipelines/*.yaml")
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(fmt.Errorf("runs trigger: %w", err)))
}

package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitCLILogger(t *testing.T) {
	InitCLILogger("test", true)
	require.NotNil(t, CLILogger)
	assert.True(t, CLILogger.Core().Enabled(-1), "verbose enables debug")

	InitCLILogger("test", false)
	assert.False(t, CLILogger.Core().Enabled(-1))
}

func TestNewServiceLogger(t *testing.T) {
	logger, err := NewServiceLogger("runorch", "warn", "STRUCTURED")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(0), "info is below warn")
	assert.True(t, logger.Core().Enabled(1))

	_, err = NewServiceLogger("runorch", "loud", "STRUCTURED")
	assert.Error(t, err)
}

func TestTracerProvider(t *testing.T) {
	_, isNoop := TracerProvider(false).(noop.TracerProvider)
	assert.True(t, isNoop)
	assert.NotNil(t, TracerProvider(true))
}

package obs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerProduction(t *testing.T) {
	logger, err := NewLogger(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("hello")
}

func TestNewLoggerDevelopment(t *testing.T) {
	logger, err := NewLogger(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Debug("verbose")
}

func TestMustNeverReturnsNil(t *testing.T) {
	assert.NotNil(t, Must(false))
}

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	testCases := []struct {
		level   string
		enabled zapcore.Level
		off     zapcore.Level
	}{
		{level: "", enabled: zapcore.InfoLevel, off: zapcore.DebugLevel},
		{level: "debug", enabled: zapcore.DebugLevel, off: zapcore.DebugLevel - 1},
		{level: "WARN", enabled: zapcore.WarnLevel, off: zapcore.InfoLevel},
		{level: "error", enabled: zapcore.ErrorLevel, off: zapcore.WarnLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			for _, dev := range []bool{false, true} {
				logger, err := New(tc.level, dev)
				require.NoError(t, err)
				assert.True(t, logger.Core().Enabled(tc.enabled))
				assert.False(t, logger.Core().Enabled(tc.off))
			}
		})
	}
}

func TestNewNone(t *testing.T) {
	logger, err := New("none", false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.FatalLevel))
}

func TestNewInvalid(t *testing.T) {
	_, err := New("loud", false)
	assert.Error(t, err)
	assert.Panics(t, func() { Must("loud", false) })
}

package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Levels(t *testing.T) {
	log, err := NewLogger("warn", "json", "wisefido-camera")
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zapcore.WarnLevel))
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	log, err := NewLogger("verbose", "console", "")
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zapcore.InfoLevel))
	require.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestLogger_WithFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewFromZap(zap.New(core)).With(Component("award_engine"))

	log.Info("xp awarded", UserID("u-1"), XPAmount(20), Err(errors.New("boom")))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "xp awarded", entry.Message)

	ctx := entry.ContextMap()
	assert.Equal(t, "award_engine", ctx["component"])
	assert.Equal(t, "u-1", ctx["user_id"])
	assert.Equal(t, int64(20), ctx["xp_amount"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := NewFromZap(zap.New(core))

	log.Debug("hidden")
	log.Info("hidden")
	log.Error("shown")

	assert.Equal(t, 1, logs.Len())
}

func TestNew_BuildsBothFormats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New(Options{Level: LevelDebug, Format: format})
		require.NoError(t, err)
		l.Info("built", String("format", format))
	}
}

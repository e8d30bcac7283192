package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/duskvane/aegis/config"
)

func TestInitLogger_MapsLevelStrings(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":       zapcore.DebugLevel,
		"warn":        zapcore.WarnLevel,
		"error":       zapcore.ErrorLevel,
		"info":        zapcore.InfoLevel,
		"unknown-xyz": zapcore.InfoLevel,
	}
	for level, want := range cases {
		logger := initLogger(config.LogConfig{Level: level, Format: "json"})
		require.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(want))
		if want != zapcore.DebugLevel {
			assert.False(t, logger.Core().Enabled(want-1))
		}
	}
}

func TestInitLogger_ConsoleFormatDoesNotPanic(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "info", Format: "console"})
	require.NotNil(t, logger)
	logger.Info("smoke test")
}

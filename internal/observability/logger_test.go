// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/threatscope/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// -- Test Helper Functions --

// bufferSyncer adapts a bytes.Buffer into a zapcore.WriteSyncer so tests
// can inspect output without swapping os.Stderr.
type bufferSyncer struct {
	bytes.Buffer
}

func (b *bufferSyncer) Sync() error { return nil }

// -- Test Cases --

func TestInitialize(t *testing.T) {
	t.Run("should initialize console logger with colors", func(t *testing.T) {
		ResetForTest()
		buf := &bufferSyncer{}

		cfg := config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors: config.ColorConfig{
				Info: "green",
			},
		}
		Initialize(cfg, buf)
		logger := GetLogger()
		logger.Info("This is a test message.")
		Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, "TestService.")
		assert.Contains(t, output, colorGreen, "Info level should be colorized green")
		assert.Contains(t, output, colorReset)
	})

	t.Run("should initialize json logger", func(t *testing.T) {
		ResetForTest()
		buf := &bufferSyncer{}

		cfg := config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		}
		Initialize(cfg, buf)
		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))
		Sync()

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "Log output should be valid JSON")

		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "JSONTest", logEntry["logger"])
		assert.Equal(t, "This is a JSON message.", logEntry["msg"])
		assert.Equal(t, "value", logEntry["key"])
	})

	t.Run("should respect the configured level", func(t *testing.T) {
		ResetForTest()
		buf := &bufferSyncer{}

		Initialize(config.LoggerConfig{Level: "warn", Format: "json"}, buf)
		GetLogger().Info("hidden")
		GetLogger().Warn("shown")
		Sync()

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("should write to a log file if configured", func(t *testing.T) {
		ResetForTest()
		logPath := filepath.Join(t.TempDir(), "threatscope.log")

		cfg := config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: logPath,
			MaxSize: 1,
		}
		Initialize(cfg, &bufferSyncer{})
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})

	t.Run("should only initialize once", func(t *testing.T) {
		ResetForTest()
		buf := &bufferSyncer{}

		Initialize(config.LoggerConfig{Level: "info", ServiceName: "First"}, buf)
		logger1 := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, buf)
		logger2 := GetLogger()

		assert.Equal(t, logger1, logger2)
		logger2.Info("test")
		Sync()

		assert.True(t, strings.Contains(buf.String(), "First"))
		assert.False(t, strings.Contains(buf.String(), "Second"))
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("should return a fallback logger if not initialized", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("should return the global logger after initialization", func(t *testing.T) {
		ResetForTest()
		Initialize(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"}, &bufferSyncer{})
		assert.Equal(t, globalLogger.Load(), GetLogger())
	})
}

func TestLogSecurityEvent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	LogSecurityEvent(logger, EventCSRFDegraded, "fallback token issued", zap.String("reason", "rng"))
	LogSecurityEvent(logger, EventRateLimited, "scan denied")

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, EventCSRFDegraded, entries[0].ContextMap()[SecurityEventKey])
	assert.Equal(t, "rng", entries[0].ContextMap()["reason"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, EventRateLimited, entries[1].ContextMap()[SecurityEventKey])
}

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

func TestConsoleLogger_Text(t *testing.T) {
	t.Run("writes message with fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewConsoleLogger(WithOutput(&buf), WithTimestamp(false))

		logger.Info(context.Background(), "plugin loaded", ports.F("plugin", "memory-core"))

		out := buf.String()
		assert.Contains(t, out, "[INFO]")
		assert.Contains(t, out, "plugin loaded")
		assert.Contains(t, out, "plugin=memory-core")
	})

	t.Run("respects level threshold", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewConsoleLogger(WithOutput(&buf), WithLevel(ports.LevelWarn))

		logger.Debug(context.Background(), "ignored")
		logger.Info(context.Background(), "ignored too")
		logger.Warn(context.Background(), "kept")

		assert.NotContains(t, buf.String(), "ignored")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("SetLevel changes threshold", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewConsoleLogger(WithOutput(&buf))
		logger.SetLevel(ports.LevelDebug)

		logger.Debug(context.Background(), "now visible")
		assert.Contains(t, buf.String(), "now visible")
		assert.Equal(t, ports.LevelDebug, logger.Level())
	})
}

func TestConsoleLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(WithOutput(&buf), WithJSONFormat(true), WithTimestamp(false))

	logger.Error(context.Background(), "load failed", ports.F("plugin", "p1"), ports.Err(assert.AnError))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "load failed", entry["msg"])
	assert.Equal(t, "p1", entry["plugin"])
	assert.Equal(t, assert.AnError.Error(), entry["error"])
}

func TestConsoleLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(WithOutput(&buf), WithTimestamp(false))

	scoped := logger.With(ports.F("component", "registry"))
	scoped.Info(context.Background(), "registered", ports.F("plugin", "p1"))

	assert.Contains(t, buf.String(), "component=registry")
	assert.Contains(t, buf.String(), "plugin=p1")
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info(context.Background(), "discarded")
	logger.SetLevel(ports.LevelError)
	assert.Equal(t, ports.LevelError, logger.Level())
	assert.Same(t, logger, logger.With(ports.F("k", "v")))
}

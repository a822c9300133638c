// internal/logging/logger_test.go
package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoggerConfig_Validate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		config := &LoggerConfig{
			Level:  LevelInfo,
			Format: FormatJSON,
		}
		err := config.Validate()
		assert.NoError(t, err)
	})

	t.Run("rejects invalid level", func(t *testing.T) {
		config := &LoggerConfig{Level: "invalid"}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "level")
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		config := &LoggerConfig{Format: "xml"}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "format")
	})

	t.Run("applies defaults", func(t *testing.T) {
		config := &LoggerConfig{}
		config.ApplyDefaults()
		assert.Equal(t, LevelInfo, config.Level)
		assert.Equal(t, FormatConsole, config.Format)
		assert.NotNil(t, config.Output)
	})
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(LoggerConfig{Level: LevelDebug, Format: FormatJSON, Output: &buf})
	require.NoError(t, err)

	logger.Info("NewSession", zap.String("session", "0001"))
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "NewSession", entry["msg"])
	assert.Equal(t, "0001", entry["session"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(LoggerConfig{Level: LevelWarn, Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}

// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// LoggerConfig configures a logger
type LoggerConfig struct {
	Level  string    `yaml:"level"`
	Format string    `yaml:"format"`
	Output io.Writer `yaml:"-"`
}

// Validate checks configuration
func (c *LoggerConfig) Validate() error {
	validLevels := map[string]bool{
		LevelDebug: true, LevelInfo: true, LevelWarn: true, LevelError: true, "": true,
	}
	if !validLevels[c.Level] {
		return fmt.Errorf("logging: invalid level: %s", c.Level)
	}
	switch c.Format {
	case FormatJSON, FormatConsole, "":
	default:
		return fmt.Errorf("logging: invalid format: %s", c.Format)
	}
	return nil
}

// ApplyDefaults fills in default values. Lifecycle notices go to stderr so
// that stdout carries only the report.
func (c *LoggerConfig) ApplyDefaults() {
	if c.Level == "" {
		c.Level = LevelInfo
	}
	if c.Format == "" {
		c.Format = FormatConsole
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}
}

// New builds a logger from config.
func New(config LoggerConfig) (*zap.Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	var encoder zapcore.Encoder
	switch config.Format {
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(config.Output)), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel+1)), nil
}

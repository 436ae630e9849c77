package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()

	assert.Equal(t, InfoLevel, config.Level)
	assert.Nil(t, config.Output)
	assert.Equal(t, time.RFC3339, config.TimeFormat)
}

func TestLogger_LogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	assert.NoError(t, err)

	tests := []struct {
		name     string
		logFunc  func()
		contains []string
	}{
		{
			name: "debug log",
			logFunc: func() {
				logger.Debug("debug message", Field{"key", "value"})
			},
			contains: []string{"DEBUG", "debug message", "value"},
		},
		{
			name: "info log",
			logFunc: func() {
				logger.Info("info message", Field{"count", 42})
			},
			contains: []string{"INFO", "info message", "42"},
		},
		{
			name: "warn log",
			logFunc: func() {
				logger.Warn("warning message", Field{"flag", true})
			},
			contains: []string{"WARN", "warning message", "true"},
		},
		{
			name: "error log",
			logFunc: func() {
				logger.Error("error message", errors.New("boom"), Field{"code", 500})
			},
			contains: []string{"ERROR", "error message", "boom", "500"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc()

			output := buf.String()
			for _, contains := range tt.contains {
				assert.Contains(t, output, contains)
			}
		})
	}
}

func TestLogger_LogFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: WarnLevel, Output: &buf})
	assert.NoError(t, err)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", errors.New("boom"))

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	assert.NoError(t, err)

	enriched := logger.WithFields(
		String("service", "apibridge"),
		String("version", "1.0.0"),
	)
	enriched.Info("test message", String("request_id", "123"))

	output := buf.String()
	assert.Contains(t, output, "apibridge")
	assert.Contains(t, output, "1.0.0")
	assert.Contains(t, output, "123")
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	assert.NoError(t, err)

	ctx := context.WithValue(context.Background(), "request_id", "req-123")
	logger.WithContext(ctx).Info("context message")

	output := buf.String()
	assert.Contains(t, output, "req-123")
}

func TestLogger_WithContext_MissingValues(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	assert.NoError(t, err)

	logger.WithContext(context.Background()).Info("context message")

	assert.Contains(t, buf.String(), "context message")
}

func TestGlobalLogger(t *testing.T) {
	originalLogger := GetGlobalLogger()
	defer SetGlobalLogger(originalLogger)

	var buf bytes.Buffer
	testLogger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	assert.NoError(t, err)
	SetGlobalLogger(testLogger)

	assert.Equal(t, testLogger, GetGlobalLogger())

	Debug("debug from global")
	Info("info from global")
	Warn("warn from global")
	Error("error from global", errors.New("global error"))

	output := buf.String()
	assert.Contains(t, output, "debug from global")
	assert.Contains(t, output, "info from global")
	assert.Contains(t, output, "warn from global")
	assert.Contains(t, output, "global error")
}

func TestLogger_ChainedWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	assert.NoError(t, err)

	logger.
		WithFields(String("component", "auth")).
		WithFields(String("provider", "example")).
		Info("chained fields test")

	output := buf.String()
	assert.Contains(t, output, "auth")
	assert.Contains(t, output, "example")
}

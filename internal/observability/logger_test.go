package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies that parseLogLevel correctly parses log level
// strings from environment variables, handling case-insensitivity and whitespace.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env    string
		expect zapcore.Level
	}{
		{"", zap.InfoLevel},
		{"INFO", zap.InfoLevel},
		{"DEBUG", zap.DebugLevel},
		{"WARN", zap.WarnLevel},
		{"ERROR", zap.ErrorLevel},
		{"debug", zap.DebugLevel},
		{"  warn  ", zap.WarnLevel},
		{"invalid", zap.InfoLevel},
	}
	for _, tt := range tests {
		level := parseLogLevel(tt.env)
		if got := level.Level(); got != tt.expect {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.env, got, tt.expect)
		}
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil logger")
	}

	logger.Info("test message")
	_ = FlushTelemetry(context.Background(), logger) // best-effort; can fail on /dev/stderr in test env
}

// TestLoggerFromContext verifies the lookup order: context logger, then
// fallback, then a no-op logger.
func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	scoped := zap.New(core)
	fallbackCore, fallbackLogs := observer.New(zap.DebugLevel)
	fallback := zap.New(fallbackCore)

	ctx := ContextWithLogger(context.Background(), scoped)
	LoggerFromContext(ctx, fallback).Info("scoped")
	if logs.Len() != 1 || fallbackLogs.Len() != 0 {
		t.Fatalf("scoped logger not used: scoped=%d fallback=%d", logs.Len(), fallbackLogs.Len())
	}

	LoggerFromContext(context.Background(), fallback).Info("fallback")
	if fallbackLogs.Len() != 1 {
		t.Fatalf("fallback logger not used")
	}

	if LoggerFromContext(context.Background(), nil) == nil {
		t.Fatal("LoggerFromContext() returned nil")
	}
}

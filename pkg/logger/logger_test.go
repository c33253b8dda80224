package logger

import (
	"io"
	"log/slog"
	"os"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := ParseLevel(tt.input); result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSetupWriter(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   io.Writer
	}{
		{"stdout output", Config{Output: "stdout"}, os.Stdout},
		{"stderr output", Config{Output: "stderr"}, os.Stderr},
		{"default output", Config{Output: ""}, os.Stdout},
		{"file output without filename", Config{Output: "file"}, os.Stdout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if writer := SetupWriter(tt.config); writer != tt.want {
				t.Errorf("SetupWriter(%+v) = %v, want %v", tt.config, writer, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Config{Level: "info", Format: "json", Output: "stdout"}

	logger := NewLogger(cfg)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")
}

func TestNewLoggerTextFormat(t *testing.T) {
	logger := NewLogger(Config{Level: "debug", Format: "text", Output: "stderr"})
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLogLevelString(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"  info  ", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel}, // unknown falls back to default
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run("in="+tt.in, func(t *testing.T) {
			if got := ParseLogLevelString(tt.in, zapcore.InfoLevel); got != tt.want {
				t.Errorf("ParseLogLevelString(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLogLevelFromEnv(t *testing.T) {
	t.Setenv("SDHOST_LOG_LEVEL", "debug")
	if got := ParseLogLevel("SDHOST_LOG_LEVEL", zapcore.InfoLevel); got != zapcore.DebugLevel {
		t.Errorf("ParseLogLevel = %v, want debug", got)
	}

	t.Setenv("SDHOST_LOG_LEVEL", "")
	if got := ParseLogLevel("SDHOST_LOG_LEVEL", zapcore.WarnLevel); got != zapcore.WarnLevel {
		t.Errorf("ParseLogLevel with empty env = %v, want default", got)
	}
}

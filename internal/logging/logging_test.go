package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewModuleLogger(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(Config{Level: "debug", Format: "json"}, &buf)

	NewModuleLogger("cache", "debouncer").Info("flushed", "bytes", 12)

	out := buf.String()
	assert.Contains(t, out, `"module":"cache"`)
	assert.Contains(t, out, `"component":"debouncer"`)
	assert.Contains(t, out, `"service":"gocontext"`)
	assert.Contains(t, out, `"bytes":12`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := InitWithWriter(Config{Level: "warn"}, &buf)

	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

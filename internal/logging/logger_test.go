package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		env   string
		debug bool
		want  log.Level
	}{
		{"", false, log.InfoLevel},
		{"warn", false, log.WarnLevel},
		{"error", false, log.ErrorLevel},
		{"debug", false, log.DebugLevel},
		{"error", true, log.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("ROPGEN_LOG_LEVEL", tt.env)
			assert.Equal(t, tt.want, Level(tt.debug))
		})
	}
}

func TestNewLoggerWithWriterAsSlogHandler(t *testing.T) {
	t.Setenv("ROPGEN_LOG_LEVEL", "")
	t.Setenv("ROPGEN_LOG_PREFIX", "test")

	var buf bytes.Buffer
	lg := NewLoggerWithWriter(&buf, false)
	defer lg.Close()

	logger := slog.New(lg.Logger)
	logger.Debug("hidden")
	logger.Info("Scanned binary", "gadgets", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "test")
	assert.Contains(t, out, "Scanned binary")
	assert.Contains(t, out, "gadgets=3")
}

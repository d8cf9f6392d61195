package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dukex/flowrun/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}

	for name, want := range tests {
		assert.Equal(t, want, log.ParseLevel(name), name)
	}
}

func TestNewHandler(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(log.NewHandler(&buf, "warn", "json"))
	logger.Info("dropped")
	logger.Warn("kept", "execution_id", "exec-1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "exec-1", record["execution_id"])

	buf.Reset()
	slog.New(log.NewHandler(&buf, "info", "text")).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walofficial/wal-server/internal/config"
)

func TestNewLogger_FileOutput(t *testing.T) {
	dir := t.TempDir()

	cfg := config.DefaultLoggingConfig()
	cfg.Dir = dir
	cfg.Format = "json"
	cfg.Console.Enabled = false
	cfg.File.Enabled = true
	cfg.ApplyDefaults()

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("file test message", "key", "value")
	require.NoError(t, Shutdown())

	data, err := os.ReadFile(filepath.Join(dir, "wal-server.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "file test message")
	assert.Contains(t, string(data), `"key":"value"`)
}

func TestNewLogger_NoOutputsDiscards(t *testing.T) {
	cfg := config.DefaultLoggingConfig()
	cfg.Console.Enabled = false
	cfg.File.Enabled = false
	cfg.ApplyDefaults()

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("goes nowhere")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestMultiHandler_FansOut(t *testing.T) {
	buf1 := &bytes.Buffer{}
	buf2 := &bytes.Buffer{}

	handler1 := slog.NewTextHandler(buf1, &slog.HandlerOptions{Level: slog.LevelInfo})
	handler2 := slog.NewTextHandler(buf2, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(newMultiHandler(handler1, handler2))
	logger.Info("test message", "key", "value")

	assert.Contains(t, buf1.String(), "test message")
	assert.Contains(t, buf1.String(), "key=value")
	assert.Contains(t, buf2.String(), "test message")
	assert.Contains(t, buf2.String(), "key=value")
}

func TestMultiHandler_RespectsLevels(t *testing.T) {
	infoBuf := &bytes.Buffer{}
	warnBuf := &bytes.Buffer{}

	multi := newMultiHandler(
		slog.NewTextHandler(infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)

	assert.True(t, multi.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, multi.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(multi)
	logger.Info("info only")

	assert.Contains(t, infoBuf.String(), "info only")
	assert.NotContains(t, warnBuf.String(), "info only")
}

func TestMultiHandler_WithAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	multi := newMultiHandler(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger := slog.New(multi).With("component", "broker")
	logger.Info("attributed")

	assert.Contains(t, buf.String(), "component=broker")
}

func TestLoggingConfig_Validate(t *testing.T) {
	cfg := config.DefaultLoggingConfig()
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Level = "verbose"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Format = "xml"
	assert.Error(t, bad.Validate())
}

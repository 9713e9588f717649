package logger_test

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idh-tui/internal/logger"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "logs", "idh.log")
	log, closeLog, err := logger.New(logger.Config{Level: slog.LevelInfo, Format: "json", Path: path})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("analysis submitted", "data_source_id", 42)
	require.NoError(t, closeLog())

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(blob)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "analysis submitted", entry["msg"])
	assert.Equal(t, 42.0, entry["data_source_id"])
}

func TestNew_TextFormat(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "idh.log")
	cfg := logger.DefaultConfig()
	cfg.Format = "text"
	cfg.Path = path
	_, closeLog, err := logger.New(cfg)
	require.NoError(t, err)

	slog.Warn("poll failed", "status", "ERROR")
	require.NoError(t, closeLog())

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(blob), "level=WARN")
	assert.Contains(t, string(blob), "status=ERROR")
}

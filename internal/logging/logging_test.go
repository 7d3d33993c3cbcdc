package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName)

	logger, cleanup, err := Setup(Config{
		Level:    "debug",
		FilePath: path,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)

	logger.Info("hello", slog.String("k", "v"))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName)

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	// Force the internal threshold low by writing > 1MB.
	line := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "expected rotated file")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("unknown"))
}

func TestSweepOldLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	live := filepath.Join(dir, LogFileName)
	old := filepath.Join(dir, LogFileName+".1")
	fresh := filepath.Join(dir, LogFileName+".2")
	require.NoError(t, os.WriteFile(live, []byte("live"), 0o644))
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("fresh"), 0o644))
	require.NoError(t, os.Chtimes(old, now.Add(-40*24*time.Hour), now.Add(-40*24*time.Hour)))

	removed, err := SweepOldLogs(dir, 30, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(live)
	assert.NoError(t, err, "live log must survive")
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestSweepRetentionZeroKeepsForever(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName+".1")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Unix(0, 0), time.Unix(0, 0)))

	removed, err := SweepOldLogs(dir, 0, time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

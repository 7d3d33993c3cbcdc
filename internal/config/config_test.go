package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, 50, cfg.Chunker.TargetLines)
	assert.Equal(t, 60*time.Hour, cfg.Scheduler.DecayInterval)
	assert.Equal(t, 5000, cfg.Scheduler.DecayBatchSize)
}

func TestPortEnvOverride(t *testing.T) {
	t.Setenv("PORT", "9123")
	cfg := Default()
	cfg.applyEnv()
	assert.Equal(t, 9123, cfg.Server.Port)
}

func TestLoadForProjectOverride(t *testing.T) {
	root := t.TempDir()
	overrideDir := filepath.Join(root, ".claude")
	require.NoError(t, os.MkdirAll(overrideDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(overrideDir, "ccengram.yaml"),
		[]byte("chunker:\n  target_lines: 40\n  min_lines: 5\n  max_lines: 80\n"),
		0o644))

	base := Default()
	cfg, err := LoadForProject(base, root)
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.Chunker.TargetLines)
	assert.Equal(t, 80, cfg.Chunker.MaxLines)
	// Untouched sections fall through to the base.
	assert.Equal(t, base.Embedding.Model, cfg.Embedding.Model)
	// Base is not mutated.
	assert.Equal(t, 50, base.Chunker.TargetLines)
}

func TestLoadForProjectMissingOverride(t *testing.T) {
	cfg, err := LoadForProject(Default(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Chunker.TargetLines)
}

func TestValidateRejectsBadChunkerBounds(t *testing.T) {
	cfg := Default()
	cfg.Chunker.MinLines = 200
	assert.Error(t, cfg.validate())
}

func TestDataRootEnvPriority(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/engram-data")
	assert.Equal(t, "/tmp/engram-data", DataRoot())

	t.Setenv("DATA_DIR", "")
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "ccengram"), DataRoot())
}

func TestProjectPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "abc"), ProjectDataDir("/data", "abc"))
	assert.Equal(t, filepath.Join("/data", "watchers"), WatcherLocksDir("/data"))
	assert.Equal(t, filepath.Join("/p", ".claude", "ccengram.yaml"), ProjectOverridePath("/p"))
}

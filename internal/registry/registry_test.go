package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccengram/ccengram/internal/config"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dims)
	for i := range vec {
		vec[i] = float32((len(text)+i)%7) + 0.1
	}
	return vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                        { return f.dims }
func (f *fakeEmbedder) ModelID() string                        { return "fake-model" }
func (f *fakeEmbedder) IsAvailable(ctx context.Context) bool   { return true }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := config.Default()
	cfg.Embedding.Dimensions = 8
	r, err := New(t.TempDir(), cfg, &fakeEmbedder{dims: 8}, nil)
	require.NoError(t, err)
	t.Cleanup(r.CloseAll)
	return r
}

func TestGetOrCreateCachesHandle(t *testing.T) {
	r := newTestRegistry(t)
	projectDir := t.TempDir()

	info1, store1, err := r.GetOrCreate(projectDir)
	require.NoError(t, err)
	info2, store2, err := r.GetOrCreate(projectDir)
	require.NoError(t, err)

	assert.Equal(t, info1.ID, info2.ID)
	assert.Same(t, store1, store2, "handles are cached and shared")
	assert.Len(t, info1.ID, 16)

	// project.json persisted.
	_, err = os.Stat(filepath.Join(r.DataRoot(), info1.ID, "project.json"))
	assert.NoError(t, err)
}

func TestGetUnknownProject(t *testing.T) {
	r := newTestRegistry(t)
	_, _, err := r.Get("0000000000000000")
	assert.True(t, ccerr.IsKind(err, ccerr.KindNotFound))
}

func TestListAndClose(t *testing.T) {
	r := newTestRegistry(t)
	info, _, err := r.GetOrCreate(t.TempDir())
	require.NoError(t, err)

	assert.Len(t, r.List(), 1)
	require.NoError(t, r.Close(info.ID))
	assert.Empty(t, r.List())
}

func TestWatcherLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "main.go"), []byte("package main\n"), 0o644))

	info, _, err := r.GetOrCreate(projectDir)
	require.NoError(t, err)

	status, err := r.Status(info.ID)
	require.NoError(t, err)
	assert.False(t, status.Running)

	status, err = r.StartWatcher(context.Background(), info.ID)
	require.NoError(t, err)
	assert.True(t, status.Running)

	// Idempotent start.
	status, err = r.StartWatcher(context.Background(), info.ID)
	require.NoError(t, err)
	assert.True(t, status.Running)

	require.NoError(t, r.StopWatcher(info.ID))
	status, err = r.Status(info.ID)
	require.NoError(t, err)
	assert.False(t, status.Running, "lock released after stop")
}

func TestCanonicalizeSamePath(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()

	a, _, err := r.GetOrCreate(dir)
	require.NoError(t, err)
	b, _, err := r.GetOrCreate(dir + string(os.PathSeparator))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

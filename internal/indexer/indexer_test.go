package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccengram/ccengram/internal/chunk"
	"github.com/ccengram/ccengram/internal/core"
	"github.com/ccengram/ccengram/internal/gitignore"
	"github.com/ccengram/ccengram/internal/scanner"
	"github.com/ccengram/ccengram/internal/store"
)

const testProject = "abcd1234abcd1234"

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32((len(text)+i)%9) + 0.5
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

func (f *fakeEmbedder) Dimensions() int                      { return 8 }
func (f *fakeEmbedder) ModelID() string                      { return "fake" }
func (f *fakeEmbedder) IsAvailable(ctx context.Context) bool { return true }

func newIndexer(t *testing.T, root string) (*Indexer, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), testProject, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sc, err := scanner.New()
	require.NoError(t, err)
	return New(st, sc, chunk.New(chunk.DefaultConfig()), &fakeEmbedder{}, root, nil), st
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIndexFileProtocol(t *testing.T) {
	root := t.TempDir()
	write(t, root, "main.go", "package main\n\nfunc main() {\n\tRun()\n}\n")
	ix, st := newIndexer(t, root)
	ctx := context.Background()

	indexed, err := ix.IndexFile(ctx, "main.go")
	require.NoError(t, err)
	assert.True(t, indexed)

	chunks, err := st.ChunksForFile(ctx, "main.go")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Symbols, "main")

	refs, err := st.ReferencesFromChunk(ctx, chunks[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, refs, "call to Run extracted")

	row, err := st.GetIndexedFile(ctx, "main.go")
	require.NoError(t, err)
	assert.Equal(t, 1, row.ChunkCount)

	// Unchanged content skips.
	indexed, err = ix.IndexFile(ctx, "main.go")
	require.NoError(t, err)
	assert.False(t, indexed)
}

func TestIndexFileChangeReplacesChunks(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.go", "package a\n\nfunc One() {}\n")
	ix, st := newIndexer(t, root)
	ctx := context.Background()

	_, err := ix.IndexFile(ctx, "a.go")
	require.NoError(t, err)
	before, err := st.ChunkIDsForFile(ctx, "a.go")
	require.NoError(t, err)

	write(t, root, "a.go", "package a\n\nfunc Two() {}\n")
	indexed, err := ix.IndexFile(ctx, "a.go")
	require.NoError(t, err)
	assert.True(t, indexed)

	after, err := st.ChunkIDsForFile(ctx, "a.go")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.NotEqual(t, before[0], after[0], "re-index is delete-then-insert")
}

func TestRemoveFile(t *testing.T) {
	root := t.TempDir()
	write(t, root, "gone.go", "package gone\n\nfunc G() {}\n")
	ix, st := newIndexer(t, root)
	ctx := context.Background()

	_, err := ix.IndexFile(ctx, "gone.go")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))
	// A vanished file reported as modified degrades to a remove.
	indexed, err := ix.IndexFile(ctx, "gone.go")
	require.NoError(t, err)
	assert.False(t, indexed)

	chunks, err := st.ChunkIDsForFile(ctx, "gone.go")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	_, err = st.GetIndexedFile(ctx, "gone.go")
	assert.Error(t, err)
}

func TestIndexProjectCompletesCheckpoint(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.go", "package a\nfunc A() {}\n")
	write(t, root, "b.go", "package b\nfunc B() {}\n")
	write(t, root, "sub/c.go", "package sub\nfunc C() {}\n")
	ix, st := newIndexer(t, root)
	ctx := context.Background()

	summary, err := ix.IndexProject(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.FilesIndexed)
	assert.False(t, summary.Resumed)

	cp, err := st.LoadCheckpoint(ctx, core.CheckpointCode)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.IsComplete)
	assert.Empty(t, cp.Pending)

	// A second run skips everything (hashes unchanged).
	summary, err = ix.IndexProject(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.FilesIndexed)
	assert.Equal(t, 3, summary.FilesSkipped)
}

func TestIndexProjectResumesPendingCheckpoint(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.go", "package a\nfunc A() {}\n")
	write(t, root, "b.go", "package b\nfunc B() {}\n")
	ix, st := newIndexer(t, root)
	ctx := context.Background()

	// Simulate a crashed run: a.go processed, b.go pending.
	_, err := ix.IndexFile(ctx, "a.go")
	require.NoError(t, err)
	rulesHash := currentRulesHash(t, root)
	require.NoError(t, st.SaveCheckpoint(ctx, &core.IndexCheckpoint{
		ProjectID: testProject, Kind: core.CheckpointCode,
		Processed: []string{"a.go"}, Pending: []string{"b.go"},
		TotalFiles: 2, GitignoreHash: rulesHash,
	}))

	summary, err := ix.IndexProject(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Resumed)
	assert.Equal(t, 1, summary.FilesIndexed, "only the pending file runs")
}

func currentRulesHash(t *testing.T, root string) string {
	t.Helper()
	hash, err := gitignore.RulesHash(root)
	require.NoError(t, err)
	return hash
}

package docs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccengram/ccengram/internal/store"
)

const testProject = "abcd1234abcd1234"

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32(len(text)%(i+2)) + 1
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

func newIngestor(t *testing.T) (*Ingestor, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), testProject, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewIngestor(st, &fakeEmbedder{}), st
}

func TestSplitChunksCoverage(t *testing.T) {
	content := strings.Repeat("paragraph text here.\n\n", 300) // ~6.6 KB
	pieces := splitChunks(content, 1200, 200)

	require.Greater(t, len(pieces), 1)
	assert.Equal(t, 0, pieces[0].offset)

	// Coverage: every character of the input appears in some chunk.
	covered := 0
	prevEnd := 0
	for _, p := range pieces {
		assert.LessOrEqual(t, p.offset, prevEnd, "chunks may overlap but never leave gaps")
		end := p.offset + len(p.text)
		if end > covered {
			covered = end
		}
		prevEnd = end
	}
	assert.Equal(t, len(content), covered)
}

func TestSplitChunksSmallInput(t *testing.T) {
	pieces := splitChunks("tiny", 1200, 200)
	require.Len(t, pieces, 1)
	assert.Equal(t, "tiny", pieces[0].text)
}

func TestIngestContent(t *testing.T) {
	ing, st := newIngestor(t)
	ctx := context.Background()

	content := strings.Repeat("The daemon exposes explore and context endpoints.\n\n", 100)
	res, err := ing.IngestContent(ctx, "architecture notes", content)
	require.NoError(t, err)
	assert.False(t, res.Replaced)
	assert.Greater(t, res.Chunks, 1)

	doc, err := st.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, doc.ChunkCount)
	assert.Equal(t, len(content), doc.CharCount)

	// chunk_index values are {0..total-1}.
	hits, err := st.SearchDocumentChunks(ctx, []float32{1, 1, 1, 1, 1, 1, 1, 1}, res.Chunks)
	require.NoError(t, err)
	indexes := map[int]bool{}
	for _, h := range hits {
		assert.Equal(t, res.Chunks, h.Chunk.TotalChunks)
		indexes[h.Chunk.ChunkIndex] = true
	}
	for i := 0; i < res.Chunks; i++ {
		assert.True(t, indexes[i], "chunk index %d present", i)
	}
}

func TestReingestReplacesChunks(t *testing.T) {
	ing, st := newIngestor(t)
	ctx := context.Background()

	first, err := ing.IngestContent(ctx, "notes", strings.Repeat("old content\n\n", 200))
	require.NoError(t, err)

	second, err := ing.IngestContent(ctx, "notes", "much shorter now")
	require.NoError(t, err)
	assert.True(t, second.Replaced)
	assert.Equal(t, first.DocumentID, second.DocumentID, "same source keeps its document id")

	doc, err := st.GetDocument(ctx, second.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ChunkCount)

	n, err := st.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngestEmptyRejected(t *testing.T) {
	ing, _ := newIngestor(t)
	_, err := ing.IngestContent(context.Background(), "empty", "   ")
	assert.Error(t, err)
}

package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/store"
)

const testProject = "abcd1234abcd1234"

// fakeEmbedder embeds by keyword buckets so tests can steer similarity.
type fakeEmbedder struct{ available bool }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	lower := strings.ToLower(text)
	if strings.Contains(lower, "watcher") {
		vec[0] = 1
	}
	if strings.Contains(lower, "memory") {
		vec[1] = 1
	}
	if strings.Contains(lower, "indent") {
		vec[2] = 1
	}
	vec[7] = 0.01
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
func (f *fakeEmbedder) IsAvailable(ctx context.Context) bool { return f.available }

func seedEngine(t *testing.T) (*Engine, *store.Store, map[string]string) {
	t.Helper()
	st, err := store.Open(t.TempDir(), testProject, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb := &fakeEmbedder{available: true}
	ctx := context.Background()
	ids := map[string]string{}

	// One code file with two chunks and a reference between them.
	watcherChunk := &core.CodeChunk{
		ID: core.NewID(), ProjectID: testProject, FilePath: "internal/watcher/watcher.go",
		Content: "func StartWatcher() {\n\tAcquireLock()\n}", Language: core.LangGo,
		Type: core.ChunkTypeFunction, Symbols: []string{"StartWatcher"},
		StartLine: 1, EndLine: 3, FileHash: "h", IndexedAt: time.Now().UTC(),
	}
	watcherChunk.Embedding, _ = emb.Embed(ctx, "watcher start")
	lockChunk := &core.CodeChunk{
		ID: core.NewID(), ProjectID: testProject, FilePath: "internal/watcher/watcher.go",
		Content: "func AcquireLock() {}", Language: core.LangGo,
		Type: core.ChunkTypeFunction, Symbols: []string{"AcquireLock"},
		StartLine: 5, EndLine: 6, FileHash: "h", IndexedAt: time.Now().UTC(),
	}
	lockChunk.Embedding, _ = emb.Embed(ctx, "watcher lock")
	require.NoError(t, st.InsertChunks(ctx, []*core.CodeChunk{watcherChunk, lockChunk}))
	require.NoError(t, st.InsertReferences(ctx, []*core.CodeReference{{
		ID: core.NewID(), ProjectID: testProject, SourceChunkID: watcherChunk.ID,
		TargetSymbol: "AcquireLock", Type: core.ReferenceTypeCall, CreatedAt: time.Now().UTC(),
	}}))
	ids["watcherChunk"] = watcherChunk.ID
	ids["lockChunk"] = lockChunk.ID

	// A memory touching the watcher file.
	m := core.NewMemory(testProject, "memory about the watcher lock protocol", core.SectorSemantic, core.TierProject)
	m.Files = []string{"internal/watcher/watcher.go"}
	m.Importance = 0.8
	m.Embedding, _ = emb.Embed(ctx, m.Content)
	res, err := st.AddMemory(ctx, m)
	require.NoError(t, err)
	ids["memory"] = res.ID

	// A document with three chunks.
	docID := core.NewID()
	require.NoError(t, st.UpsertDocumentMetadata(ctx, &core.Document{
		ID: docID, ProjectID: testProject, Title: "notes", Source: "notes.md",
		SourceKind: core.DocSourceFile, ContentHash: "h", ChunkCount: 3,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))
	var docChunks []*core.DocumentChunk
	for i := 0; i < 3; i++ {
		dc := &core.DocumentChunk{
			ID: core.NewID(), ProjectID: testProject, DocumentID: docID,
			Content: "watcher notes part", Title: "notes", Source: "notes.md",
			SourceKind: core.DocSourceFile, ChunkIndex: i, TotalChunks: 3,
			CreatedAt: time.Now().UTC(),
		}
		dc.Embedding, _ = emb.Embed(ctx, dc.Content)
		docChunks = append(docChunks, dc)
	}
	require.NoError(t, st.ReplaceDocumentChunks(ctx, docID, docChunks))
	ids["docChunk"] = docChunks[1].ID

	return NewEngine(st, emb), st, ids
}

func TestExploreAllScopes(t *testing.T) {
	e, _, ids := seedEngine(t)

	resp, err := e.Explore(context.Background(), "watcher", ExploreOptions{Scope: ScopeAll, Limit: 10})
	require.NoError(t, err)

	assert.Greater(t, resp.Counts.Code, 0)
	assert.Greater(t, resp.Counts.Memory, 0)
	assert.Greater(t, resp.Counts.Doc, 0)
	require.NotEmpty(t, resp.Results)

	// Results are sorted by score descending.
	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score)
	}

	var watcherResult *Result
	for _, r := range resp.Results {
		if r.ID == ids["watcherChunk"] {
			watcherResult = r
		}
	}
	require.NotNil(t, watcherResult)
	require.NotNil(t, watcherResult.Hints.Callees)
	assert.Equal(t, 1, *watcherResult.Hints.Callees)
	require.NotNil(t, watcherResult.Hints.Siblings)
	assert.Equal(t, 1, *watcherResult.Hints.Siblings)
	require.NotNil(t, watcherResult.Hints.RelatedMemories)
	assert.Equal(t, 1, *watcherResult.Hints.RelatedMemories)
}

func TestExploreScopeRestriction(t *testing.T) {
	e, _, _ := seedEngine(t)

	resp, err := e.Explore(context.Background(), "watcher", ExploreOptions{Scope: ScopeMemory, Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, resp.Counts.Code)
	assert.Zero(t, resp.Counts.Doc)
	for _, r := range resp.Results {
		assert.Equal(t, ResultMemory, r.ResultType)
	}
}

func TestExploreExpandTopInlinesContext(t *testing.T) {
	e, _, _ := seedEngine(t)

	resp, err := e.Explore(context.Background(), "watcher", ExploreOptions{Scope: ScopeCode, Limit: 5, ExpandTop: 1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.NotNil(t, resp.Results[0].Context, "top result carries inline context")
	if len(resp.Results) > 1 {
		assert.Nil(t, resp.Results[1].Context)
	}
}

func TestExploreSuggestionsExcludeQueryTokens(t *testing.T) {
	e, _, _ := seedEngine(t)

	resp, err := e.Explore(context.Background(), "watcher", ExploreOptions{Scope: ScopeAll, Limit: 10})
	require.NoError(t, err)
	for _, s := range resp.Suggestions {
		assert.NotEqual(t, "watcher", strings.ToLower(s))
	}
	assert.LessOrEqual(t, len(resp.Suggestions), 5)
}

func TestExploreEmbedderUnavailable(t *testing.T) {
	e, _, _ := seedEngine(t)
	e.embedder.(*fakeEmbedder).available = false

	_, err := e.Explore(context.Background(), "watcher", ExploreOptions{})
	require.Error(t, err)
	assert.True(t, ccerr.IsKind(err, ccerr.KindProvider))
}

func TestExploreEmptyQuery(t *testing.T) {
	e, _, _ := seedEngine(t)
	_, err := e.Explore(context.Background(), "  ", ExploreOptions{})
	assert.True(t, ccerr.IsKind(err, ccerr.KindValidation))
}

func TestCodeContext(t *testing.T) {
	e, _, ids := seedEngine(t)

	resp, err := e.Context(context.Background(), []string{ids["lockChunk"]}, ContextOptions{Depth: 3})
	require.NoError(t, err)
	require.Len(t, resp.Contexts, 1)

	c := resp.Contexts[0]
	assert.Equal(t, ResultCode, c.ResultType)
	assert.Contains(t, c.Content, "AcquireLock")
	assert.Equal(t, "func AcquireLock() {}", c.Signature)
	require.Len(t, c.Callers, 1, "StartWatcher calls AcquireLock")
	assert.Equal(t, ids["watcherChunk"], c.Callers[0].ID)
	require.Len(t, c.Siblings, 1)
	require.Len(t, c.Memories, 1)
	assert.Equal(t, ids["memory"], c.Memories[0].ID)
}

func TestMemoryContextTimeline(t *testing.T) {
	e, st, _ := seedEngine(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		m := core.NewMemory(testProject, "session step "+string(rune('a'+i)), core.SectorEpisodic, core.TierSession)
		m.SessionID = "sess-t"
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		res, err := st.AddMemory(ctx, m)
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}

	resp, err := e.Context(ctx, []string{ids[1]}, ContextOptions{Depth: 2})
	require.NoError(t, err)
	c := resp.Contexts[0]
	require.NotNil(t, c.Timeline)
	require.Len(t, c.Timeline.Before, 1)
	require.Len(t, c.Timeline.After, 1)
	assert.Equal(t, ids[0], c.Timeline.Before[0].ID)
	assert.Equal(t, ids[2], c.Timeline.After[0].ID)
}

func TestDocContextAdjacency(t *testing.T) {
	e, _, ids := seedEngine(t)

	resp, err := e.Context(context.Background(), []string{ids["docChunk"]}, ContextOptions{Depth: 2})
	require.NoError(t, err)
	c := resp.Contexts[0]
	assert.Equal(t, ResultDoc, c.ResultType)
	require.Len(t, c.Before, 1)
	require.Len(t, c.After, 1)
}

func TestMixedContext(t *testing.T) {
	e, _, ids := seedEngine(t)

	resp, err := e.Context(context.Background(),
		[]string{ids["watcherChunk"], ids["memory"], ids["docChunk"]}, ContextOptions{Depth: 2})
	require.NoError(t, err)
	require.Len(t, resp.Contexts, 3)
	assert.Equal(t, ResultCode, resp.Contexts[0].ResultType)
	assert.Equal(t, ResultMemory, resp.Contexts[1].ResultType)
	assert.Equal(t, ResultDoc, resp.Contexts[2].ResultType)
}

func TestContextUnknownID(t *testing.T) {
	e, _, _ := seedEngine(t)
	_, err := e.Context(context.Background(), []string{core.NewID()}, ContextOptions{})
	assert.True(t, ccerr.IsKind(err, ccerr.KindNotFound))
}

func TestTextFormatDeterministic(t *testing.T) {
	e, _, _ := seedEngine(t)
	ctx := context.Background()

	r1, err := e.Explore(ctx, "watcher", ExploreOptions{Scope: ScopeCode, Limit: 5, Format: "text"})
	require.NoError(t, err)
	r2, err := e.Explore(ctx, "watcher", ExploreOptions{Scope: ScopeCode, Limit: 5, Format: "text"})
	require.NoError(t, err)

	assert.Equal(t, r1.Text, r2.Text, "text rendering is deterministic")
	assert.True(t, strings.HasPrefix(r1.Text, "<explore "))
	assert.Contains(t, r1.Text, "<code id=")
	assert.True(t, strings.HasSuffix(r1.Text, "</explore>"))

	cr, err := e.Context(ctx, []string{r1.Results[0].ID}, ContextOptions{Depth: 2, Format: "text"})
	require.NoError(t, err)
	assert.Contains(t, cr.Text, "```go")
}

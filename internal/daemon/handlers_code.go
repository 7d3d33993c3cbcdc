package daemon

import (
	"context"

	"github.com/ccengram/ccengram/internal/chunk"
	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/retrieval"
	"github.com/ccengram/ccengram/internal/store"
)

type chunkView struct {
	ID        string   `json:"id"`
	File      string   `json:"file"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Language  string   `json:"language"`
	Type      string   `json:"type"`
	Symbols   []string `json:"symbols,omitempty"`
	Preview   string   `json:"preview,omitempty"`
	Content   string   `json:"content,omitempty"`
	Score     float64  `json:"score,omitempty"`
}

func chunkViewOf(c *core.CodeChunk, full bool) chunkView {
	v := chunkView{
		ID:        c.ID,
		File:      c.FilePath,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Language:  string(c.Language),
		Type:      string(c.Type),
		Symbols:   c.Symbols,
	}
	if full {
		v.Content = c.Content
	} else if len(c.Content) > 200 {
		v.Preview = c.Content[:200] + "…"
	} else {
		v.Preview = c.Content
	}
	return v
}

func (r *Router) handleCodeSearch(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	query, err := p.requiredString("query")
	if err != nil {
		return nil, err
	}
	limit, err := p.optionalInt("limit", 10, 1, 100)
	if err != nil {
		return nil, err
	}
	language, err := p.optionalString("language", "")
	if err != nil {
		return nil, err
	}

	if !r.registry.Embedder().IsAvailable(ctx) {
		return nil, ccerr.Provider("embedding provider unavailable", nil)
	}
	vec, err := r.registry.Embedder().Embed(ctx, query)
	if err != nil {
		return nil, ccerr.Provider("embed query", err)
	}

	hits, err := st.SearchChunks(ctx, vec, limit, core.Language(language))
	if err != nil {
		return nil, err
	}

	views := make([]chunkView, 0, len(hits))
	for _, hit := range hits {
		v := chunkViewOf(hit.Chunk, false)
		v.Score = 1 - float64(hit.Distance)
		views = append(views, v)
	}
	return map[string]any{"chunks": views, "count": len(views)}, nil
}

func (r *Router) handleCodeContext(ctx context.Context, p params) (any, error) {
	return r.codeContext(ctx, p, 5)
}

func (r *Router) handleCodeContextFull(ctx context.Context, p params) (any, error) {
	return r.codeContext(ctx, p, 20)
}

func (r *Router) codeContext(ctx context.Context, p params, defaultDepth int) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := r.resolveChunkParam(ctx, st, p)
	if err != nil {
		return nil, err
	}
	depth, err := p.optionalInt("depth", defaultDepth, 1, 50)
	if err != nil {
		return nil, err
	}
	format, err := p.enumString("format", "json", "json", "text")
	if err != nil {
		return nil, err
	}

	resp, err := r.engineFor(st).Context(ctx, []string{id}, retrieval.ContextOptions{Depth: depth, Format: format})
	if err != nil {
		return nil, err
	}
	if format == "text" {
		return map[string]any{"text": resp.Text}, nil
	}
	return resp.Contexts[0], nil
}

func (r *Router) handleCodeIndex(ctx context.Context, p params) (any, error) {
	info, _, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	ix, err := r.registry.NewIndexer(info.ID)
	if err != nil {
		return nil, err
	}
	summary, err := ix.IndexProject(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"indexed": summary.FilesIndexed,
		"skipped": summary.FilesSkipped,
		"errors":  summary.Errors,
		"resumed": summary.Resumed,
	}, nil
}

func (r *Router) handleCodeList(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	limit, err := p.optionalInt("limit", 100, 1, 1000)
	if err != nil {
		return nil, err
	}
	files, err := st.ListChunkFiles(ctx, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"files": files, "count": len(files)}, nil
}

func (r *Router) handleCodeStats(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *Router) handleCodeCallers(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := r.resolveChunkParam(ctx, st, p)
	if err != nil {
		return nil, err
	}
	limit, err := p.optionalInt("limit", 10, 1, 100)
	if err != nil {
		return nil, err
	}

	c, err := st.GetChunk(ctx, id)
	if err != nil {
		return nil, err
	}
	callers, err := st.CallerChunks(ctx, c.Symbols, limit)
	if err != nil {
		return nil, err
	}
	views := make([]chunkView, 0, len(callers))
	for _, caller := range callers {
		views = append(views, chunkViewOf(caller, false))
	}
	return map[string]any{"callers": views, "count": len(views)}, nil
}

func (r *Router) handleCodeCallees(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := r.resolveChunkParam(ctx, st, p)
	if err != nil {
		return nil, err
	}
	limit, err := p.optionalInt("limit", 10, 1, 100)
	if err != nil {
		return nil, err
	}

	callees, err := st.CalleeChunks(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	views := make([]chunkView, 0, len(callees))
	for _, callee := range callees {
		views = append(views, chunkViewOf(callee, false))
	}
	return map[string]any{"callees": views, "count": len(views)}, nil
}

// handleCodeImportChunk indexes externally supplied content as a chunk,
// for agents that want to pin a snippet into the index.
func (r *Router) handleCodeImportChunk(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	content, err := p.requiredString("content")
	if err != nil {
		return nil, err
	}
	if err := maxLen("content", content, maxContentLen); err != nil {
		return nil, err
	}
	file, err := p.optionalString("file", "imported/snippet")
	if err != nil {
		return nil, err
	}

	lang := chunk.DetectLanguage(file)
	chunks := chunk.New(chunk.Config{
		TargetLines: r.cfg.Chunker.TargetLines,
		MinLines:    r.cfg.Chunker.MinLines,
		MaxLines:    r.cfg.Chunker.MaxLines,
	}).Chunk(st.ProjectID, file, content, lang, core.ContentHash(content))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := r.registry.Embedder().EmbedBatch(ctx, texts)
	if err != nil {
		return nil, ccerr.Provider("embed imported chunk", err)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	if err := st.InsertChunks(ctx, chunks); err != nil {
		return nil, err
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return map[string]any{"ids": ids, "count": len(ids)}, nil
}

func (r *Router) handleCodeMemories(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	file, err := p.requiredString("file")
	if err != nil {
		return nil, err
	}
	limit, err := p.optionalInt("limit", 10, 1, 100)
	if err != nil {
		return nil, err
	}

	memories, err := st.MemoriesForFile(ctx, file, limit)
	if err != nil {
		return nil, err
	}
	views := make([]memoryView, 0, len(memories))
	for _, m := range memories {
		views = append(views, viewOf(m))
	}
	return map[string]any{"memories": views, "count": len(views)}, nil
}

// handleCodeRelated returns sibling chunks of the same file.
func (r *Router) handleCodeRelated(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	id, err := r.resolveChunkParam(ctx, st, p)
	if err != nil {
		return nil, err
	}

	c, err := st.GetChunk(ctx, id)
	if err != nil {
		return nil, err
	}
	siblings, err := st.ChunksForFile(ctx, c.FilePath)
	if err != nil {
		return nil, err
	}
	views := make([]chunkView, 0, len(siblings))
	for _, s := range siblings {
		if s.ID == c.ID {
			continue
		}
		views = append(views, chunkViewOf(s, false))
	}
	return map[string]any{"related": views, "count": len(views)}, nil
}

func (r *Router) resolveChunkParam(ctx context.Context, st *store.Store, p params) (string, error) {
	id, err := p.requiredString("id")
	if err != nil {
		return "", err
	}
	return st.ResolveChunkID(ctx, id)
}

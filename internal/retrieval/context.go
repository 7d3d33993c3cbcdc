package retrieval

import (
	"context"
	"strings"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

// ContextOptions parameterize a context call.
type ContextOptions struct {
	Depth  int
	Format string
}

// Context resolves each id against the three record types and returns full
// drill-down blocks. Mixed id lists yield mixed blocks.
func (e *Engine) Context(ctx context.Context, ids []string, opts ContextOptions) (*ContextResponse, error) {
	if len(ids) == 0 {
		return nil, ccerr.Validation("id", "at least one id is required")
	}
	if opts.Depth <= 0 {
		opts.Depth = 5
	}

	resp := &ContextResponse{}
	for _, id := range ids {
		kind, resolved, err := e.resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		block, err := e.contextFor(ctx, resolved, kind, opts.Depth)
		if err != nil {
			return nil, err
		}
		resp.Contexts = append(resp.Contexts, block)
	}

	if opts.Format == "text" {
		resp.Text = renderContextText(resp)
	}
	return resp, nil
}

// resolve finds which table an id (or prefix) belongs to.
func (e *Engine) resolve(ctx context.Context, id string) (ResultType, string, error) {
	if resolved, err := e.store.ResolveChunkID(ctx, id); err == nil {
		if _, err := e.store.GetChunk(ctx, resolved); err == nil {
			return ResultCode, resolved, nil
		}
	} else if ccerr.IsKind(err, ccerr.KindAmbiguousPrefix) || ccerr.IsKind(err, ccerr.KindValidation) {
		return "", "", err
	}
	if resolved, err := e.store.ResolveMemoryID(ctx, id); err == nil {
		if _, err := e.store.GetMemory(ctx, resolved); err == nil {
			return ResultMemory, resolved, nil
		}
	} else if ccerr.IsKind(err, ccerr.KindAmbiguousPrefix) {
		return "", "", err
	}
	if _, err := e.store.GetDocumentChunk(ctx, id); err == nil {
		return ResultDoc, id, nil
	}
	return "", "", ccerr.NotFound("record", id)
}

func (e *Engine) contextFor(ctx context.Context, id string, kind ResultType, depth int) (*Context, error) {
	switch kind {
	case ResultCode:
		return e.codeContext(ctx, id, depth)
	case ResultMemory:
		return e.memoryContext(ctx, id, depth)
	case ResultDoc:
		return e.docContext(ctx, id, depth)
	default:
		return nil, ccerr.Internal("unknown result type", nil)
	}
}

func (e *Engine) codeContext(ctx context.Context, id string, depth int) (*Context, error) {
	chunk, err := e.store.GetChunk(ctx, id)
	if err != nil {
		return nil, err
	}

	block := &Context{
		ID:         chunk.ID,
		ResultType: ResultCode,
		Content:    chunk.Content,
		File:       chunk.FilePath,
		Lines:      []int{chunk.StartLine, chunk.EndLine},
		Language:   string(chunk.Language),
		Symbols:    chunk.Symbols,
		Imports:    extractImportLines(chunk.Content),
		Signature:  firstSignature(chunk.Content),
	}

	if callers, err := e.store.CallerChunks(ctx, chunk.Symbols, depth); err == nil {
		block.Callers = neighborsFromChunks(callers)
	}
	if callees, err := e.store.CalleeChunks(ctx, chunk.ID, depth); err == nil {
		block.Callees = neighborsFromChunks(callees)
	}
	if siblings, err := e.store.ChunksForFile(ctx, chunk.FilePath); err == nil {
		var others []*core.CodeChunk
		for _, s := range siblings {
			if s.ID != chunk.ID {
				others = append(others, s)
			}
		}
		if len(others) > depth {
			others = others[:depth]
		}
		block.Siblings = neighborsFromChunks(others)
	}
	if memories, err := e.store.MemoriesForFile(ctx, chunk.FilePath, depth); err == nil {
		block.Memories = neighborsFromMemories(memories)
	}
	return block, nil
}

// memoryContext builds the memory drill-down. Timeline adjacency keys on
// the memory's session (falling back to sector when sessionless).
func (e *Engine) memoryContext(ctx context.Context, id string, depth int) (*Context, error) {
	m, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}

	block := &Context{
		ID:         m.ID,
		ResultType: ResultMemory,
		Content:    m.Content,
		Sector:     string(m.Sector),
	}

	if tl, err := e.store.MemoryTimeline(ctx, m.ID, depth); err == nil {
		block.Timeline = &TimelineBlock{
			Before: neighborsFromMemories(tl.Before),
			After:  neighborsFromMemories(tl.After),
		}
	}
	if related, err := e.store.RelatedMemories(ctx, m.ID, depth); err == nil {
		block.Related = neighborsFromMemories(related)
	}
	return block, nil
}

func (e *Engine) docContext(ctx context.Context, id string, depth int) (*Context, error) {
	chunk, err := e.store.GetDocumentChunk(ctx, id)
	if err != nil {
		return nil, err
	}

	block := &Context{
		ID:         chunk.ID,
		ResultType: ResultDoc,
		Content:    chunk.Content,
		File:       chunk.Source,
		DocumentID: chunk.DocumentID,
		ChunkIndex: intPtr(chunk.ChunkIndex),
	}

	before, after, err := e.store.AdjacentDocumentChunks(ctx, chunk, depth)
	if err == nil {
		block.Before = neighborsFromDocChunks(before)
		block.After = neighborsFromDocChunks(after)
	}
	return block, nil
}

func neighborsFromChunks(chunks []*core.CodeChunk) []Neighbor {
	out := make([]Neighbor, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Neighbor{
			ID:      c.ID,
			File:    c.FilePath,
			Lines:   []int{c.StartLine, c.EndLine},
			Symbols: c.Symbols,
			Preview: preview(c.Content),
		})
	}
	return out
}

func neighborsFromMemories(memories []*core.Memory) []Neighbor {
	out := make([]Neighbor, 0, len(memories))
	for _, m := range memories {
		out = append(out, Neighbor{ID: m.ID, Preview: preview(m.Content)})
	}
	return out
}

func neighborsFromDocChunks(chunks []*core.DocumentChunk) []Neighbor {
	out := make([]Neighbor, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Neighbor{ID: c.ID, File: c.Source, Preview: preview(c.Content)})
	}
	return out
}

func extractImportLines(content string) []string {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && trimmed == ")":
			inBlock = false
		case inBlock && trimmed != "":
			imports = append(imports, trimmed)
		case strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "use ") ||
			strings.HasPrefix(trimmed, "from "):
			imports = append(imports, trimmed)
		}
	}
	return imports
}

// firstSignature returns the first declaration line, when one leads the
// chunk.
func firstSignature(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		for _, prefix := range []string{"func ", "fn ", "def ", "class ", "type ", "impl "} {
			if strings.HasPrefix(trimmed, prefix) {
				return trimmed
			}
		}
		return ""
	}
	return ""
}

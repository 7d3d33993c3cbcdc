package retrieval

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	ccerr "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/store"
)

// ExploreOptions parameterize one explore call.
type ExploreOptions struct {
	Scope     Scope
	Limit     int
	ExpandTop int
	Format    string // "json" (default) or "text"
}

// Explore embeds the query, fans out over the scoped tables, ranks and
// merges the hits, attaches hints, inlines context for the top results,
// and derives query suggestions from the result set.
func (e *Engine) Explore(ctx context.Context, query string, opts ExploreOptions) (*ExploreResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ccerr.Validation("query", "query is required")
	}
	if opts.Scope == "" {
		opts.Scope = ScopeAll
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	if !e.embedder.IsAvailable(ctx) {
		return nil, ccerr.Provider("embedding provider unavailable", nil)
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, ccerr.Provider("embed query", err)
	}

	resp := &ExploreResponse{Suggestions: []string{}}
	var results []*Result

	if opts.Scope == ScopeCode || opts.Scope == ScopeAll {
		hits, err := e.store.SearchChunks(ctx, vec, opts.Limit, "")
		if err != nil {
			return nil, err
		}
		resp.Counts.Code = len(hits)
		for _, hit := range hits {
			results = append(results, &Result{
				ID:         hit.Chunk.ID,
				ResultType: ResultCode,
				File:       hit.Chunk.FilePath,
				Lines:      []int{hit.Chunk.StartLine, hit.Chunk.EndLine},
				Preview:    preview(hit.Chunk.Content),
				Symbols:    hit.Chunk.Symbols,
				Language:   string(hit.Chunk.Language),
				Score:      1 - float64(hit.Distance),
			})
		}
	}

	if opts.Scope == ScopeMemory || opts.Scope == ScopeAll {
		hits, err := e.store.SearchMemories(ctx, vec, store.SearchOptions{Limit: opts.Limit})
		if err != nil {
			return nil, err
		}
		resp.Counts.Memory = len(hits)
		for _, hit := range hits {
			m := hit.Memory
			results = append(results, &Result{
				ID:         m.ID,
				ResultType: ResultMemory,
				Preview:    preview(m.Content),
				Sector:     string(m.Sector),
				Score:      (1 - float64(hit.Distance)) * m.Sector.SearchBoost() * m.Salience * m.Importance,
			})
		}
	}

	if opts.Scope == ScopeDocs || opts.Scope == ScopeAll {
		hits, err := e.store.SearchDocumentChunks(ctx, vec, opts.Limit)
		if err != nil {
			return nil, err
		}
		resp.Counts.Doc = len(hits)
		for _, hit := range hits {
			results = append(results, &Result{
				ID:         hit.Chunk.ID,
				ResultType: ResultDoc,
				File:       hit.Chunk.Source,
				Preview:    preview(hit.Chunk.Content),
				Score:      1 - float64(hit.Distance),
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	for _, r := range results {
		e.attachHints(ctx, r)
	}
	for i := 0; i < opts.ExpandTop && i < len(results); i++ {
		if block, err := e.contextFor(ctx, results[i].ID, results[i].ResultType, 3); err == nil {
			results[i].Context = block
		}
	}

	resp.Results = results
	resp.Suggestions = suggestions(query, results)
	if opts.Format == "text" {
		resp.Text = renderExploreText(resp)
	}
	return resp, nil
}

// attachHints fills structural counts without fetching content.
func (e *Engine) attachHints(ctx context.Context, r *Result) {
	switch r.ResultType {
	case ResultCode:
		if n, err := e.store.CountCallersForSymbols(ctx, r.Symbols); err == nil {
			r.Hints.Callers = intPtr(n)
		}
		if n, err := e.store.CountCallees(ctx, r.ID); err == nil {
			r.Hints.Callees = intPtr(n)
		}
		if siblings, err := e.store.ChunksForFile(ctx, r.File); err == nil {
			r.Hints.Siblings = intPtr(len(siblings) - 1)
		}
		if memories, err := e.store.MemoriesForFile(ctx, r.File, 50); err == nil {
			r.Hints.RelatedMemories = intPtr(len(memories))
		}
	case ResultMemory:
		if in, out, err := e.store.CountRelationships(ctx, r.ID); err == nil {
			r.Hints.RelationshipsIn = intPtr(in)
			r.Hints.RelationshipsOut = intPtr(out)
		}
		if tl, err := e.store.MemoryTimeline(ctx, r.ID, 3); err == nil {
			r.Hints.TimelineDepth = intPtr(len(tl.Before) + len(tl.After))
		}
	case ResultDoc:
		if chunk, err := e.store.GetDocumentChunk(ctx, r.ID); err == nil {
			r.Hints.TotalChunks = intPtr(chunk.TotalChunks)
		}
	}
}

var tokenPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)

// suggestions extracts the most frequent symbols and file-name tokens from
// the result set that the query did not already contain.
func suggestions(query string, results []*Result) []string {
	inQuery := map[string]struct{}{}
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(query), -1) {
		inQuery[tok] = struct{}{}
	}

	freq := map[string]int{}
	order := []string{}
	note := func(token string) {
		lower := strings.ToLower(token)
		if _, dup := inQuery[lower]; dup {
			return
		}
		if freq[lower] == 0 {
			order = append(order, token)
		}
		freq[lower]++
	}

	for _, r := range results {
		for _, sym := range r.Symbols {
			note(sym)
		}
		if r.File != "" {
			base := strings.TrimSuffix(filepath.Base(r.File), filepath.Ext(r.File))
			for _, tok := range tokenPattern.FindAllString(base, -1) {
				note(tok)
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return freq[strings.ToLower(order[i])] > freq[strings.ToLower(order[j])]
	})
	if len(order) > 5 {
		order = order[:5]
	}
	return order
}

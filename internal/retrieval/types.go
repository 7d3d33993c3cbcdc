// Package retrieval implements the two-stage explore/context API: explore
// fans out over the vector tables and attaches structural hints without
// fetching content; context drills into a single item with its callers,
// timeline, or neighbouring chunks.
package retrieval

import (
	"github.com/ccengram/ccengram/internal/embed"
	"github.com/ccengram/ccengram/internal/store"
)

// Scope selects which tables explore searches.
type Scope string

const (
	ScopeCode   Scope = "code"
	ScopeMemory Scope = "memory"
	ScopeDocs   Scope = "docs"
	ScopeAll    Scope = "all"
)

// ValidScope reports whether s is a known scope.
func ValidScope(s string) bool {
	switch Scope(s) {
	case ScopeCode, ScopeMemory, ScopeDocs, ScopeAll:
		return true
	}
	return false
}

// ResultType tags an explore result.
type ResultType string

const (
	ResultCode   ResultType = "code"
	ResultMemory ResultType = "memory"
	ResultDoc    ResultType = "doc"
)

// Hints are structural counts attached to explore results without
// fetching content.
type Hints struct {
	Callers         *int `json:"callers,omitempty"`
	Callees         *int `json:"callees,omitempty"`
	Siblings        *int `json:"siblings,omitempty"`
	RelatedMemories *int `json:"related_memories,omitempty"`
	RelationshipsIn *int `json:"relationships_in,omitempty"`
	RelationshipsOut *int `json:"relationships_out,omitempty"`
	TimelineDepth   *int `json:"timeline_depth,omitempty"`
	TotalChunks     *int `json:"total_chunks,omitempty"`
}

// Result is one explore hit.
type Result struct {
	ID         string     `json:"id"`
	ResultType ResultType `json:"result_type"`
	File       string     `json:"file,omitempty"`
	Lines      []int      `json:"lines,omitempty"`
	Preview    string     `json:"preview"`
	Symbols    []string   `json:"symbols,omitempty"`
	Language   string     `json:"language,omitempty"`
	Sector     string     `json:"sector,omitempty"`
	Hints      Hints      `json:"hints"`
	Context    *Context   `json:"context,omitempty"`
	Score      float64    `json:"score"`
}

// Counts reports per-scope hit totals.
type Counts struct {
	Code   int `json:"code"`
	Memory int `json:"memory"`
	Doc    int `json:"doc"`
}

// ExploreResponse is the stable explore output shape.
type ExploreResponse struct {
	Results     []*Result `json:"results"`
	Counts      Counts    `json:"counts"`
	Suggestions []string  `json:"suggestions"`
	Text        string    `json:"text,omitempty"`
}

// Neighbor is a compact reference to a nearby chunk or memory.
type Neighbor struct {
	ID      string   `json:"id"`
	File    string   `json:"file,omitempty"`
	Lines   []int    `json:"lines,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
	Preview string   `json:"preview"`
}

// Context is the drill-down payload for one item.
type Context struct {
	ID         string     `json:"id"`
	ResultType ResultType `json:"result_type"`
	Content    string     `json:"content"`

	// Code context.
	File      string     `json:"file,omitempty"`
	Lines     []int      `json:"lines,omitempty"`
	Language  string     `json:"language,omitempty"`
	Symbols   []string   `json:"symbols,omitempty"`
	Imports   []string   `json:"imports,omitempty"`
	Signature string     `json:"signature,omitempty"`
	Callers   []Neighbor `json:"callers,omitempty"`
	Callees   []Neighbor `json:"callees,omitempty"`
	Siblings  []Neighbor `json:"siblings,omitempty"`
	Memories  []Neighbor `json:"memories,omitempty"`

	// Memory context.
	Sector   string     `json:"sector,omitempty"`
	Timeline *TimelineBlock `json:"timeline,omitempty"`
	Related  []Neighbor `json:"related,omitempty"`

	// Doc context.
	DocumentID string     `json:"document_id,omitempty"`
	ChunkIndex *int       `json:"chunk_index,omitempty"`
	Before     []Neighbor `json:"before,omitempty"`
	After      []Neighbor `json:"after,omitempty"`
}

// TimelineBlock is the memory timeline payload.
type TimelineBlock struct {
	Before []Neighbor `json:"before"`
	After  []Neighbor `json:"after"`
}

// ContextResponse wraps one or more context blocks.
type ContextResponse struct {
	Contexts []*Context `json:"contexts"`
	Text     string     `json:"text,omitempty"`
}

// Engine runs retrieval against one project store.
type Engine struct {
	store    *store.Store
	embedder embed.Provider
}

// NewEngine creates a retrieval engine.
func NewEngine(st *store.Store, embedder embed.Provider) *Engine {
	return &Engine{store: st, embedder: embedder}
}

const previewLen = 200

func preview(content string) string {
	if len(content) <= previewLen {
		return content
	}
	return content[:previewLen] + "…"
}

func intPtr(v int) *int { return &v }

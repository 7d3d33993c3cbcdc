// Package mcp bridges the daemon's retrieval and memory surface to MCP
// clients (Claude Code, Cursor) over stdio.
package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ccengram/ccengram/internal/registry"
	"github.com/ccengram/ccengram/internal/retrieval"
	"github.com/ccengram/ccengram/internal/store"
)

// Server exposes explore/context/memory tools over MCP.
type Server struct {
	mcp      *mcp.Server
	registry *registry.Registry
	cwd      string
	logger   *slog.Logger
}

// ExploreInput is the explore tool input schema.
type ExploreInput struct {
	Query     string `json:"query" jsonschema:"the search query"`
	Scope     string `json:"scope,omitempty" jsonschema:"code, memory, docs, or all (default all)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum results, default 10"`
	ExpandTop int    `json:"expand_top,omitempty" jsonschema:"inline full context for the first N results"`
}

// ContextInput is the context tool input schema.
type ContextInput struct {
	ID    string `json:"id" jsonschema:"id of a code chunk, memory, or document chunk"`
	Depth int    `json:"depth,omitempty" jsonschema:"how many neighbours to include, default 5"`
}

// RememberInput is the remember tool input schema.
type RememberInput struct {
	Content    string   `json:"content" jsonschema:"the fact to remember"`
	Sector     string   `json:"sector,omitempty" jsonschema:"episodic, semantic, procedural, emotional, or reflective"`
	Importance float64  `json:"importance,omitempty" jsonschema:"0 to 1, default 0.5"`
	Tags       []string `json:"tags,omitempty" jsonschema:"free-form tags"`
}

// TextOutput wraps the deterministic text rendering.
type TextOutput struct {
	Text string `json:"text" jsonschema:"rendered result"`
}

// NewServer creates the MCP server for the project at cwd.
func NewServer(reg *registry.Registry, cwd, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: reg,
		cwd:      cwd,
		logger:   logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "ccengram", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves MCP over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "explore",
		Description: "Semantic search across the project's code, memories, and documents. Returns ranked results with structural hints (callers, callees, timeline) and follow-up query suggestions. Start here, then drill in with the context tool.",
	}, s.exploreHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "context",
		Description: "Drill into one explore result by id: full content plus callers/callees for code, timeline and related memories for memories, neighbouring chunks for documents.",
	}, s.contextHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remember",
		Description: "Store a durable memory for this project (a preference, decision, or gotcha worth recalling later).",
	}, s.rememberHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 3))
}

func (s *Server) projectStore() (*store.Store, error) {
	_, st, err := s.registry.GetOrCreate(s.cwd)
	return st, err
}

func (s *Server) exploreHandler(ctx context.Context, _ *mcp.CallToolRequest, input ExploreInput) (
	*mcp.CallToolResult,
	TextOutput,
	error,
) {
	st, err := s.projectStore()
	if err != nil {
		return nil, TextOutput{}, err
	}
	engine := retrieval.NewEngine(st, s.registry.Embedder())

	resp, err := engine.Explore(ctx, input.Query, retrieval.ExploreOptions{
		Scope:     retrieval.Scope(input.Scope),
		Limit:     input.Limit,
		ExpandTop: input.ExpandTop,
		Format:    "text",
	})
	if err != nil {
		return nil, TextOutput{}, err
	}
	return nil, TextOutput{Text: resp.Text}, nil
}

func (s *Server) contextHandler(ctx context.Context, _ *mcp.CallToolRequest, input ContextInput) (
	*mcp.CallToolResult,
	TextOutput,
	error,
) {
	st, err := s.projectStore()
	if err != nil {
		return nil, TextOutput{}, err
	}
	engine := retrieval.NewEngine(st, s.registry.Embedder())

	resp, err := engine.Context(ctx, []string{input.ID}, retrieval.ContextOptions{
		Depth:  input.Depth,
		Format: "text",
	})
	if err != nil {
		return nil, TextOutput{}, err
	}
	return nil, TextOutput{Text: resp.Text}, nil
}

func (s *Server) rememberHandler(ctx context.Context, _ *mcp.CallToolRequest, input RememberInput) (
	*mcp.CallToolResult,
	TextOutput,
	error,
) {
	st, err := s.projectStore()
	if err != nil {
		return nil, TextOutput{}, err
	}

	m, err := buildMemory(st.ProjectID, input, s.registry.Embedder().ModelID())
	if err != nil {
		return nil, TextOutput{}, err
	}
	if vec, err := s.registry.Embedder().Embed(ctx, input.Content); err == nil {
		m.Embedding = vec
	}

	res, err := st.AddMemory(ctx, m)
	if err != nil {
		return nil, TextOutput{}, err
	}
	if res.IsDuplicate {
		return nil, TextOutput{Text: "already remembered (id " + res.ID + ")"}, nil
	}
	return nil, TextOutput{Text: "remembered (id " + res.ID + ")"}, nil
}

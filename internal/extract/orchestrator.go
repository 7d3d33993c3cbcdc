package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ccengram/ccengram/internal/config"
	"github.com/ccengram/ccengram/internal/core"
	"github.com/ccengram/ccengram/internal/embed"
	ccerr "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/store"
)

// Orchestrator runs the extraction pipeline for one project. A failure
// never crashes the caller: it lands in the extraction segment's error
// column and the segment moves on.
type Orchestrator struct {
	store    *store.Store
	embedder embed.Provider
	llm      LlmProvider
	cfg      config.ExtractionConfig
	logger   *slog.Logger
}

// New creates an orchestrator.
func New(st *store.Store, embedder embed.Provider, llm LlmProvider, cfg config.ExtractionConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: st, embedder: embedder, llm: llm, cfg: cfg, logger: logger}
}

type extractedMemory struct {
	Content    string   `json:"content"`
	MemoryType string   `json:"memory_type"`
	Sector     string   `json:"sector,omitempty"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`
}

type extractionResult struct {
	Memories []extractedMemory `json:"memories"`
}

type supersessionVerdict struct {
	Supersedes         bool    `json:"supersedes"`
	SupersededMemoryID string  `json:"superseded_memory_id,omitempty"`
	Reason             string  `json:"reason,omitempty"`
	Confidence         float64 `json:"confidence"`
}

type signalVerdict struct {
	Category      string `json:"category"`
	IsExtractable bool   `json:"is_extractable"`
}

// Flush runs extraction for the accumulator's current segment and resets
// it. The audit row is appended regardless of outcome.
func (o *Orchestrator) Flush(ctx context.Context, acc *Accumulator, trigger core.ExtractionTrigger) int {
	state := acc.Snapshot()
	seg := &core.ExtractionSegment{
		ID:        state.ID,
		ProjectID: o.store.ProjectID,
		SessionID: state.SessionID,
		Trigger:   trigger,
		CreatedAt: time.Now().UTC(),
	}
	started := time.Now()

	extracted, err := o.extract(ctx, &state, seg)
	seg.DurationMs = time.Since(started).Milliseconds()
	seg.MemoriesExtracted = extracted
	if err != nil {
		seg.Error = err.Error()
		o.logger.Warn("extraction failed",
			slog.String("session", state.SessionID),
			slog.String("trigger", string(trigger)),
			slog.String("error", err.Error()))
	}

	if err := o.store.AppendExtractionSegment(ctx, seg); err != nil {
		o.logger.Error("record extraction segment", slog.String("error", err.Error()))
	}
	if err := acc.Reset(ctx); err != nil {
		o.logger.Warn("reset accumulator", slog.String("error", err.Error()))
	}
	return extracted
}

// MaybeFlush applies the trigger gate: user-prompt triggers require
// meaningful work; pre-compact and stop always flush; todo-completion uses
// its thresholds.
func (o *Orchestrator) MaybeFlush(ctx context.Context, acc *Accumulator, trigger core.ExtractionTrigger) int {
	switch trigger {
	case core.TriggerUserPrompt:
		if !acc.HasMeaningfulWork() {
			return 0
		}
	case core.TriggerTodoCompletion:
		if !acc.TodoCompletionReady(o.cfg.MinTasksDone, o.cfg.MinToolCalls) {
			return 0
		}
	}
	return o.Flush(ctx, acc, trigger)
}

// ClassifySignal runs the lightweight signal classifier over one user
// message. Corrections and preferences that classify as extractable bypass
// the normal gate and extract immediately on a minimal context.
func (o *Orchestrator) ClassifySignal(ctx context.Context, message string) (core.SignalCategory, bool) {
	if o.llm == nil {
		return core.SignalOther, false
	}
	resp, err := o.llm.Infer(ctx, LlmRequest{
		Prompt: "Classify this user message into one of: correction, preference, task, question, statement, other.\n\n" +
			"Message: " + message,
		SystemPrompt: "You classify coding-assistant messages. Respond with JSON only.",
		Model:        o.cfg.Model,
		TimeoutSecs:  o.cfg.TimeoutSecs,
		JSONSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category":       map[string]any{"type": "string"},
				"is_extractable": map[string]any{"type": "boolean"},
			},
			"required": []string{"category", "is_extractable"},
		},
	})
	if err != nil {
		return core.SignalOther, false
	}

	var verdict signalVerdict
	if err := decodeJSON(resp.Text, &verdict); err != nil {
		return core.SignalOther, false
	}
	category := core.SignalCategory(strings.ToLower(verdict.Category))
	return category, category.Extractable() && verdict.IsExtractable
}

// ExtractHighPriority runs immediate extraction on a minimal context built
// from one message.
func (o *Orchestrator) ExtractHighPriority(ctx context.Context, sessionID, message string) int {
	acc := &Accumulator{
		state: core.SegmentState{
			ID:          core.NewID(),
			ProjectID:   o.store.ProjectID,
			SessionID:   sessionID,
			UserPrompts: []string{message},
			StartedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		},
		store: o.store,
	}
	return o.Flush(ctx, acc, core.TriggerHighPriority)
}

func (o *Orchestrator) extract(ctx context.Context, state *core.SegmentState, seg *core.ExtractionSegment) (int, error) {
	if o.llm == nil {
		return 0, ccerr.Provider("no llm provider configured", nil)
	}
	resp, err := o.llm.Infer(ctx, LlmRequest{
		Prompt:       buildExtractionPrompt(state),
		SystemPrompt: extractionSystemPrompt,
		Model:        o.cfg.Model,
		TimeoutSecs:  o.cfg.TimeoutSecs,
		JSONSchema:   extractionSchema,
	})
	if err != nil {
		return 0, err
	}
	seg.InputTokens = resp.InputTokens
	seg.OutputTokens = resp.OutputTokens

	var result extractionResult
	if err := decodeJSON(resp.Text, &result); err != nil {
		// One retry on invalid JSON, then record the failure and move on.
		retry, retryErr := o.llm.Infer(ctx, LlmRequest{
			Prompt:       buildExtractionPrompt(state) + "\n\nRespond with valid JSON only.",
			SystemPrompt: extractionSystemPrompt,
			Model:        o.cfg.Model,
			TimeoutSecs:  o.cfg.TimeoutSecs,
			JSONSchema:   extractionSchema,
		})
		if retryErr != nil {
			return 0, retryErr
		}
		seg.InputTokens += retry.InputTokens
		seg.OutputTokens += retry.OutputTokens
		if err := decodeJSON(retry.Text, &result); err != nil {
			return 0, err
		}
	}

	inserted := 0
	now := time.Now().UTC()
	for _, em := range result.Memories {
		if strings.TrimSpace(em.Content) == "" {
			continue
		}
		if err := o.insertExtracted(ctx, state, em, now); err != nil {
			o.logger.Warn("insert extracted memory", slog.String("error", err.Error()))
			continue
		}
		inserted++
	}
	return inserted, nil
}

func (o *Orchestrator) insertExtracted(ctx context.Context, state *core.SegmentState, em extractedMemory, now time.Time) error {
	memType, _ := core.ParseMemoryType(em.MemoryType)
	sector := memType.DefaultSector()
	if em.Sector != "" {
		if parsed, err := core.ParseSector(em.Sector); err == nil {
			sector = parsed
		}
	}

	m := core.NewMemory(o.store.ProjectID, em.Content, sector, core.TierProject)
	m.Type = memType
	m.Confidence = em.Confidence
	m.Tags = em.Tags
	m.SessionID = state.SessionID
	m.SegmentID = state.ID
	m.Files = state.FilesModified
	m.EmbeddingModel = o.embedder.ModelID()

	vec, err := o.embedder.Embed(ctx, em.Content)
	if err != nil {
		return err
	}
	m.Embedding = vec

	// Supersession check against the nearest existing memories.
	topK := o.cfg.SupersedeTopK
	if topK <= 0 {
		topK = 5
	}
	candidates, err := o.store.SearchMemories(ctx, vec, store.SearchOptions{Limit: topK})
	if err != nil {
		return err
	}

	res, err := o.store.AddMemory(ctx, m)
	if err != nil {
		return err
	}
	if res.IsDuplicate {
		return nil
	}

	if state.SessionID != "" {
		_ = o.store.RecordSessionMemory(ctx, state.SessionID, res.ID, core.UsageCreated, now)
	}

	if len(candidates) > 0 {
		o.detectSupersession(ctx, res.ID, em.Content, candidates, now)
	}
	return nil
}

func (o *Orchestrator) detectSupersession(ctx context.Context, newID, newContent string, candidates []store.MemoryHit, now time.Time) {
	var sb strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- id: %s\n  content: %s\n", c.Memory.ID, c.Memory.Content)
	}

	resp, err := o.llm.Infer(ctx, LlmRequest{
		Prompt: "A new memory was recorded:\n" + newContent +
			"\n\nDoes it supersede (replace or invalidate) any of these existing memories?\n" + sb.String(),
		SystemPrompt: "You detect when new knowledge replaces old knowledge. Respond with JSON only.",
		Model:        o.cfg.Model,
		TimeoutSecs:  o.cfg.TimeoutSecs,
		JSONSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"supersedes":           map[string]any{"type": "boolean"},
				"superseded_memory_id": map[string]any{"type": "string"},
				"reason":               map[string]any{"type": "string"},
				"confidence":           map[string]any{"type": "number"},
			},
			"required": []string{"supersedes", "confidence"},
		},
	})
	if err != nil {
		return
	}

	var verdict supersessionVerdict
	if err := decodeJSON(resp.Text, &verdict); err != nil {
		return
	}
	if !verdict.Supersedes || verdict.SupersededMemoryID == "" {
		return
	}

	if err := o.store.SupersedeMemory(ctx, verdict.SupersededMemoryID, newID, now); err != nil {
		o.logger.Warn("apply supersession",
			slog.String("old", verdict.SupersededMemoryID),
			slog.String("new", newID),
			slog.String("error", err.Error()))
	}
}

const extractionSystemPrompt = `You extract durable memories from a coding session segment.
Record preferences, decisions, gotchas, patterns, codebase facts, and task completions.
Skip transient details. Respond with JSON only.`

var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"memories": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content":     map[string]any{"type": "string"},
					"memory_type": map[string]any{"type": "string"},
					"sector":      map[string]any{"type": "string"},
					"confidence":  map[string]any{"type": "number"},
					"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"content", "memory_type", "confidence"},
			},
		},
	},
	"required": []string{"memories"},
}

func buildExtractionPrompt(state *core.SegmentState) string {
	var sb strings.Builder
	sb.WriteString("Session segment activity:\n\n")

	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		sb.WriteString(title + ":\n")
		for _, item := range items {
			sb.WriteString("- " + item + "\n")
		}
		sb.WriteString("\n")
	}

	section("User prompts", state.UserPrompts)
	section("Files read", state.FilesRead)
	section("Files modified", state.FilesModified)
	section("Commands run", state.CommandsRun)
	section("Errors", state.Errors)
	section("Searches", state.Searches)
	section("Completed tasks", state.CompletedTasks)

	if state.LastAssistantMessage != "" {
		sb.WriteString("Last assistant message:\n" + state.LastAssistantMessage + "\n\n")
	}
	fmt.Fprintf(&sb, "Tool calls in segment: %d\n", state.ToolCallCount)
	return sb.String()
}

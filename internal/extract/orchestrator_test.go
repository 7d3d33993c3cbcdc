package extract

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccengram/ccengram/internal/config"
	"github.com/ccengram/ccengram/internal/core"
	"github.com/ccengram/ccengram/internal/store"
)

const testProject = "abcd1234abcd1234"

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32((len(text)*(i+1))%11) + 0.5
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
func (f *fakeEmbedder) ModelID() string                      { return "fake-embed" }
func (f *fakeEmbedder) IsAvailable(ctx context.Context) bool { return true }

// fakeLLM returns scripted responses in order.
type fakeLLM struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeLLM) Infer(ctx context.Context, req LlmRequest) (*LlmResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return &LlmResponse{Text: f.responses[idx], InputTokens: 100, OutputTokens: 50}, nil
}

func (f *fakeLLM) IsAvailable(ctx context.Context) bool { return true }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), testProject, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newOrchestrator(st *store.Store, llm LlmProvider) *Orchestrator {
	return New(st, &fakeEmbedder{}, llm, config.Default().Extraction, nil)
}

func TestAccumulatorPersistence(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	acc, err := NewAccumulator(ctx, st, "sess-1")
	require.NoError(t, err)
	require.NoError(t, acc.AddUserPrompt(ctx, "fix the flaky test"))
	require.NoError(t, acc.AddFileModified(ctx, "a.go"))
	require.NoError(t, acc.AddFileModified(ctx, "a.go")) // deduped
	require.NoError(t, acc.IncrementToolCalls(ctx))

	// A fresh accumulator restores from the store.
	restored, err := NewAccumulator(ctx, st, "sess-1")
	require.NoError(t, err)
	state := restored.Snapshot()
	assert.Equal(t, []string{"fix the flaky test"}, state.UserPrompts)
	assert.Equal(t, []string{"a.go"}, state.FilesModified)
	assert.Equal(t, 1, state.ToolCallCount)
}

func TestHasMeaningfulWork(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	acc, err := NewAccumulator(ctx, st, "sess-2")
	require.NoError(t, err)
	assert.False(t, acc.HasMeaningfulWork())

	require.NoError(t, acc.AddFileModified(ctx, "x.go"))
	assert.True(t, acc.HasMeaningfulWork(), "one modified file is meaningful")

	acc2, err := NewAccumulator(ctx, st, "sess-3")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, acc2.IncrementToolCalls(ctx))
	}
	assert.True(t, acc2.HasMeaningfulWork(), "three tool calls are meaningful")
}

func TestAssistantMessageTruncated(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	acc, err := NewAccumulator(ctx, st, "sess-4")
	require.NoError(t, err)

	huge := make([]byte, MaxAssistantMessage*2)
	for i := range huge {
		huge[i] = 'x'
	}
	require.NoError(t, acc.SetLastAssistantMessage(ctx, string(huge)))
	assert.Len(t, acc.Snapshot().LastAssistantMessage, MaxAssistantMessage)
}

func TestFlushExtractsMemories(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	llm := &fakeLLM{responses: []string{
		`{"memories":[{"content":"User prefers table-driven tests","memory_type":"preference","confidence":0.9,"tags":["testing"]}]}`,
		`{"supersedes":false,"confidence":0.2}`,
	}}
	o := newOrchestrator(st, llm)

	acc, err := NewAccumulator(ctx, st, "sess-5")
	require.NoError(t, err)
	require.NoError(t, acc.AddFileModified(ctx, "a_test.go"))

	extracted := o.MaybeFlush(ctx, acc, core.TriggerUserPrompt)
	assert.Equal(t, 1, extracted)

	memories, err := st.ListMemories(ctx, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, core.MemoryTypePreference, memories[0].Type)
	assert.Equal(t, core.SectorEmotional, memories[0].Sector, "preference defaults to emotional")
	assert.Equal(t, "sess-5", memories[0].SessionID)
	assert.Equal(t, "fake-embed", memories[0].EmbeddingModel)

	segments, err := st.ListExtractionSegments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, core.TriggerUserPrompt, segments[0].Trigger)
	assert.Equal(t, 1, segments[0].MemoriesExtracted)
	assert.Empty(t, segments[0].Error)

	// Flush reset the segment.
	assert.False(t, acc.HasMeaningfulWork())
}

func TestFlushGateSkipsIdleSegments(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	llm := &fakeLLM{responses: []string{`{"memories":[]}`}}
	o := newOrchestrator(st, llm)

	acc, err := NewAccumulator(ctx, st, "sess-6")
	require.NoError(t, err)

	extracted := o.MaybeFlush(ctx, acc, core.TriggerUserPrompt)
	assert.Zero(t, extracted)
	assert.Zero(t, llm.calls, "idle segments never reach the model")
}

func TestStopAlwaysFlushes(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	llm := &fakeLLM{responses: []string{`{"memories":[]}`}}
	o := newOrchestrator(st, llm)

	acc, err := NewAccumulator(ctx, st, "sess-7")
	require.NoError(t, err)

	o.MaybeFlush(ctx, acc, core.TriggerStop)
	assert.Equal(t, 1, llm.calls)
}

func TestExtractionSupersession(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	old := core.NewMemory(testProject, "The project uses tabs", core.SectorSemantic, core.TierProject)
	vec, _ := (&fakeEmbedder{}).Embed(ctx, old.Content)
	old.Embedding = vec
	oldRes, err := st.AddMemory(ctx, old)
	require.NoError(t, err)

	llm := &fakeLLM{responses: []string{
		`{"memories":[{"content":"The project uses 2-space indent","memory_type":"decision","confidence":0.95,"tags":[]}]}`,
		fmt.Sprintf(`{"supersedes":true,"superseded_memory_id":%q,"reason":"style changed","confidence":0.9}`, oldRes.ID),
	}}
	o := newOrchestrator(st, llm)

	acc, err := NewAccumulator(ctx, st, "sess-8")
	require.NoError(t, err)
	require.NoError(t, acc.AddFileModified(ctx, ".editorconfig"))

	extracted := o.MaybeFlush(ctx, acc, core.TriggerUserPrompt)
	require.Equal(t, 1, extracted)

	superseded, err := st.GetMemory(ctx, oldRes.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, superseded.SupersededBy)
	assert.NotNil(t, superseded.ValidUntil)

	rels, err := st.ListRelationships(ctx, oldRes.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, core.RelSupersedes, rels[0].Type)
}

func TestInvalidJSONRetriesOnceThenRecords(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	llm := &fakeLLM{responses: []string{"not json at all", "still not json"}}
	o := newOrchestrator(st, llm)

	acc, err := NewAccumulator(ctx, st, "sess-9")
	require.NoError(t, err)
	require.NoError(t, acc.AddFileModified(ctx, "a.go"))

	extracted := o.MaybeFlush(ctx, acc, core.TriggerUserPrompt)
	assert.Zero(t, extracted)
	assert.Equal(t, 2, llm.calls, "invalid JSON retries exactly once")

	segments, err := st.ListExtractionSegments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.NotEmpty(t, segments[0].Error, "failure is recorded on the segment")

	// No partial state persisted.
	memories, err := st.ListMemories(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestFencedJSONAccepted(t *testing.T) {
	var result extractionResult
	err := decodeJSON("```json\n{\"memories\":[]}\n```", &result)
	require.NoError(t, err)
	assert.Empty(t, result.Memories)
}

func TestClassifySignal(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	llm := &fakeLLM{responses: []string{`{"category":"correction","is_extractable":true}`}}
	o := newOrchestrator(st, llm)

	category, extractable := o.ClassifySignal(ctx, "no, use pnpm not npm")
	assert.Equal(t, core.SignalCorrection, category)
	assert.True(t, extractable)

	llm2 := &fakeLLM{responses: []string{`{"category":"question","is_extractable":true}`}}
	o2 := newOrchestrator(st, llm2)
	category, extractable = o2.ClassifySignal(ctx, "how does the watcher work?")
	assert.Equal(t, core.SignalQuestion, category)
	assert.False(t, extractable, "questions never bypass the gate")
}

func TestTodoCompletionTrigger(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	llm := &fakeLLM{responses: []string{`{"memories":[]}`}}
	o := newOrchestrator(st, llm)

	acc, err := NewAccumulator(ctx, st, "sess-10")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, acc.AddCompletedTask(ctx, fmt.Sprintf("task %d", i)))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, acc.IncrementToolCalls(ctx))
	}

	// 3 tasks but only 4 tool calls: gate holds at 5.
	o.MaybeFlush(ctx, acc, core.TriggerTodoCompletion)
	assert.Zero(t, llm.calls)

	require.NoError(t, acc.IncrementToolCalls(ctx))
	o.MaybeFlush(ctx, acc, core.TriggerTodoCompletion)
	assert.Equal(t, 1, llm.calls)
}

func TestSegmentTimestampsMonotonic(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	llm := &fakeLLM{responses: []string{`{"memories":[]}`}}
	o := newOrchestrator(st, llm)

	for i := 0; i < 3; i++ {
		acc, err := NewAccumulator(ctx, st, "sess-11")
		require.NoError(t, err)
		require.NoError(t, acc.AddFileModified(ctx, "f.go"))
		o.Flush(ctx, acc, core.TriggerUserPrompt)
		time.Sleep(2 * time.Millisecond)
	}

	segments, err := st.ListExtractionSegments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	// Newest-first listing implies created_at is non-increasing.
	for i := 1; i < len(segments); i++ {
		assert.False(t, segments[i].CreatedAt.After(segments[i-1].CreatedAt))
	}
}

package extract

import (
	"context"
	"sync"
	"time"

	"github.com/ccengram/ccengram/internal/core"
	"github.com/ccengram/ccengram/internal/store"
)

// MaxAssistantMessage caps the stored last assistant message at 10 KB.
const MaxAssistantMessage = 10 * 1024

// Accumulator is the in-memory per-(session, project) segment scratch.
// Every mutation persists to segment_accumulators so a crashed daemon can
// resume mid-segment.
type Accumulator struct {
	mu    sync.Mutex
	state core.SegmentState
	store *store.Store
}

// NewAccumulator creates (or restores from the store) the accumulator for
// a session.
func NewAccumulator(ctx context.Context, st *store.Store, sessionID string) (*Accumulator, error) {
	restored, err := st.LoadSegmentState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if restored != nil {
		return &Accumulator{state: *restored, store: st}, nil
	}

	now := time.Now().UTC()
	return &Accumulator{
		state: core.SegmentState{
			ID:        core.NewID(),
			ProjectID: st.ProjectID,
			SessionID: sessionID,
			StartedAt: now,
			UpdatedAt: now,
		},
		store: st,
	}, nil
}

// SessionID returns the owning session.
func (a *Accumulator) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.SessionID
}

// SegmentID returns the current segment's id.
func (a *Accumulator) SegmentID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.ID
}

// Snapshot copies the current state.
func (a *Accumulator) Snapshot() core.SegmentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// AddUserPrompt records a user prompt.
func (a *Accumulator) AddUserPrompt(ctx context.Context, text string) error {
	return a.mutate(ctx, func(s *core.SegmentState) {
		s.UserPrompts = append(s.UserPrompts, text)
	})
}

// AddFileRead records a file the assistant read.
func (a *Accumulator) AddFileRead(ctx context.Context, path string) error {
	return a.mutate(ctx, func(s *core.SegmentState) {
		s.FilesRead = appendUnique(s.FilesRead, path)
	})
}

// AddFileModified records a file the assistant changed.
func (a *Accumulator) AddFileModified(ctx context.Context, path string) error {
	return a.mutate(ctx, func(s *core.SegmentState) {
		s.FilesModified = appendUnique(s.FilesModified, path)
	})
}

// AddCommandRun records an executed command.
func (a *Accumulator) AddCommandRun(ctx context.Context, command string) error {
	return a.mutate(ctx, func(s *core.SegmentState) {
		s.CommandsRun = append(s.CommandsRun, command)
	})
}

// AddError records an error the assistant hit.
func (a *Accumulator) AddError(ctx context.Context, message string) error {
	return a.mutate(ctx, func(s *core.SegmentState) {
		s.Errors = append(s.Errors, message)
	})
}

// AddSearch records a search query.
func (a *Accumulator) AddSearch(ctx context.Context, query string) error {
	return a.mutate(ctx, func(s *core.SegmentState) {
		s.Searches = append(s.Searches, query)
	})
}

// AddCompletedTask records a finished todo item.
func (a *Accumulator) AddCompletedTask(ctx context.Context, task string) error {
	return a.mutate(ctx, func(s *core.SegmentState) {
		s.CompletedTasks = append(s.CompletedTasks, task)
	})
}

// SetLastAssistantMessage stores the latest assistant message, truncated.
func (a *Accumulator) SetLastAssistantMessage(ctx context.Context, message string) error {
	if len(message) > MaxAssistantMessage {
		message = message[:MaxAssistantMessage]
	}
	return a.mutate(ctx, func(s *core.SegmentState) {
		s.LastAssistantMessage = message
	})
}

// IncrementToolCalls bumps the tool-call counter.
func (a *Accumulator) IncrementToolCalls(ctx context.Context) error {
	return a.mutate(ctx, func(s *core.SegmentState) {
		s.ToolCallCount++
	})
}

// HasMeaningfulWork gates extraction: at least one file modified or three
// tool calls.
func (a *Accumulator) HasMeaningfulWork() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.state.FilesModified) >= 1 || a.state.ToolCallCount >= 3
}

// TodoCompletionReady reports whether the todo-completion trigger fires.
func (a *Accumulator) TodoCompletionReady(minTasks, minToolCalls int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.state.CompletedTasks) >= minTasks && a.state.ToolCallCount >= minToolCalls
}

// Reset starts a fresh segment after a flush, dropping the persisted
// scratch for the old one.
func (a *Accumulator) Reset(ctx context.Context) error {
	a.mu.Lock()
	sessionID := a.state.SessionID
	projectID := a.state.ProjectID
	now := time.Now().UTC()
	a.state = core.SegmentState{
		ID:        core.NewID(),
		ProjectID: projectID,
		SessionID: sessionID,
		StartedAt: now,
		UpdatedAt: now,
	}
	a.mu.Unlock()
	return a.store.DeleteSegmentState(ctx, sessionID)
}

func (a *Accumulator) mutate(ctx context.Context, fn func(*core.SegmentState)) error {
	a.mu.Lock()
	fn(&a.state)
	a.state.UpdatedAt = time.Now().UTC()
	snapshot := a.state
	a.mu.Unlock()
	return a.store.SaveSegmentState(ctx, &snapshot)
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

package daemon

import (
	"context"
	"time"

	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

// handleHook is the generic hook dispatch: hook events mutate the session
// accumulator and fire extraction triggers. Extraction failures never fail
// the hook call; they land in the extraction segment's audit row.
func (r *Router) handleHook(ctx context.Context, p params) (any, error) {
	_, st, err := r.resolveProject(p)
	if err != nil {
		return nil, err
	}
	hookName, err := p.requiredString("hook_name")
	if err != nil {
		return nil, err
	}
	sessionID, err := p.requiredString("session_id")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := st.TouchSession(ctx, sessionID, now); err != nil {
		return nil, err
	}
	if raw, ok := p["payload"]; ok {
		_ = st.RecordEvent(ctx, sessionID, hookName, string(raw), now)
	}

	acc, err := r.accumulatorFor(ctx, st, sessionID)
	if err != nil {
		return nil, err
	}
	orch := r.orchestratorFor(st)
	extracted := 0

	switch hookName {
	case "user_prompt":
		text, err := p.requiredString("text")
		if err != nil {
			return nil, err
		}
		newSegment, err := p.optionalBool("is_new_segment", true)
		if err != nil {
			return nil, err
		}

		// A new prompt flushes the previous segment first.
		if newSegment {
			extracted = orch.MaybeFlush(ctx, acc, core.TriggerUserPrompt)
		}
		if err := acc.AddUserPrompt(ctx, text); err != nil {
			return nil, err
		}

		// High-priority path: corrections and preferences extract
		// immediately on a minimal context.
		if r.llm != nil && r.llm.IsAvailable(ctx) {
			if _, extractable := orch.ClassifySignal(ctx, text); extractable {
				extracted += orch.ExtractHighPriority(ctx, sessionID, text)
			}
		}

	case "file_read":
		path, err := p.requiredString("path")
		if err != nil {
			return nil, err
		}
		err = acc.AddFileRead(ctx, path)
		if err != nil {
			return nil, err
		}
	case "file_modified":
		path, err := p.requiredString("path")
		if err != nil {
			return nil, err
		}
		if err := acc.AddFileModified(ctx, path); err != nil {
			return nil, err
		}
	case "command_run":
		command, err := p.requiredString("command")
		if err != nil {
			return nil, err
		}
		if err := acc.AddCommandRun(ctx, command); err != nil {
			return nil, err
		}
	case "error":
		message, err := p.requiredString("message")
		if err != nil {
			return nil, err
		}
		if err := acc.AddError(ctx, message); err != nil {
			return nil, err
		}
	case "search":
		query, err := p.requiredString("query")
		if err != nil {
			return nil, err
		}
		if err := acc.AddSearch(ctx, query); err != nil {
			return nil, err
		}
	case "task_completed":
		task, err := p.requiredString("task")
		if err != nil {
			return nil, err
		}
		if err := acc.AddCompletedTask(ctx, task); err != nil {
			return nil, err
		}
		extracted = orch.MaybeFlush(ctx, acc, core.TriggerTodoCompletion)
	case "assistant_message":
		message, err := p.requiredString("message")
		if err != nil {
			return nil, err
		}
		if err := acc.SetLastAssistantMessage(ctx, message); err != nil {
			return nil, err
		}
	case "tool_call":
		if err := acc.IncrementToolCalls(ctx); err != nil {
			return nil, err
		}
	case "pre_compact":
		extracted = orch.Flush(ctx, acc, core.TriggerPreCompact)
	case "stop":
		extracted = orch.Flush(ctx, acc, core.TriggerStop)
		if err := st.EndSession(ctx, sessionID, now); err != nil {
			return nil, err
		}
	default:
		return nil, ccerr.Validation("hook_name", "unknown hook: "+hookName)
	}

	return map[string]any{
		"hook":               hookName,
		"session_id":         sessionID,
		"memories_extracted": extracted,
	}, nil
}

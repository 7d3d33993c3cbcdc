// Package extract turns tool-use activity into memories: the segment
// accumulator gathers a window of work, trigger rules decide when to flush,
// and an LLM call extracts memories with supersession detection against
// the existing store.
package extract

import (
	"context"
	"encoding/json"
	"strings"

	ccerr "github.com/ccengram/ccengram/internal/errors"
)

// LlmRequest is one inference call.
type LlmRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string
	TimeoutSecs  int
	JSONSchema   map[string]any
}

// LlmResponse carries the model output and token accounting when the
// provider reports it.
type LlmResponse struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// LlmProvider is the inference capability this package consumes. The
// system never implements providers; the daemon wires one in.
type LlmProvider interface {
	Infer(ctx context.Context, req LlmRequest) (*LlmResponse, error)
	IsAvailable(ctx context.Context) bool
}

// decodeJSON parses a model response into out, unwrapping triple-backtick
// fences when present. Models fence JSON often enough that this is the
// normal path, not the exception.
func decodeJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return ccerr.Wrap(ccerr.KindProvider, "model returned invalid JSON", err)
	}
	return nil
}

package daemon

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccengram/ccengram/internal/config"
	ccerr "github.com/ccengram/ccengram/internal/errors"
	"github.com/ccengram/ccengram/internal/extract"
	"github.com/ccengram/ccengram/internal/registry"
)

type fakeEmbedder struct{ available bool }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32((len(text)*(i+3))%13) + 0.25
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
func (f *fakeEmbedder) IsAvailable(ctx context.Context) bool { return f.available }

type fakeLLM struct{}

func (f *fakeLLM) Infer(ctx context.Context, req extract.LlmRequest) (*extract.LlmResponse, error) {
	return &extract.LlmResponse{Text: `{"memories":[]}`}, nil
}
func (f *fakeLLM) IsAvailable(ctx context.Context) bool { return false }

func newTestRouter(t *testing.T) (*Router, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Embedding.Dimensions = 8

	emb := &fakeEmbedder{available: true}
	reg, err := registry.New(t.TempDir(), cfg, emb, nil)
	require.NoError(t, err)
	t.Cleanup(reg.CloseAll)

	return NewRouter(cfg, reg, &fakeLLM{}, nil, nil), t.TempDir()
}

func call(t *testing.T, r *Router, method string, p map[string]any) Response {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return r.Dispatch(context.Background(), Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  method,
		Params:  raw,
	})
}

func result(t *testing.T, resp Response) map[string]any {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestPing(t *testing.T) {
	r, _ := newTestRouter(t)
	out := result(t, call(t, r, MethodPing, nil))
	assert.Equal(t, true, out["pong"])
}

func TestMethodNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	resp := call(t, r, "no_such_method", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ccerr.CodeMethodNotFound, resp.Error.Code)
}

func TestMemoryAddIdempotentOverRPC(t *testing.T) {
	r, cwd := newTestRouter(t)

	first := result(t, call(t, r, MethodMemoryAdd, map[string]any{
		"cwd": cwd, "content": "Use spaces, not tabs", "sector": "emotional",
	}))
	assert.Equal(t, false, first["is_duplicate"])

	second := result(t, call(t, r, MethodMemoryAdd, map[string]any{
		"cwd": cwd, "content": "Use spaces, not tabs", "sector": "emotional",
	}))
	assert.Equal(t, true, second["is_duplicate"])
	assert.Equal(t, first["id"], second["id"])

	list := result(t, call(t, r, MethodMemoryList, map[string]any{"cwd": cwd}))
	assert.Equal(t, float64(1), list["count"])
}

func TestValidationErrors(t *testing.T) {
	r, cwd := newTestRouter(t)

	resp := call(t, r, MethodMemoryAdd, map[string]any{"cwd": cwd})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ccerr.CodeInvalidParams, resp.Error.Code)

	resp = call(t, r, MethodMemoryAdd, map[string]any{
		"cwd": cwd, "content": "x", "sector": "bogus",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ccerr.CodeInvalidParams, resp.Error.Code)

	resp = call(t, r, MethodMemorySearch, map[string]any{
		"cwd": cwd, "query": "x", "limit": 5000,
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ccerr.CodeInvalidParams, resp.Error.Code)
}

func TestShortPrefixRejected(t *testing.T) {
	r, cwd := newTestRouter(t)
	resp := call(t, r, MethodMemoryGet, map[string]any{"cwd": cwd, "id": "abc"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ccerr.CodeInvalidParams, resp.Error.Code)
}

func TestNotFoundCode(t *testing.T) {
	r, cwd := newTestRouter(t)
	resp := call(t, r, MethodMemoryGet, map[string]any{
		"cwd": cwd, "id": "ffffffffffff",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ccerr.CodeNotFound, resp.Error.Code)
}

func TestEmbeddingUnavailableCode(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.Dimensions = 8
	reg, err := registry.New(t.TempDir(), cfg, &fakeEmbedder{available: false}, nil)
	require.NoError(t, err)
	t.Cleanup(reg.CloseAll)
	r := NewRouter(cfg, reg, &fakeLLM{}, nil, nil)

	resp := call(t, r, MethodMemorySearch, map[string]any{"cwd": t.TempDir(), "query": "anything"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ccerr.CodeEmbeddingUnavailable, resp.Error.Code)
}

func TestMemorySearchReinforces(t *testing.T) {
	r, cwd := newTestRouter(t)

	added := result(t, call(t, r, MethodMemoryAdd, map[string]any{
		"cwd": cwd, "content": "the daemon listens on port 8642",
	}))
	id := added["id"].(string)

	search := result(t, call(t, r, MethodMemorySearch, map[string]any{
		"cwd": cwd, "query": "the daemon listens on port 8642",
	}))
	assert.GreaterOrEqual(t, search["count"], float64(1))

	got := result(t, call(t, r, MethodMemoryGet, map[string]any{"cwd": cwd, "id": id}))
	assert.Equal(t, float64(1), got["access_count"], "recall counts as access")
}

func TestSupersedeOverRPC(t *testing.T) {
	r, cwd := newTestRouter(t)

	first := result(t, call(t, r, MethodMemoryAdd, map[string]any{
		"cwd": cwd, "content": "The project uses tabs",
	}))
	second := result(t, call(t, r, MethodMemoryAdd, map[string]any{
		"cwd": cwd, "content": "The project uses 2-space indent",
	}))

	result(t, call(t, r, MethodMemorySupersede, map[string]any{
		"cwd": cwd, "old_id": first["id"], "new_id": second["id"],
	}))

	got := result(t, call(t, r, MethodMemoryGet, map[string]any{"cwd": cwd, "id": first["id"]}))
	assert.Equal(t, second["id"], got["superseded_by"])

	rels := result(t, call(t, r, MethodRelationshipList, map[string]any{"cwd": cwd, "id": first["id"]}))
	assert.Equal(t, float64(1), rels["count"])
}

func TestDeleteRestoreCycle(t *testing.T) {
	r, cwd := newTestRouter(t)

	added := result(t, call(t, r, MethodMemoryAdd, map[string]any{"cwd": cwd, "content": "to delete"}))
	id := added["id"].(string)

	result(t, call(t, r, MethodMemoryDelete, map[string]any{"cwd": cwd, "id": id}))

	deleted := result(t, call(t, r, MethodMemoryListDeleted, map[string]any{"cwd": cwd}))
	assert.Equal(t, float64(1), deleted["count"])

	result(t, call(t, r, MethodMemoryRestore, map[string]any{"cwd": cwd, "id": id}))
	active := result(t, call(t, r, MethodMemoryList, map[string]any{"cwd": cwd}))
	assert.Equal(t, float64(1), active["count"])
}

func TestHookFlow(t *testing.T) {
	r, cwd := newTestRouter(t)

	hook := func(p map[string]any) map[string]any {
		p["cwd"] = cwd
		p["session_id"] = "sess-hook"
		return result(t, call(t, r, MethodHook, p))
	}

	hook(map[string]any{"hook_name": "user_prompt", "text": "fix the bug", "is_new_segment": false})
	hook(map[string]any{"hook_name": "file_modified", "path": "a.go"})
	hook(map[string]any{"hook_name": "tool_call"})
	out := hook(map[string]any{"hook_name": "stop"})
	assert.Equal(t, "stop", out["hook"])

	resp := call(t, r, MethodHook, map[string]any{
		"cwd": cwd, "session_id": "s", "hook_name": "bogus_hook",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ccerr.CodeInvalidParams, resp.Error.Code)
}

func TestExploreOverRPC(t *testing.T) {
	r, cwd := newTestRouter(t)

	result(t, call(t, r, MethodMemoryAdd, map[string]any{
		"cwd": cwd, "content": "watcher locks live under the data root",
	}))

	out := result(t, call(t, r, MethodExplore, map[string]any{
		"cwd": cwd, "query": "watcher locks live under the data root", "scope": "memory",
	}))
	counts := out["counts"].(map[string]any)
	assert.GreaterOrEqual(t, counts["memory"], float64(1))
}

func TestServerClientRoundTrip(t *testing.T) {
	r, cwd := newTestRouter(t)
	socket := filepath.Join(t.TempDir(), "test.sock")

	srv := NewServer(r, socket, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.ListenAndServe(ctx) }()

	client := NewClient(socket, 0, 5*time.Second)
	require.Eventually(t, client.IsRunning, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Ping(context.Background()))

	var out map[string]any
	require.NoError(t, client.Call(context.Background(), MethodMemoryAdd, map[string]any{
		"cwd": cwd, "content": "over the wire",
	}, &out))
	assert.NotEmpty(t, out["id"])

	err := client.Call(context.Background(), "nope", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestStatusAndMetrics(t *testing.T) {
	r, cwd := newTestRouter(t)

	status := result(t, call(t, r, MethodStatus, nil))
	assert.Equal(t, true, status["running"])
	assert.Equal(t, "fake-embed", status["embedding_model"])

	result(t, call(t, r, MethodMemoryAdd, map[string]any{"cwd": cwd, "content": "m"}))
	metrics := result(t, call(t, r, MethodMetrics, nil))
	assert.NotEmpty(t, metrics)
}

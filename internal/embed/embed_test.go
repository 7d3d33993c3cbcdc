package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	clock := time.Unix(1000, 0)
	r := NewRateLimiter(time.Second, 2, 5*time.Second)
	r.now = func() time.Time { return clock }

	_, ok := r.CheckAndRecord()
	assert.True(t, ok)
	_, ok = r.CheckAndRecord()
	assert.True(t, ok)

	wait, ok := r.CheckAndRecord()
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Second)

	// Window slides: a second later the slots free up.
	clock = clock.Add(1100 * time.Millisecond)
	_, ok = r.CheckAndRecord()
	assert.True(t, ok)
}

func TestRateLimiterAcquireBudget(t *testing.T) {
	r := NewRateLimiter(time.Hour, 1, 10*time.Millisecond)
	require.NoError(t, r.Acquire(context.Background()))

	err := r.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrRateLimitExceeded, kindOf(err))
}

func TestBatchEmbedPreservesOrder(t *testing.T) {
	texts := make([]string, 64)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	var calls atomic.Int32
	out, err := batchEmbed(context.Background(), texts, 16, func(ctx context.Context, sub []string) ([][]float32, error) {
		calls.Add(1)
		vectors := make([][]float32, len(sub))
		for i, s := range sub {
			var n int
			fmt.Sscanf(s, "text-%d", &n)
			vectors[i] = []float32{float32(n)}
		}
		return vectors, nil
	})
	require.NoError(t, err)
	require.Len(t, out, 64)
	assert.Equal(t, int32(4), calls.Load(), "64 texts / 16 per sub-batch")
	for i, vec := range out {
		assert.Equal(t, float32(i), vec[0], "output order must match input")
	}
}

func TestBatchEmbedSingleRequestUnderLimit(t *testing.T) {
	var calls atomic.Int32
	_, err := batchEmbed(context.Background(), []string{"a", "b"}, 16, func(ctx context.Context, sub []string) ([][]float32, error) {
		calls.Add(1)
		return [][]float32{{1}, {2}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBatchEmbedEmpty(t *testing.T) {
	out, err := batchEmbed(context.Background(), nil, 16, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRetryOnlyTransient(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}

	var attempts int
	err := cfg.do(context.Background(), func(ctx context.Context) error {
		attempts++
		return newError(ErrTransient, "flaky", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts, "initial try plus three retries")

	attempts = 0
	err = cfg.do(context.Background(), func(ctx context.Context) error {
		attempts++
		return newError(ErrInvalidInput, "bad input", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "invalid input never retries")

	attempts = 0
	err = cfg.do(context.Background(), func(ctx context.Context) error {
		attempts++
		return newError(ErrAuthFailure, "bad key", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = cfg.do(context.Background(), func(ctx context.Context) error {
		attempts++
		return newError(ErrRateLimitExceeded, "budget", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryEventualSuccess(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
	var attempts int
	err := cfg.do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return newError(ErrNetwork, "refused", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func newOllamaTestServer(t *testing.T, dims int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/embed":
			requests.Add(1)
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp := ollamaEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
			for i := range req.Input {
				vec := make([]float32, dims)
				vec[0] = float32(len(req.Input[i]))
				resp.Embeddings[i] = vec
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestOllamaEmbedBatch(t *testing.T) {
	srv, requests := newOllamaTestServer(t, 4)
	p := NewOllama(OllamaOptions{Host: srv.URL, Model: "test-model", Dimensions: 4, MaxBatchSize: 16})

	texts := make([]string, 40)
	for i := range texts {
		texts[i] = fmt.Sprintf("%0*d", i+1, 0) // lengths 1..40
	}
	out, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, 40)
	assert.Equal(t, int32(3), requests.Load(), "40 texts / 16 per batch")
	for i, vec := range out {
		assert.Equal(t, float32(len(texts[i])), vec[0])
	}
	assert.True(t, p.IsAvailable(context.Background()))
}

func TestOllamaRejectsEmptyText(t *testing.T) {
	srv, _ := newOllamaTestServer(t, 4)
	p := NewOllama(OllamaOptions{Host: srv.URL, Model: "m", Dimensions: 4})

	_, err := p.EmbedBatch(context.Background(), []string{""})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidInput, kindOf(err))
}

func TestRemoteProviderAuthAndOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req remoteEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var resp remoteEmbedResponse
		// Answer in reverse order; the index field must restore it.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i)}})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p := NewRemote(RemoteOptions{BaseURL: srv.URL, APIKey: "key-123", Model: "m", Dimensions: 1})
	out, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	for i, vec := range out {
		assert.Equal(t, float32(i), vec[0])
	}

	bad := NewRemote(RemoteOptions{BaseURL: srv.URL, APIKey: "wrong", Model: "m"})
	_, err = bad.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, ErrAuthFailure, kindOf(err))

	missing := NewRemote(RemoteOptions{BaseURL: srv.URL, Model: "m"})
	assert.False(t, missing.IsAvailable(context.Background()))
}

func TestResilientRetriesNetwork(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 2}}})
	}))
	defer srv.Close()

	inner := NewOllama(OllamaOptions{Host: srv.URL, Model: "m", Dimensions: 2})
	p := WithRetries(inner, RetryConfig{MaxRetries: 4, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1})

	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.Equal(t, int32(3), attempts.Load())
}

package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// RemoteProvider embeds text through a hosted OpenAI-compatible endpoint
// (OpenRouter and friends).
type RemoteProvider struct {
	baseURL      string
	apiKey       string
	model        string
	dims         int
	maxBatchSize int
	limiter      *RateLimiter
	client       *http.Client
}

// RemoteOptions configure the hosted provider.
type RemoteOptions struct {
	BaseURL      string
	APIKey       string
	Model        string
	Dimensions   int
	MaxBatchSize int
	Limiter      *RateLimiter
	Timeout      time.Duration
}

// NewRemote creates a hosted provider.
func NewRemote(opts RemoteOptions) *RemoteProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://openrouter.ai/api/v1"
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(time.Minute, 60, 30*time.Second)
	}
	return &RemoteProvider{
		baseURL:      opts.BaseURL,
		apiKey:       opts.APIKey,
		model:        opts.Model,
		dims:         opts.Dimensions,
		maxBatchSize: opts.MaxBatchSize,
		limiter:      opts.Limiter,
		client:       &http.Client{Timeout: opts.Timeout},
	}
}

type remoteEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding for one text.
func (p *RemoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings with concurrent sub-batching.
func (p *RemoteProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, texts, p.maxBatchSize, p.embedRequest)
}

func (p *RemoteProvider) embedRequest(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if t == "" {
			return nil, newError(ErrInvalidInput, "cannot embed empty text", nil)
		}
	}
	if p.apiKey == "" {
		return nil, newError(ErrAuthFailure, "missing API key", nil)
	}
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(remoteEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, newError(ErrInvalidInput, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, newError(ErrInvalidInput, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, newError(ErrNetwork, "remote request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, newError(ErrAuthFailure, "endpoint rejected credentials", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, newError(ErrTransient, "endpoint rate limited the request", nil)
	case resp.StatusCode != http.StatusOK:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := ErrTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = ErrInvalidInput
		}
		return nil, newError(kind, fmt.Sprintf("endpoint returned %d: %s", resp.StatusCode, data), nil)
	}

	var out remoteEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, newError(ErrTransient, "decode response", err)
	}
	if len(out.Data) != len(texts) {
		return nil, newError(ErrTransient,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(out.Data)), nil)
	}

	// The API is allowed to reorder; the index field is authoritative.
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Dimensions returns the configured embedding dimension.
func (p *RemoteProvider) Dimensions() int { return p.dims }

// ModelID returns the model identifier.
func (p *RemoteProvider) ModelID() string { return p.model }

// IsAvailable reports whether the provider has credentials; hosted
// endpoints are assumed reachable until a request says otherwise.
func (p *RemoteProvider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

var _ Provider = (*RemoteProvider)(nil)

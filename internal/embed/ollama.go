package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaProvider embeds text through a local Ollama runtime.
type OllamaProvider struct {
	host          string
	model         string
	dims          int
	maxBatchSize  int
	contextLength int
	limiter       *RateLimiter
	client        *http.Client
}

// OllamaOptions configure the local provider.
type OllamaOptions struct {
	Host          string
	Model         string
	Dimensions    int
	MaxBatchSize  int
	ContextLength int
	Limiter       *RateLimiter
	Timeout       time.Duration
}

// NewOllama creates a local provider. The limiter may be shared with other
// provider handles.
func NewOllama(opts OllamaOptions) *OllamaProvider {
	if opts.Host == "" {
		opts.Host = "http://localhost:11434"
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 32
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(time.Minute, 120, 30*time.Second)
	}
	return &OllamaProvider{
		host:          opts.Host,
		model:         opts.Model,
		dims:          opts.Dimensions,
		maxBatchSize:  opts.MaxBatchSize,
		contextLength: opts.ContextLength,
		limiter:       opts.Limiter,
		client:        &http.Client{Timeout: opts.Timeout},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for one text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings, splitting into concurrent sub-batches
// above the batch limit.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, texts, p.maxBatchSize, p.embedRequest)
}

func (p *OllamaProvider) embedRequest(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if t == "" {
			return nil, newError(ErrInvalidInput, "cannot embed empty text", nil)
		}
	}
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, newError(ErrInvalidInput, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, newError(ErrInvalidInput, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, newError(ErrNetwork, "ollama request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := ErrTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = ErrInvalidInput
		}
		return nil, newError(kind, fmt.Sprintf("ollama returned %d: %s", resp.StatusCode, data), nil)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, newError(ErrTransient, "decode response", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, newError(ErrTransient,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(out.Embeddings)), nil)
	}
	return out.Embeddings, nil
}

// Dimensions returns the configured embedding dimension.
func (p *OllamaProvider) Dimensions() int { return p.dims }

// ModelID returns the model identifier.
func (p *OllamaProvider) ModelID() string { return p.model }

// IsAvailable probes the runtime.
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type ollamaShowResponse struct {
	ModelInfo map[string]any `json:"model_info"`
}

// Health reports availability and warns when the configured context length
// exceeds what the model supports. A mismatch is a warning, not a failure.
func (p *OllamaProvider) Health(ctx context.Context) (*Health, error) {
	h := &Health{Model: p.model, Available: p.IsAvailable(ctx)}
	if !h.Available {
		return h, nil
	}

	body, _ := json.Marshal(map[string]string{"model": p.model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/show", bytes.NewReader(body))
	if err != nil {
		return h, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return h, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return h, nil
	}

	var show ollamaShowResponse
	if err := json.NewDecoder(resp.Body).Decode(&show); err != nil {
		return h, nil
	}
	for key, value := range show.ModelInfo {
		if len(key) > 14 && key[len(key)-14:] == "context_length" {
			if modelCtx, ok := value.(float64); ok && p.contextLength > int(modelCtx) {
				h.Warnings = append(h.Warnings, fmt.Sprintf(
					"configured context_length %d exceeds model context length %d",
					p.contextLength, int(modelCtx)))
			}
		}
	}
	return h, nil
}

var _ Provider = (*OllamaProvider)(nil)
var _ HealthReporter = (*OllamaProvider)(nil)

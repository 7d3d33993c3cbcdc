package embed

import "context"

// Resilient wraps a provider with retry behavior. Each Embed or EmbedBatch
// call is retried as a whole, and only when the failure class allows it.
type Resilient struct {
	inner Provider
	retry RetryConfig
}

// WithRetries wraps a provider.
func WithRetries(inner Provider, retry RetryConfig) *Resilient {
	return &Resilient{inner: inner, retry: retry}
}

// Embed retries single-text embedding per the retry policy.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.retry.do(ctx, func(ctx context.Context) error {
		vec, err := r.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = vec
		return nil
	})
	return out, err
}

// EmbedBatch retries the whole batch per the retry policy.
func (r *Resilient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.retry.do(ctx, func(ctx context.Context) error {
		vectors, err := r.inner.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		out = vectors
		return nil
	})
	return out, err
}

// Dimensions returns the inner provider's dimension.
func (r *Resilient) Dimensions() int { return r.inner.Dimensions() }

// ModelID returns the inner provider's model id.
func (r *Resilient) ModelID() string { return r.inner.ModelID() }

// IsAvailable delegates to the inner provider.
func (r *Resilient) IsAvailable(ctx context.Context) bool { return r.inner.IsAvailable(ctx) }

// Health delegates when the inner provider reports health.
func (r *Resilient) Health(ctx context.Context) (*Health, error) {
	if hr, ok := r.inner.(HealthReporter); ok {
		return hr.Health(ctx)
	}
	return &Health{Model: r.inner.ModelID(), Available: r.inner.IsAvailable(ctx)}, nil
}

var _ Provider = (*Resilient)(nil)

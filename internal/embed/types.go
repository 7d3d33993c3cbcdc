// Package embed is the embedding gateway: provider implementations over
// HTTP model runtimes, transparent batching with concurrent sub-batches,
// a sliding-window rate limiter shared across clones, and a resilient
// wrapper adding retries.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// Provider generates vector embeddings for text.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. Output length and
	// order always match the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelID returns the model identifier.
	ModelID() string

	// IsAvailable checks whether the provider is ready.
	IsAvailable(ctx context.Context) bool
}

// HealthReporter is implemented by providers that can describe their
// runtime state beyond a boolean.
type HealthReporter interface {
	Health(ctx context.Context) (*Health, error)
}

// Health describes a provider health check.
type Health struct {
	Available bool     `json:"available"`
	Model     string   `json:"model"`
	Warnings  []string `json:"warnings,omitempty"`
}

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

const (
	// ErrNetwork is a connection-level failure; retryable.
	ErrNetwork ErrorKind = "network"
	// ErrTransient is a retryable server-side failure (5xx, timeout).
	ErrTransient ErrorKind = "transient"
	// ErrInvalidInput is a caller mistake; never retried.
	ErrInvalidInput ErrorKind = "invalid_input"
	// ErrAuthFailure is a credential problem; never retried.
	ErrAuthFailure ErrorKind = "auth_failure"
	// ErrRateLimitExceeded means the limiter's wait budget ran out; the
	// batch fails rather than retrying into the same wall.
	ErrRateLimitExceeded ErrorKind = "rate_limit_exceeded"
)

// ProviderError is the failure type surfaced by the gateway.
type ProviderError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("embedding %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("embedding %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, message string, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Message: message, Cause: cause}
}

// kindOf extracts the error kind, defaulting to transient so unknown
// failures stay retryable.
func kindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrTransient
}

// retryable reports whether the retry wrapper may re-issue the request.
func retryable(err error) bool {
	switch kindOf(err) {
	case ErrNetwork, ErrTransient:
		return true
	default:
		return false
	}
}

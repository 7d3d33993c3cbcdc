package embed

import (
	"os"

	"github.com/ccengram/ccengram/internal/config"
)

// NewFromConfig builds the configured provider wrapped with its domain
// retry preset. All handles built from the same call share one rate
// limiter.
func NewFromConfig(cfg config.EmbeddingConfig) Provider {
	limiter := NewRateLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests, cfg.RateLimit.MaxWait)

	retry := RetryConfig{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Multiplier:     cfg.Retry.Multiplier,
		Jitter:         cfg.Retry.Jitter,
		RequestTimeout: cfg.Retry.RequestTimeout,
	}

	switch cfg.Provider {
	case "openrouter":
		if retry.MaxRetries == 0 {
			retry = ForCloud()
		}
		return WithRetries(NewRemote(RemoteOptions{
			BaseURL:      cfg.RemoteBaseURL,
			APIKey:       os.Getenv(cfg.APIKeyEnv),
			Model:        cfg.Model,
			Dimensions:   cfg.Dimensions,
			MaxBatchSize: cfg.MaxBatchSize,
			Limiter:      limiter,
			Timeout:      cfg.Retry.RequestTimeout,
		}), retry)
	default:
		if retry.MaxRetries == 0 {
			retry = ForLocal()
		}
		return WithRetries(NewOllama(OllamaOptions{
			Host:          cfg.OllamaHost,
			Model:         cfg.Model,
			Dimensions:    cfg.Dimensions,
			MaxBatchSize:  cfg.MaxBatchSize,
			ContextLength: cfg.ContextLength,
			Limiter:       limiter,
			Timeout:       cfg.Retry.RequestTimeout,
		}), retry)
	}
}

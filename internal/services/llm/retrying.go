package llm

import (
	"context"
	"time"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/civictriage/backend/pkg/retry"
)

// RetryPolicy builds the backoff used around model calls. Only
// ErrUpstreamUnavailable is retried; schema failures never are.
func RetryPolicy(maxRetries int) retry.Config {
	log := logger.Module("llm")
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = maxRetries + 1
	cfg.InitialDelay = 500 * time.Millisecond
	cfg.MaxDelay = 8 * time.Second
	cfg.RetryableErrors = []error{apperrors.ErrUpstreamUnavailable}
	cfg.Logger = &log
	return cfg
}

type retryingEmbedder struct {
	inner  Embedder
	policy retry.Config
}

// RetryEmbedder wraps e with bounded backoff. maxRetries <= 0 returns e unchanged.
func RetryEmbedder(e Embedder, maxRetries int) Embedder {
	if maxRetries <= 0 {
		return e
	}
	return &retryingEmbedder{inner: e, policy: RetryPolicy(maxRetries)}
}

func (r *retryingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return retry.DoWithResult(ctx, r.policy, func() ([]float64, error) {
		return r.inner.Embed(ctx, text)
	})
}

func (r *retryingEmbedder) Provider() string { return ProviderOf(r.inner) }
func (r *retryingEmbedder) Model() string    { return ModelOf(r.inner) }

type retryingGenerator struct {
	inner  Generator
	policy retry.Config
}

// RetryGenerator wraps g with bounded backoff. maxRetries <= 0 returns g unchanged.
func RetryGenerator(g Generator, maxRetries int) Generator {
	if maxRetries <= 0 {
		return g
	}
	return &retryingGenerator{inner: g, policy: RetryPolicy(maxRetries)}
}

func (r *retryingGenerator) Generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	return retry.DoWithResult(ctx, r.policy, func() (string, error) {
		return r.inner.Generate(ctx, prompt, jsonMode)
	})
}

func (r *retryingGenerator) Provider() string { return ProviderOf(r.inner) }
func (r *retryingGenerator) Model() string    { return ModelOf(r.inner) }

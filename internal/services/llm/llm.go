// Package llm talks to the embedding and text-generation servers.
package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/civictriage/backend/internal/apperrors"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Generator runs a single-turn, stateless completion. With jsonMode the
// result is guaranteed to be exactly one JSON object.
type Generator interface {
	Generate(ctx context.Context, prompt string, jsonMode bool) (string, error)
}

// Describer is implemented by clients that can name their backend.
type Describer interface {
	Provider() string
	Model() string
}

// Options configure one provider client.
type Options struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds every outbound call. Zero means no extra bound.
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// ModelOf returns the model name behind c, or "" if c cannot tell.
func ModelOf(c interface{}) string {
	if d, ok := c.(Describer); ok {
		return d.Model()
	}
	return ""
}

// ProviderOf returns the provider name behind c, or "unknown".
func ProviderOf(c interface{}) string {
	if d, ok := c.(Describer); ok {
		return d.Provider()
	}
	return "unknown"
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classify maps a transport-level failure onto the shared error kinds.
// Anything already classified passes through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrUpstreamUnavailable) ||
		errors.Is(err, apperrors.ErrMalformedResponse) ||
		errors.Is(err, apperrors.ErrInvalidModelOutput) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.Upstream(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.Upstream(op, err)
	}
	if isDecodeError(err) {
		return apperrors.Malformed(op, err)
	}
	return apperrors.Upstream(op, err)
}

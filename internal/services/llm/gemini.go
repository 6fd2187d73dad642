package llm

import (
	"context"
	"fmt"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/pkg/logger"
	"google.golang.org/genai"
)

// GeminiClient serves embeddings and generation from the Gemini API.
type GeminiClient struct {
	client *genai.Client
	opts   Options
}

func NewGemini(ctx context.Context, opts Options) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.httpClient(),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	return &GeminiClient{client: client, opts: opts}, nil
}

func (c *GeminiClient) Provider() string { return "gemini" }
func (c *GeminiClient) Model() string    { return c.opts.Model }

func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.Models.EmbedContent(ctx, c.opts.Model, genai.Text(text), nil)
	if err != nil {
		return nil, classify("gemini embed", err)
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, apperrors.Malformed("gemini embed", fmt.Errorf("no embedding in response"))
	}

	values := resp.Embeddings[0].Values
	vec := make([]float64, len(values))
	for i, x := range values {
		vec[i] = float64(x)
	}
	if err := models.CheckVector(vec); err != nil {
		return nil, apperrors.Malformed("gemini embed", err)
	}
	return vec, nil
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.opts.Temperature)),
	}
	if c.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.opts.MaxTokens)
	}
	if jsonMode {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.opts.Model, genai.Text(prompt), cfg)
	if err != nil {
		return "", classify("gemini generate", err)
	}

	content := resp.Text()
	logger.Debug().Str("provider", "gemini").Int("chars", len(content)).Msg("generation complete")
	if jsonMode {
		return ensureJSON(content)
	}
	return content, nil
}

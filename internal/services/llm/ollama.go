package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient serves both embeddings and generation from an Ollama server.
type OllamaClient struct {
	client *api.Client
	opts   Options
}

func NewOllama(opts Options) (*OllamaClient, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	if opts.Model == "" {
		opts.Model = "llama3"
	}
	return &OllamaClient{
		client: api.NewClient(u, opts.httpClient()),
		opts:   opts,
	}, nil
}

func (c *OllamaClient) Provider() string { return "ollama" }
func (c *OllamaClient) Model() string    { return c.opts.Model }

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  c.opts.Model,
		Prompt: text,
	})
	if err != nil {
		return nil, classify("ollama embeddings", err)
	}
	if err := models.CheckVector(resp.Embedding); err != nil {
		return nil, apperrors.Malformed("ollama embeddings", err)
	}
	return resp.Embedding, nil
}

func (c *OllamaClient) Generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	stream := false
	req := &api.ChatRequest{
		Model:    c.opts.Model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": c.opts.Temperature,
		},
	}
	if jsonMode {
		req.Format = json.RawMessage(`"json"`)
	}

	var content strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", classify("ollama chat", err)
	}

	result := content.String()
	logger.Debug().Str("provider", "ollama").Int("chars", len(result)).Msg("generation complete")
	if jsonMode {
		return ensureJSON(result)
	}
	return result, nil
}

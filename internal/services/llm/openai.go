package llm

import (
	"context"
	"fmt"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/models"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/sashabaranov/go-openai"
)

// OpenAIClient handles OpenAI, OpenAI-compatible endpoints and Azure OpenAI.
type OpenAIClient struct {
	client   *openai.Client
	opts     Options
	provider string
}

func NewOpenAI(opts Options) *OpenAIClient {
	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}
	clientConfig.HTTPClient = opts.httpClient()
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(clientConfig), opts: opts, provider: "openai"}
}

// NewAzure expects BaseURL in the form https://{resource}.openai.azure.com;
// Model is the deployment name.
func NewAzure(opts Options) *OpenAIClient {
	clientConfig := openai.DefaultAzureConfig(opts.APIKey, opts.BaseURL)
	clientConfig.HTTPClient = opts.httpClient()
	return &OpenAIClient{client: openai.NewClientWithConfig(clientConfig), opts: opts, provider: "azure"}
}

func (c *OpenAIClient) Provider() string { return c.provider }
func (c *OpenAIClient) Model() string    { return c.opts.Model }

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.opts.Model),
	})
	if err != nil {
		return nil, classify(c.provider+" embeddings", err)
	}
	if len(resp.Data) == 0 {
		return nil, apperrors.Malformed(c.provider+" embeddings", fmt.Errorf("no embedding data"))
	}

	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, x := range resp.Data[0].Embedding {
		vec[i] = float64(x)
	}
	if err := models.CheckVector(vec); err != nil {
		return nil, apperrors.Malformed(c.provider+" embeddings", err)
	}
	return vec, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(c.opts.Temperature),
	}
	if c.opts.MaxTokens > 0 {
		req.MaxTokens = c.opts.MaxTokens
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(c.provider+" chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.Malformed(c.provider+" chat", fmt.Errorf("no choices in response"))
	}

	content := resp.Choices[0].Message.Content
	logger.Debug().Str("provider", c.provider).Int("chars", len(content)).Int("tokens", resp.Usage.TotalTokens).Msg("generation complete")
	if jsonMode {
		return ensureJSON(content)
	}
	return content, nil
}

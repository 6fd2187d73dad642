package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/civictriage/backend/pkg/logger"
)

const jsonOnlyInstruction = "\n\nRespond with a single JSON object and nothing else."

// AnthropicClient is generation-only; Anthropic has no embedding endpoint.
type AnthropicClient struct {
	client anthropic.Client
	opts   Options
}

func NewAnthropic(opts Options) *AnthropicClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(opts.httpClient()),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Model == "" {
		opts.Model = "claude-sonnet-4-20250514"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	return &AnthropicClient{client: anthropic.NewClient(reqOpts...), opts: opts}
}

func (c *AnthropicClient) Provider() string { return "anthropic" }
func (c *AnthropicClient) Model() string    { return c.opts.Model }

func (c *AnthropicClient) Generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if jsonMode {
		prompt += jsonOnlyInstruction
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.opts.Model),
		MaxTokens:   int64(c.opts.MaxTokens),
		Temperature: anthropic.Float(c.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classify("anthropic messages", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	logger.Debug().Str("provider", "anthropic").Int("chars", len(content)).Msg("generation complete")
	if jsonMode {
		return ensureJSON(content)
	}
	return content, nil
}

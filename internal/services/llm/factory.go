package llm

import (
	"context"
	"fmt"

	"github.com/civictriage/backend/internal/config"
)

// GeneratorOptions derives generation options from the llm section.
func GeneratorOptions(cfg *config.Config) Options {
	return Options{
		Provider:    cfg.LLM.Provider,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout(),
	}
}

// EmbedderOptions derives embedding options, falling back to the llm section
// for connection details when the embedding provider is the same.
func EmbedderOptions(cfg *config.Config) Options {
	provider := cfg.EmbeddingProvider()
	opts := Options{
		Provider: provider,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
		Model:    cfg.Embedding.Model,
		Timeout:  cfg.Embedding.Timeout(),
	}
	if provider == cfg.LLM.Provider {
		if opts.BaseURL == "" {
			opts.BaseURL = cfg.LLM.BaseURL
		}
		if opts.APIKey == "" {
			opts.APIKey = cfg.LLM.APIKey
		}
	}
	return opts
}

func NewGenerator(ctx context.Context, opts Options) (Generator, error) {
	switch opts.Provider {
	case "", "ollama":
		return NewOllama(opts)
	case "openai":
		return NewOpenAI(opts), nil
	case "azure":
		return NewAzure(opts), nil
	case "anthropic":
		return NewAnthropic(opts), nil
	case "gemini":
		return NewGemini(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", opts.Provider)
	}
}

func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	switch opts.Provider {
	case "", "ollama":
		return NewOllama(opts)
	case "openai":
		return NewOpenAI(opts), nil
	case "azure":
		return NewAzure(opts), nil
	case "gemini":
		return NewGemini(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", opts.Provider)
	}
}

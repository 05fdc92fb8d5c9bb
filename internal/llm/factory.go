package llm

import (
	"context"
	"fmt"

	"memoria/internal/config"
	"memoria/internal/llm/anthropic"
	"memoria/internal/llm/google"
	"memoria/internal/llm/openai"
)

// BuildProvider constructs the configured chat Provider. Grounded on the
// teacher's internal/llm/providers/factory.go dispatch.
func BuildProvider(cfg config.Config) (Provider, error) {
	switch cfg.LLMClient.Provider {
	case "", "anthropic":
		return anthropic.New(cfg.LLMClient.Anthropic), nil
	case "openai":
		return openai.New(cfg.LLMClient.OpenAI, cfg.Embeddings.Model, cfg.Embeddings.Dimensions), nil
	case "google":
		return google.New(context.Background(), cfg.LLMClient.Google)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrNoProviderConfigured, cfg.LLMClient.Provider)
	}
}

// BuildEmbedder constructs the configured Embedder. Embeddings may come
// from a different provider than chat (e.g. Anthropic chat + OpenAI
// embeddings), so this is independent of BuildProvider.
func BuildEmbedder(cfg config.Config) (Embedder, error) {
	switch cfg.Embeddings.Provider {
	case "", "openai":
		return openai.New(cfg.LLMClient.OpenAI, cfg.Embeddings.Model, cfg.Embeddings.Dimensions), nil
	case "google":
		return google.New(context.Background(), cfg.LLMClient.Google)
	default:
		return nil, fmt.Errorf("%w: unsupported embeddings provider %q", ErrNoProviderConfigured, cfg.Embeddings.Provider)
	}
}

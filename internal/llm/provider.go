// Package llm is the LLM Gateway: a uniform Provider interface over chat
// backends (internal/llm/anthropic, internal/llm/openai,
// internal/llm/google), an Embedder abstraction, token-usage accounting, and
// the budget gate that sits in front of every Gateway call.
//
// Grounded on the teacher's internal/llm/provider.go Provider shape,
// trimmed of the tool-calling/streaming/image-generation machinery the
// teacher's coding-agent product needs but this domain does not: every
// Gateway call here is a single request/response exchange, optionally
// asking the provider for a single JSON object back (structured
// extraction for enrich/extractFacts/judgeFact).
package llm

import "context"

// Message is one turn in a chat exchange.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Usage reports token consumption for budget gating and cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatResponse is a completed chat call.
type ChatResponse struct {
	Content string
	Usage   Usage
}

// Provider is a single LLM backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, model string, msgs []Message, maxTokens int) (ChatResponse, error)
}

// Embedder produces dense vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Package openai adapts github.com/openai/openai-go/v2 to the llm.Provider
// and llm.Embedder interfaces, grounded on the teacher's
// internal/llm/openai client, trimmed to single-turn chat + embeddings.
package openai

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"memoria/internal/config"
	"memoria/internal/llm"
)

type Client struct {
	sdk          openai.Client
	model        string
	embedModel   string
	dimensions   int
}

func New(cfg config.OpenAIConfig, embedModel string, dimensions int) *Client {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &Client{
		sdk:        openai.NewClient(opts...),
		model:      model,
		embedModel: embedModel,
		dimensions: dimensions,
	}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Chat(ctx context.Context, model string, msgs []llm.Message, maxTokens int) (llm.ChatResponse, error) {
	if model == "" {
		model = c.model
	}
	var converted []openai.ChatCompletionMessageParamUnion
	for _, m := range msgs {
		switch m.Role {
		case "system":
			converted = append(converted, openai.SystemMessage(m.Content))
		case "assistant":
			converted = append(converted, openai.AssistantMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: converted,
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.ChatResponse{}, llm.WrapUpstream("openai", err)
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, llm.WrapUpstream("openai", errEmptyChoices)
	}

	return llm.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (c *Client) Dimensions() int { return c.dimensions }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embedModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, llm.WrapUpstream("openai", err)
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	return out, nil
}

var errEmptyChoices = &emptyChoicesError{}

type emptyChoicesError struct{}

func (e *emptyChoicesError) Error() string { return "no choices returned" }

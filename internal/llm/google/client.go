// Package google adapts google.golang.org/genai to the llm.Provider and
// llm.Embedder interfaces, grounded on the teacher's internal/llm/google
// client, trimmed to single-turn chat + embeddings.
package google

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"memoria/internal/config"
	"memoria/internal/llm"
)

type Client struct {
	sdk        *genai.Client
	model      string
	embedModel string
}

func New(ctx context.Context, cfg config.GoogleConfig) (*Client, error) {
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: strings.TrimSpace(cfg.APIKey)})
	if err != nil {
		return nil, llm.WrapUpstream("google", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Client{sdk: sdk, model: model, embedModel: "text-embedding-004"}, nil
}

func (c *Client) Name() string { return "google" }

func (c *Client) Chat(ctx context.Context, model string, msgs []llm.Message, maxTokens int) (llm.ChatResponse, error) {
	if model == "" {
		model = c.model
	}
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role == "system" {
			sb.WriteString("System: ")
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n\n")
	}

	cfg := &genai.GenerateContentConfig{}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, model, genai.Text(sb.String()), cfg)
	if err != nil {
		return llm.ChatResponse{}, llm.WrapUpstream("google", err)
	}

	text := resp.Text()
	usage := llm.Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return llm.ChatResponse{Content: text, Usage: usage}, nil
}

func (c *Client) Dimensions() int { return 768 }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := c.sdk.Models.EmbedContent(ctx, c.embedModel, contents, nil)
	if err != nil {
		return nil, llm.WrapUpstream("google", err)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

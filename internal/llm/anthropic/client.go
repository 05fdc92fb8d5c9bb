// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// llm.Provider interface, grounded on the teacher's internal/llm/anthropic
// client, trimmed of its extended-thinking/prompt-cache/tool-calling
// machinery since the Gateway only ever issues single-turn chat calls.
package anthropic

import (
	"context"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"memoria/internal/config"
	"memoria/internal/llm"
)

const defaultMaxTokens int64 = 1024

type Client struct {
	sdk   anthropic.Client
	model string
}

func New(cfg config.AnthropicConfig) *Client {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Client{sdk: anthropic.NewClient(opts...), model: model}
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Chat(ctx context.Context, model string, msgs []llm.Message, maxTokens int) (llm.ChatResponse, error) {
	if model == "" {
		model = c.model
	}
	mt := int64(maxTokens)
	if mt <= 0 {
		mt = defaultMaxTokens
	}

	var system string
	var converted []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  converted,
		MaxTokens: mt,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return llm.ChatResponse{}, llm.WrapUpstream("anthropic", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return llm.ChatResponse{
		Content: sb.String(),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

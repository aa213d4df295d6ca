package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicLLM implements Provider against the official Anthropic Go SDK.
type AnthropicLLM struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicLLM constructs an Anthropic-backed Provider. model defaults
// to Claude 3.5 Sonnet when empty.
func NewAnthropicLLM(apiKey, model string) *AnthropicLLM {
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.Model("claude-3-5-sonnet-latest")
	}
	return &AnthropicLLM{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}
}

func (l *AnthropicLLM) Name() string { return "anthropic-llm" }

func (l *AnthropicLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	var system string
	var turns []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     l.model,
		MaxTokens: 1024,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := l.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic llm: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("anthropic llm: empty content in response")
	}
	return resp.Content[0].Text, nil
}

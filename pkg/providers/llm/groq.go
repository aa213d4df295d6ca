package llm

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// GroqLLM implements Provider against Groq's OpenAI-compatible chat
// completions endpoint, reusing the official OpenAI SDK pointed at Groq's
// base URL rather than a hand-rolled HTTP client.
type GroqLLM struct {
	client oai.Client
	model  string
}

// NewGroqLLM constructs a Groq-backed Provider. model defaults to
// llama-3.3-70b-versatile when empty.
func NewGroqLLM(apiKey, model string) *GroqLLM {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return &GroqLLM{
		client: oai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL("https://api.groq.com/openai/v1"),
		),
		model: model,
	}
}

func (l *GroqLLM) Name() string { return "groq-llm" }

func (l *GroqLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(l.model),
		Messages: toOpenAIMessages(messages),
	}

	resp, err := l.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("groq llm: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("groq llm: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

package llm

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAILLM implements Provider against the official OpenAI Go SDK.
type OpenAILLM struct {
	client oai.Client
	model  string
}

// NewOpenAILLM constructs an OpenAI-backed Provider. model defaults to
// gpt-4o-mini when empty.
func NewOpenAILLM(apiKey, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAILLM{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (l *OpenAILLM) Name() string { return "openai-llm" }

func (l *OpenAILLM) Complete(ctx context.Context, messages []Message) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(l.model),
		Messages: toOpenAIMessages(messages),
	}

	resp, err := l.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai llm: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai llm: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case RoleAssistant:
			asst := oai.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = oai.String(m.Content)
			out = append(out, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			out = append(out, oai.UserMessage(m.Content))
		}
	}
	return out
}

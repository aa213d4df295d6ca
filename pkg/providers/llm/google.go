package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GoogleLLM implements Provider against the official google.golang.org/genai
// SDK for Gemini.
type GoogleLLM struct {
	client *genai.Client
	model  string
}

// NewGoogleLLM constructs a Gemini-backed Provider. model defaults to
// gemini-1.5-flash when empty.
func NewGoogleLLM(ctx context.Context, apiKey, model string) (*GoogleLLM, error) {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("google llm: new client: %w", err)
	}
	return &GoogleLLM{client: client, model: model}, nil
}

func (l *GoogleLLM) Name() string { return "google-llm" }

// buildGeminiRequest splits the shared Message history into Gemini's
// contents list plus a separate system instruction, mapping "assistant" to
// Gemini's "model" role as the API requires.
func buildGeminiRequest(messages []Message) (contents []*genai.Content, cfg *genai.GenerateContentConfig) {
	var system string
	contents = make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		}
	}
	return contents, cfg
}

func (l *GoogleLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	contents, cfg := buildGeminiRequest(messages)

	resp, err := l.client.Models.GenerateContent(ctx, l.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("google llm: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("google llm: no response candidates")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

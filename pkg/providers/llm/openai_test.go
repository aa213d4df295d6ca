package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func fakeChatCompletionsServer(t *testing.T, wantContent string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 0,
			"model":   "test-model",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]interface{}{
						"role":    "assistant",
						"content": wantContent,
					},
				},
			},
		})
	}))
}

func TestOpenAILLMComplete(t *testing.T) {
	server := fakeChatCompletionsServer(t, "hello from openai")
	defer server.Close()

	l := &OpenAILLM{
		client: oai.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(server.URL)),
		model:  "gpt-4o-mini",
	}

	resp, err := l.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "hello from openai" {
		t.Errorf("expected 'hello from openai', got '%s'", resp)
	}
	if l.Name() != "openai-llm" {
		t.Errorf("expected openai-llm, got %s", l.Name())
	}
}

func TestNewOpenAILLMDefaultsModel(t *testing.T) {
	l := NewOpenAILLM("key", "")
	if l.model != "gpt-4o-mini" {
		t.Errorf("expected default model gpt-4o-mini, got %s", l.model)
	}
}

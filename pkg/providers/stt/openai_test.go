package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func fakeTranscriptionServer(t *testing.T, wantText string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": wantText})
	}))
}

func TestOpenAISTTTranscribe(t *testing.T) {
	server := fakeTranscriptionServer(t, "transcribed text")
	defer server.Close()

	s := &OpenAISTT{
		client: oai.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(server.URL)),
		model:  "whisper-1",
	}

	text, err := s.transcribe(context.Background(), []byte{0, 0, 0, 0}, Config{SampleRate: 44100, Language: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "transcribed text" {
		t.Errorf("expected 'transcribed text', got '%s'", text)
	}
	if s.Name() != "openai-stt" {
		t.Errorf("expected openai-stt, got %s", s.Name())
	}
}

func TestOpenAISTTOpenProducesBatchStream(t *testing.T) {
	server := fakeTranscriptionServer(t, "hello")
	defer server.Close()

	s := &OpenAISTT{
		client: oai.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(server.URL)),
		model:  "whisper-1",
	}

	stream, err := s.Open(context.Background(), Config{SampleRate: 16000})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	if err := stream.Send(context.Background(), make([]byte, 320)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := stream.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	select {
	case seg := <-stream.Results():
		if seg.Text != "hello" || !seg.IsFinal {
			t.Fatalf("unexpected segment: %+v", seg)
		}
	case err := <-stream.Errors():
		t.Fatalf("unexpected error: %v", err)
	}
}

package stt

import (
	"context"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func TestGroqSTTTranscribe(t *testing.T) {
	server := fakeTranscriptionServer(t, "groq transcription")
	defer server.Close()

	s := &GroqSTT{
		client: oai.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(server.URL)),
		model:  "whisper-large-v3-turbo",
	}

	text, err := s.transcribe(context.Background(), []byte{0}, Config{SampleRate: 44100, Language: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "groq transcription" {
		t.Errorf("expected 'groq transcription', got '%s'", text)
	}
	if s.Name() != "groq-stt" {
		t.Errorf("expected groq-stt, got %s", s.Name())
	}
}

func TestNewGroqSTTDefaultsModel(t *testing.T) {
	s := NewGroqSTT("key", "")
	if s.model != "whisper-large-v3-turbo" {
		t.Errorf("expected default model whisper-large-v3-turbo, got %s", s.model)
	}
}

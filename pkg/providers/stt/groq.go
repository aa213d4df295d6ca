package stt

import (
	"bytes"
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lokutor-ai/voicegateway/pkg/pcm"
)

// GroqSTT implements Provider against Groq's OpenAI-compatible audio
// transcription endpoint, using the official OpenAI SDK pointed at Groq's
// base URL (Groq has no vendor Go SDK of its own; its REST surface mirrors
// OpenAI's exactly).
type GroqSTT struct {
	client oai.Client
	model  string
}

// NewGroqSTT constructs a Groq-backed Provider. model defaults to
// whisper-large-v3-turbo when empty.
func NewGroqSTT(apiKey, model string) *GroqSTT {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqSTT{
		client: oai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL("https://api.groq.com/openai/v1"),
		),
		model: model,
	}
}

func (s *GroqSTT) Name() string { return "groq-stt" }

func (s *GroqSTT) Open(_ context.Context, cfg Config) (Stream, error) {
	return newBatchStream(cfg, s.transcribe), nil
}

func (s *GroqSTT) transcribe(ctx context.Context, audioPCM []byte, cfg Config) (string, error) {
	wav := pcm.WriteWAV(audioPCM, cfg.SampleRate)

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(s.model),
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	}
	if cfg.Language != "" {
		params.Language = oai.String(cfg.Language)
	}

	resp, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("groq stt: %w", err)
	}
	return resp.Text, nil
}

package stt

import (
	"bytes"
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lokutor-ai/voicegateway/pkg/pcm"
)

// OpenAISTT implements Provider against the official OpenAI Go SDK's audio
// transcription endpoint (Whisper).
type OpenAISTT struct {
	client oai.Client
	model  string
}

// NewOpenAISTT constructs an OpenAI Whisper-backed Provider. model
// defaults to whisper-1 when empty.
func NewOpenAISTT(apiKey, model string) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAISTT{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (s *OpenAISTT) Name() string { return "openai-stt" }

func (s *OpenAISTT) Open(_ context.Context, cfg Config) (Stream, error) {
	return newBatchStream(cfg, s.transcribe), nil
}

func (s *OpenAISTT) transcribe(ctx context.Context, audioPCM []byte, cfg Config) (string, error) {
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
		return "", fmt.Errorf("openai stt: %w", err)
	}
	return resp.Text, nil
}

package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/lokutor-ai/voicegateway/pkg/pcm"
)

// WhisperSTT implements Provider against a locally running whisper.cpp
// server (whisper.cpp's own `server` binary, exposing POST /inference).
// It never leaves the machine: there is no vendor API key, which makes it
// the fallback of choice for on-prem or offline deployments. Whisper.cpp's
// HTTP surface is request/response only, so it rides the same batchStream
// plumbing as the Groq/OpenAI/AssemblyAI adapters.
type WhisperSTT struct {
	serverURL string
	model     string
	client    *http.Client
}

// NewWhisperSTT constructs a Provider that POSTs WAV audio to serverURL
// (e.g. "http://localhost:8081"). model is forwarded as a form field and
// left out of the request entirely when empty, letting the server use
// whichever model it was started with.
func NewWhisperSTT(serverURL, model string) *WhisperSTT {
	return &WhisperSTT{
		serverURL: serverURL,
		model:     model,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *WhisperSTT) Name() string { return "whisper-stt" }

func (s *WhisperSTT) Open(_ context.Context, cfg Config) (Stream, error) {
	return newBatchStream(cfg, s.transcribe), nil
}

func (s *WhisperSTT) transcribe(ctx context.Context, audioPCM []byte, cfg Config) (string, error) {
	wav := pcm.WriteWAV(audioPCM, cfg.SampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper stt: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper stt: write wav data: %w", err)
	}
	if cfg.Language != "" {
		if err := mw.WriteField("language", cfg.Language); err != nil {
			return "", fmt.Errorf("whisper stt: write language field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return "", fmt.Errorf("whisper stt: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper stt: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper stt: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper stt: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper stt: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper stt: read response: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper stt: parse response: %w", err)
	}
	return result.Text, nil
}

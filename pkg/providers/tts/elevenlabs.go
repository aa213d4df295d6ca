package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// ElevenLabsTTS implements Provider against ElevenLabs' streaming
// "stream-input" websocket, which speaks a text-in/audio-out JSON protocol
// rather than Lokutor's binary-frame one: audio arrives base64-encoded
// inside a JSON envelope, so the adapter decodes it before handing chunks
// to the engine.
type ElevenLabsTTS struct {
	apiKey string
	model  string
}

// NewElevenLabsTTS constructs an ElevenLabs-backed Provider. model
// defaults to eleven_flash_v2_5 when empty.
func NewElevenLabsTTS(apiKey, model string) *ElevenLabsTTS {
	if model == "" {
		model = "eleven_flash_v2_5"
	}
	return &ElevenLabsTTS{apiKey: apiKey, model: model}
}

func (p *ElevenLabsTTS) Name() string { return "elevenlabs-tts" }

func (p *ElevenLabsTTS) Open(ctx context.Context, cfg Config) (Stream, error) {
	outputFormat := fmt.Sprintf("pcm_%d", cfg.OutputSampleRate)
	if cfg.OutputSampleRate == 0 {
		outputFormat = "pcm_16000"
	}
	url := fmt.Sprintf("wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s", cfg.VoiceID, p.model)

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs tts: dial: %w", err)
	}

	boi := elevenLabsMessage{
		Text:          " ",
		VoiceSettings: &elevenLabsVoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XiAPIKey:      p.apiKey,
		OutputFormat:  outputFormat,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs tts: send BOI: %w", err)
	}

	return &elevenLabsStream{conn: conn}, nil
}

type elevenLabsMessage struct {
	Text          string                   `json:"text"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string                   `json:"xi_api_key,omitempty"`
	OutputFormat  string                   `json:"output_format,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

type elevenLabsStream struct {
	conn   *websocket.Conn
	chunks chan Chunk
	done   chan error
}

func (s *elevenLabsStream) Synthesize(ctx context.Context, text string) error {
	msg := elevenLabsMessage{Text: text}
	b, _ := json.Marshal(msg)
	if err := s.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("elevenlabs tts: send text: %w", err)
	}
	// Flush: an empty text field signals end-of-utterance to ElevenLabs.
	flush, _ := json.Marshal(elevenLabsMessage{Text: ""})
	if err := s.conn.Write(ctx, websocket.MessageText, flush); err != nil {
		return fmt.Errorf("elevenlabs tts: send flush: %w", err)
	}

	chunks := make(chan Chunk, 16)
	done := make(chan error, 1)
	s.chunks = chunks
	s.done = done
	go s.pump(ctx, chunks, done)
	return nil
}

func (s *elevenLabsStream) pump(ctx context.Context, chunks chan Chunk, done chan error) {
	defer close(chunks)
	for {
		_, raw, err := s.conn.Read(ctx)
		if err != nil {
			done <- fmt.Errorf("elevenlabs tts: read: %w", err)
			return
		}
		var resp elevenLabsResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil {
				chunks <- Chunk{Audio: pcm}
			}
		}
		if resp.IsFinal {
			done <- nil
			return
		}
	}
}

func (s *elevenLabsStream) Chunks() <-chan Chunk { return s.chunks }
func (s *elevenLabsStream) Done() <-chan error   { return s.done }

// Ping uses the same underlying websocket ping ElevenLabs' own
// documentation recommends for connections idle between utterances.
func (s *elevenLabsStream) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return fmt.Errorf("elevenlabs tts: ping: %w", err)
	}
	return nil
}

func (s *elevenLabsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

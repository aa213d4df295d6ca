package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// LokutorTTS implements Provider against Lokutor's streaming synthesis
// websocket. One underlying connection is kept open across utterances
// (per Stream) and reused by the engine's keepalive ping, matching the
// provider's own preference for a long-lived socket over per-utterance
// dials.
type LokutorTTS struct {
	apiKey string
	host   string
	// scheme defaults to "wss"; overridable so tests can dial a plain-ws
	// httptest server instead of requiring TLS.
	scheme string
}

// NewLokutorTTS constructs a Lokutor-backed Provider.
func NewLokutorTTS(apiKey string) *LokutorTTS {
	return &LokutorTTS{apiKey: apiKey, host: "api.lokutor.com", scheme: "wss"}
}

func (t *LokutorTTS) Name() string { return "lokutor-tts" }

func (t *LokutorTTS) Open(ctx context.Context, cfg Config) (Stream, error) {
	scheme := t.scheme
	if scheme == "" {
		scheme = "wss"
	}
	s := &lokutorStream{apiKey: t.apiKey, host: t.host, scheme: scheme, cfg: cfg}
	if err := s.dial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type lokutorStream struct {
	apiKey string
	host   string
	scheme string
	cfg    Config

	mu     sync.Mutex
	conn   *websocket.Conn
	chunks chan Chunk
	done   chan error
}

func (s *lokutorStream) dial(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	u := url.URL{Scheme: s.scheme, Host: s.host, Path: "/ws", RawQuery: "api_key=" + s.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("lokutor tts: dial: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *lokutorStream) Synthesize(ctx context.Context, text string) error {
	if err := s.dial(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	speed := s.cfg.Speed
	if speed == 0 {
		speed = 1.0
	}
	req := map[string]interface{}{
		"text":    text,
		"voice":   s.cfg.VoiceID,
		"lang":    s.cfg.Language,
		"speed":   speed,
		"steps":   5,
		"version": "versa-1.0",
	}
	chunks := make(chan Chunk, 16)
	done := make(chan error, 1)
	s.chunks = chunks
	s.done = done
	s.mu.Unlock()

	if err := wsjson.Write(ctx, conn, req); err != nil {
		s.invalidate()
		return fmt.Errorf("lokutor tts: send request: %w", err)
	}

	go s.pump(ctx, conn, chunks, done)
	return nil
}

func (s *lokutorStream) pump(ctx context.Context, conn *websocket.Conn, chunks chan Chunk, done chan error) {
	defer close(chunks)
	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			s.invalidate()
			done <- fmt.Errorf("lokutor tts: read: %w", err)
			return
		}
		switch messageType {
		case websocket.MessageBinary:
			chunks <- Chunk{Audio: payload}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				done <- nil
				return
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				done <- fmt.Errorf("lokutor tts: provider error: %s", msg)
				return
			}
		}
	}
}

func (s *lokutorStream) Chunks() <-chan Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

func (s *lokutorStream) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Ping performs a protocol-level websocket ping, Lokutor's cheapest
// keepalive: it never triggers synthesis and costs one round trip.
func (s *lokutorStream) Ping(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("lokutor tts: not connected")
	}
	if err := conn.Ping(ctx); err != nil {
		s.invalidate()
		return fmt.Errorf("lokutor tts: ping: %w", err)
	}
	return nil
}

func (s *lokutorStream) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close(websocket.StatusAbnormalClosure, "lokutor stream error")
		s.conn = nil
	}
}

func (s *lokutorStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close(websocket.StatusNormalClosure, "")
		s.conn = nil
		return err
	}
	return nil
}

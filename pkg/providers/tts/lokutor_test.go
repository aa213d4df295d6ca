package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestLokutorTTS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		conn.Write(r.Context(), websocket.MessageBinary, []byte{4, 5, 6})
		conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
	defer server.Close()

	provider := &LokutorTTS{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
	}
	if provider.Name() != "lokutor-tts" {
		t.Errorf("expected lokutor-tts, got %s", provider.Name())
	}

	stream, err := provider.Open(context.Background(), Config{VoiceID: "f1", Language: "en"})
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer stream.Close()

	if err := stream.Synthesize(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected synthesize error: %v", err)
	}

	var audio []byte
	chunks := stream.Chunks()
	done := stream.Done()
	for chunks != nil || done != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			audio = append(audio, c.Audio...)
		case err, ok := <-done:
			if !ok {
				done = nil
				continue
			}
			if err != nil {
				t.Fatalf("unexpected stream error: %v", err)
			}
			done = nil
		}
	}

	if len(audio) != 6 {
		t.Errorf("expected 6 bytes, got %d", len(audio))
	}
}

func TestLokutorTTS_DialFailureSurfacesError(t *testing.T) {
	provider := &LokutorTTS{apiKey: "test-key", host: "127.0.0.1:1"}
	if _, err := provider.Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected dial error against an unreachable host")
	}
}

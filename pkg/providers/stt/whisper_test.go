package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fakeWhisperServer(t *testing.T, wantText string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": wantText})
	}))
}

func TestWhisperSTTTranscribe(t *testing.T) {
	server := fakeWhisperServer(t, "local transcription")
	defer server.Close()

	s := NewWhisperSTT(server.URL, "")
	text, err := s.transcribe(context.Background(), make([]byte, 320), Config{SampleRate: 16000, Language: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "local transcription" {
		t.Errorf("expected 'local transcription', got %q", text)
	}
	if s.Name() != "whisper-stt" {
		t.Errorf("expected whisper-stt, got %s", s.Name())
	}
}

func TestWhisperSTTOpenProducesBatchStream(t *testing.T) {
	server := fakeWhisperServer(t, "hello")
	defer server.Close()

	s := NewWhisperSTT(server.URL, "base.en")
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

func TestWhisperSTTServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := NewWhisperSTT(server.URL, "")
	_, err := s.transcribe(context.Background(), make([]byte, 320), Config{SampleRate: 16000})
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

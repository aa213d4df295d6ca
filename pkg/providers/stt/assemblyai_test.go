package stt

import "testing"

func TestAssemblyAISTTName(t *testing.T) {
	s := NewAssemblyAISTT("test-key")
	if s.Name() != "assemblyai-stt" {
		t.Errorf("expected assemblyai-stt, got %s", s.Name())
	}
}

func TestAssemblyAISTTOpenProducesBatchStream(t *testing.T) {
	s := NewAssemblyAISTT("test-key")
	stream, err := s.Open(nil, Config{SampleRate: 16000})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if stream == nil {
		t.Fatal("expected a non-nil stream")
	}
	stream.Close()
}

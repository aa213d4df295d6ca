package tts

import (
	"context"
	"sync"
)

// EchoTTS is a loopback Provider: instead of synthesizing speech, it
// replays a captured buffer of input audio set via SetEchoAudio. It exists
// so the TTS Engine can be exercised without a live vendor and without a
// branch anywhere in the Orchestrator or Gateway — they only ever see a
// TtsProvider.
type EchoTTS struct {
	mu        sync.Mutex
	audio     []byte
	chunkSize int
}

// NewEchoTTS constructs a loopback Provider. chunkSize controls how the
// replayed audio is sliced into Chunk deliveries; it defaults to 3200
// bytes (100ms of 16kHz mono PCM16) when zero or negative.
func NewEchoTTS(chunkSize int) *EchoTTS {
	if chunkSize <= 0 {
		chunkSize = 3200
	}
	return &EchoTTS{chunkSize: chunkSize}
}

func (e *EchoTTS) Name() string { return "echo-tts" }

// SetEchoAudio replaces the buffer replayed by every subsequent Open/
// Synthesize, so a caller can feed it captured microphone audio. Until it
// is called the buffer is empty.
func (e *EchoTTS) SetEchoAudio(audio []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audio = audio
}

func (e *EchoTTS) Open(_ context.Context, _ Config) (Stream, error) {
	e.mu.Lock()
	audio := e.audio
	e.mu.Unlock()
	return &echoStream{source: e, audio: audio, chunkSize: e.chunkSize}, nil
}

type echoStream struct {
	source    *EchoTTS
	audio     []byte
	chunkSize int
	chunks    chan Chunk
	done      chan error
}

func (s *echoStream) Synthesize(_ context.Context, _ string) error {
	s.chunks = make(chan Chunk, 16)
	s.done = make(chan error, 1)
	go func() {
		defer close(s.chunks)
		for i := 0; i < len(s.audio); i += s.chunkSize {
			end := i + s.chunkSize
			if end > len(s.audio) {
				end = len(s.audio)
			}
			s.chunks <- Chunk{Audio: s.audio[i:end]}
		}
		s.done <- nil
	}()
	return nil
}

func (s *echoStream) Chunks() <-chan Chunk         { return s.chunks }
func (s *echoStream) Done() <-chan error           { return s.done }
func (s *echoStream) Ping(_ context.Context) error { return nil }
func (s *echoStream) Close() error                 { return nil }

// Package tts defines the TtsProvider capability consumed by the TTS
// Engine and the vendor adapters that implement it. Every adapter presents
// a per-utterance streaming Stream, so the engine's state machine and
// keepalive/reconnection logic never branches on vendor capability.
package tts

import "context"

// Config carries the per-session parameters the TTS Engine opens a
// connection with.
type Config struct {
	VoiceID          string
	Language         string
	Speed            float64
	OutputSampleRate int
	Encoding         string
}

// Chunk is one piece of synthesized audio delivered by the provider, in
// provider-native sample rate (OutputSampleRate in Config).
type Chunk struct {
	Audio []byte
}

// Stream is a single session's live connection to a TTS vendor. One Stream
// serves at most one utterance at a time; the engine opens a new Stream
// (or reuses a kept-alive connection) per synthesize call depending on the
// adapter's own keepalive semantics.
type Stream interface {
	// Synthesize submits one utterance's text for synthesis. Non-blocking:
	// audio arrives on Chunks.
	Synthesize(ctx context.Context, text string) error
	// Chunks delivers audio chunks in emission order, closed when the
	// current utterance completes.
	Chunks() <-chan Chunk
	// Done signals utterance completion (success) with no error, or
	// delivers the terminal error for this utterance.
	Done() <-chan error
	// Ping performs one low-cost keepalive round-trip. Returns an error if
	// the connection is no longer usable.
	Ping(ctx context.Context) error
	// Close tears down the upstream connection.
	Close() error
}

// Provider opens per-session Streams against one vendor.
type Provider interface {
	Name() string
	Open(ctx context.Context, cfg Config) (Stream, error)
}

// Package stt defines the SttProvider capability consumed by the STT
// Engine and the vendor adapters that implement it. Every adapter —
// whether genuinely streaming (Deepgram) or fundamentally batch (Groq,
// OpenAI Whisper, AssemblyAI, local whisper.cpp) — is presented through the
// same streaming open/send/close shape, so the engine never branches on
// vendor capability.
package stt

import (
	"context"
	"time"
)

// Segment is one hypothesis emitted by the upstream provider: either an
// overwritable interim guess or a committed final utterance.
type Segment struct {
	Text       string
	Confidence float64
	IsFinal    bool
	Timestamp  time.Time
}

// Config carries the per-session parameters the STT Engine opens a stream
// with. Audio handed to Send is always already resampled to 16kHz mono
// 16-bit PCM; the engine never asks a provider to resample.
type Config struct {
	SampleRate int
	Language   string
	Model      string
}

// Stream is a single session's live connection to a provider.
type Stream interface {
	// Send forwards one chunk of 16kHz PCM16 audio upstream.
	Send(ctx context.Context, pcm []byte) error
	// Finalize signals end-of-utterance without closing the connection: for
	// a genuinely streaming provider this is a quiescence hint; for a batch
	// provider this is what actually triggers transcription. Either way, the
	// resulting Segment(s) arrive on Results.
	Finalize(ctx context.Context) error
	// Results delivers interim and final segments as they become available.
	Results() <-chan Segment
	// Errors delivers classified upstream errors (see voiceerr.Kind).
	Errors() <-chan error
	// Close tears down the upstream connection.
	Close() error
}

// Provider opens per-session Streams against one vendor.
type Provider interface {
	Name() string
	Open(ctx context.Context, cfg Config) (Stream, error)
}

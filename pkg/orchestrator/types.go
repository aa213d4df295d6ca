package orchestrator

import (
	"context"
	"time"

	"github.com/lokutor-ai/voicegateway/pkg/llmengine"
	"github.com/lokutor-ai/voicegateway/pkg/providers/stt"
	"github.com/lokutor-ai/voicegateway/pkg/providers/tts"
	"github.com/lokutor-ai/voicegateway/pkg/ttsengine"
	"github.com/lokutor-ai/voicegateway/pkg/wire"
)

// Sink is the outbound half of one channel's scope: a cancellable task with
// an outbound chunk sink, per the design note replacing the source's
// promise-chain response streaming. Send is safe-send: implementations
// must drop (and log) rather than block when the underlying channel is not
// open.
type Sink interface {
	Send(f wire.Frame)
}

// SttEngine is the narrow capability the Orchestrator drives, letting
// tests inject a fake instead of pkg/sttengine.Engine directly.
type SttEngine interface {
	Create(ctx context.Context, sessionID string, cfg stt.Config) error
	Forward(ctx context.Context, sessionID string, audio []byte)
	Finalize(ctx context.Context, sessionID string) (string, error)
	End(sessionID string)
}

// TtsEngine is the narrow capability the Orchestrator drives for synthesis.
type TtsEngine interface {
	Create(ctx context.Context, sessionID string, cfg tts.Config) error
	Events(sessionID string) (<-chan ttsengine.Event, bool)
	Synthesize(ctx context.Context, sessionID, text string) (string, error)
	Cancel(sessionID string)
	State(sessionID string) (ttsengine.State, bool)
	End(sessionID string)
}

// LlmEngine is the narrow capability the Orchestrator drives for response
// generation.
type LlmEngine interface {
	Initialize(sessionID string)
	Generate(ctx context.Context, sessionID, userText string) (llmengine.Response, error)
	End(sessionID string)
}

// Metrics is the narrow telemetry capability the Orchestrator reports
// session lifecycle and engine counters through, letting tests inject a
// no-op instead of pkg/telemetry.Metrics directly.
type Metrics interface {
	RecordSessionCreated(ctx context.Context)
	RecordSessionEnded(ctx context.Context)
	RecordSttReconnections(ctx context.Context, sessionID string, n int)
	RecordTtsReconnections(ctx context.Context, sessionID string, n int)
	RecordTtsBufferOverflows(ctx context.Context, sessionID string, n int)
	RecordLlmFallback(ctx context.Context, sessionID string, tier int)
}

// noopMetrics satisfies Metrics for callers that don't wire telemetry.
type noopMetrics struct{}

func (noopMetrics) RecordSessionCreated(context.Context)                {}
func (noopMetrics) RecordSessionEnded(context.Context)                  {}
func (noopMetrics) RecordSttReconnections(context.Context, string, int) {}
func (noopMetrics) RecordTtsReconnections(context.Context, string, int) {}
func (noopMetrics) RecordTtsBufferOverflows(context.Context, string, int) {}
func (noopMetrics) RecordLlmFallback(context.Context, string, int)      {}

// Config carries the timeouts for the per-frame control flow the
// Orchestrator owns.
type Config struct {
	ConnectionOpenTimeout  time.Duration
	ProviderMessageTimeout time.Duration
	SynthesisTimeout       time.Duration
	ResponseDeadline       time.Duration
	ChannelCloseGrace      time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectionOpenTimeout:  10 * time.Second,
		ProviderMessageTimeout: 5 * time.Second,
		SynthesisTimeout:       30 * time.Second,
		ResponseDeadline:       20 * time.Second,
		ChannelCloseGrace:      5 * time.Second,
	}
}

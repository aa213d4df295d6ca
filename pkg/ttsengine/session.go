// Package ttsengine implements the TTS Engine: a per-session state machine
// in front of a tts.Provider, with keepalive, reconnection buffering, and
// text validation. It generalizes a single playback call per turn against
// a local speaker into a long-lived provider connection whose audio chunks
// are delivered as events for the Gateway to frame and forward.
package ttsengine

import (
	"sync"
	"time"

	"github.com/lokutor-ai/voicegateway/pkg/providers/tts"
)

// State is the per-utterance state machine the engine drives through. Any
// transition not explicitly implemented by the engine is rejected and
// logged.
type State int

const (
	Idle State = iota
	Generating
	Streaming
	Completed
	Cancelled
	Error
)

func (s State) String() string {
	switch s {
	case Generating:
		return "generating"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// EventType tags the variant of an Event.
type EventType int

const (
	EventStart EventType = iota
	EventChunk
	EventComplete
	EventCancelled
	EventError
)

// Event is one outward notification the TTS Engine emits for a session,
// carrying everything the Gateway needs to frame a response.start,
// response.chunk, or response.complete message.
type Event struct {
	Type        EventType
	SessionID   string
	UtteranceID string
	Audio       []byte
	SampleRate  int
	Err         error
}

// bufferedUtterance is one pending submission held in reconnectionBuffer
// while connectionState = Disconnected.
type bufferedUtterance struct {
	utteranceID string
	text        string
}

// Metrics are the per-session counters reported for the TTS Engine.
type Metrics struct {
	TextsSynthesized                int
	ChunksGenerated                 int
	SynthesisErrors                 int
	ConnectionErrors                int
	Reconnections                   int
	BufferedTextsDuringReconnection int
	BufferOverflows                 int
}

// sessionState is the TTS Engine's private per-session state. All fields
// are guarded by mu.
type sessionState struct {
	mu sync.Mutex

	sessionID string
	cfg       tts.Config

	state     State
	connected bool
	stream    tts.Stream

	utteranceID  string
	utteranceGen int // invalidates stale pump goroutines after cancel/reconnect

	reconnectBuffer    []bufferedUtterance
	reconnectBufferLen int

	reconnectAttempts int

	metrics Metrics

	events chan Event

	closing bool

	cancelUtterance func()
	quiescence      *time.Timer

	scopeCancel func()
}

func newSessionState(sessionID string, cfg tts.Config) *sessionState {
	return &sessionState{
		sessionID: sessionID,
		cfg:       cfg,
		state:     Idle,
		events:    make(chan Event, 64),
	}
}

func (s *sessionState) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Slow consumer: drop rather than block the pump goroutine. The
		// Gateway is expected to drain Events promptly.
	}
}

package sttengine

import (
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/voicegateway/pkg/providers/stt"
)

// ConnectionState tracks the STT provider connection: Connecting ->
// Connected; a dropped stream moves to Disconnected while ReconnectDelays
// runs, then back to Connected or on to Error; terminal Error removes retry
// scheduling.
type ConnectionState int

const (
	Connecting ConnectionState = iota
	Connected
	Disconnected
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Error:
		return "error"
	default:
		return "connecting"
	}
}

// maxTranscriptLen is the accumulatedTranscript cap.
const maxTranscriptLen = 50000

// maxSegments bounds the per-session segment ring; the oldest entries are
// evicted once the ring is full.
const maxSegments = 128

// Metrics are the per-session counters reported for the STT Engine.
type Metrics struct {
	ChunksReceived      int
	ChunksForwarded     int
	TranscriptsReceived int
	Errors              int
	Reconnections       int
}

// sessionState is the STT Engine's private per-session state. All fields
// are guarded by the owning session's mu.
type sessionState struct {
	mu sync.Mutex

	sessionID string
	cfg       stt.Config

	connState ConnectionState
	stream    stt.Stream

	accumulated string
	interim     string
	segments    []stt.Segment

	retryCount        int
	lastRetryTime     time.Time
	reconnectAttempts int

	metrics Metrics

	closing bool

	cancel func()
}

// recordSegment appends one upstream hypothesis to the bounded ring.
func (s *sessionState) recordSegment(seg stt.Segment) {
	s.segments = append(s.segments, seg)
	if len(s.segments) > maxSegments {
		s.segments = s.segments[len(s.segments)-maxSegments:]
	}
}

// appendFinal folds one final segment into accumulatedTranscript: a
// trailing space after the appended text, capped at maxTranscriptLen with
// the oldest whole words trimmed from the front to make room
// (utterance-boundary aligned, never splitting mid-word).
func (s *sessionState) appendFinal(text string) {
	s.interim = ""
	if text == "" {
		return
	}
	s.accumulated += text + " "
	if len(s.accumulated) <= maxTranscriptLen {
		return
	}
	overflow := len(s.accumulated) - maxTranscriptLen
	trimmed := s.accumulated[overflow:]
	if sp := strings.IndexByte(trimmed, ' '); sp >= 0 {
		trimmed = trimmed[sp+1:]
	}
	s.accumulated = trimmed
}

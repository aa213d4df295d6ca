// Package session implements the Session Registry: it maps a channel's
// connectionId to its Session, assigns each session a time-ordered
// sessionId, and owns the session's idle/duration lifecycle timers.
package session

import (
	"time"

	"github.com/google/uuid"
)

// State is the session's lifecycle state.
type State int

const (
	Idle State = iota
	Active
	Ended
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Ended:
		return "ended"
	default:
		return "idle"
	}
}

// Metadata captures the per-connection attributes a channel carries.
type Metadata struct {
	SamplingRate  int
	VoiceID       string
	Language      string
	RemoteAddress string
	UserAgent     string
}

// EngineMetrics is the point-in-time snapshot returned by Registry.Snapshot,
// one field group per engine, generalizing a set of ad hoc counters tracked
// inline on a connection struct into a structured, queryable shape.
type EngineMetrics struct {
	SttReconnections   int
	TtsReconnections   int
	TtsBufferOverflows int
	LlmFallbackCount   int
}

// Session is the registry's unit of state. All mutation happens through
// Registry methods, which hold the registry-wide lock for the duration of
// the read-modify-write; Session itself has no internal lock, so it must
// never be mutated outside the Registry.
type Session struct {
	ConnectionID string
	SessionID    string
	State        State
	Metadata     Metadata

	CreatedAt      time.Time
	LastActivityAt time.Time

	SttAttached bool
	TtsAttached bool
	LlmAttached bool

	Metrics EngineMetrics
}

// New constructs a Session for a freshly accepted connection. sessionId is
// a UUIDv7: a 128-bit, time-ordered, sortable identifier, satisfying the
// registry's "monotonic, 128-bit" requirement without a hand-rolled scheme.
func New(connectionID string, meta Metadata) (*Session, error) {
	sid, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		ConnectionID:   connectionID,
		SessionID:      sid.String(),
		State:          Idle,
		Metadata:       meta,
		CreatedAt:      now,
		LastActivityAt: now,
	}, nil
}

// NewConnectionID generates a fresh opaque connection identifier.
func NewConnectionID() string {
	return uuid.NewString()
}

func (s *Session) clone() *Session {
	cp := *s
	return &cp
}

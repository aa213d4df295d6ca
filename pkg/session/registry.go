package session

import (
	"sync"
	"time"

	"github.com/lokutor-ai/voicegateway/pkg/logging"
)

// Registry owns every live Session, keyed both by connectionId (the
// primary key) and sessionId (a reverse index for O(1) correlation lookup
// from frames, which only ever carry sessionId after the handshake).
type Registry struct {
	mu sync.Mutex

	byConnection map[string]*Session
	bySession    map[string]string // sessionId -> connectionId

	idleTimeout     time.Duration
	maxDuration     time.Duration
	cleanupInterval time.Duration

	logger logging.Logger

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// Option configures a Registry at construction time.
type Option func(*Registry)

func WithIdleTimeout(d time.Duration) Option     { return func(r *Registry) { r.idleTimeout = d } }
func WithMaxDuration(d time.Duration) Option     { return func(r *Registry) { r.maxDuration = d } }
func WithCleanupInterval(d time.Duration) Option { return func(r *Registry) { r.cleanupInterval = d } }
func WithLogger(l logging.Logger) Option         { return func(r *Registry) { r.logger = l } }

// NewRegistry constructs a Registry with the protocol's documented
// defaults (30 min idle timeout, 2h max duration, 5 min sweep interval),
// overridable via Option.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byConnection:    make(map[string]*Session),
		bySession:       make(map[string]string),
		idleTimeout:     30 * time.Minute,
		maxDuration:     2 * time.Hour,
		cleanupInterval: 5 * time.Minute,
		logger:          logging.NoOpLogger{},
		stopSweep:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create creates a new session for connectionId. If one already exists for
// that connection, the existing session is returned instead (the registry
// never silently replaces live state).
func (r *Registry) Create(connectionID string, meta Metadata) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byConnection[connectionID]; ok {
		return existing.clone(), nil
	}

	s, err := New(connectionID, meta)
	if err != nil {
		return nil, err
	}
	r.byConnection[connectionID] = s
	r.bySession[s.SessionID] = connectionID
	return s.clone(), nil
}

// Get returns a copy of the session for connectionId, or nil if absent.
func (r *Registry) Get(connectionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConnection[connectionID]
	if !ok {
		return nil
	}
	return s.clone()
}

// GetBySessionID resolves the reverse index to find a session by its
// client-facing sessionId.
func (r *Registry) GetBySessionID(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.bySession[sessionID]
	if !ok {
		return nil
	}
	s, ok := r.byConnection[connID]
	if !ok {
		return nil
	}
	return s.clone()
}

// UpdateState atomically transitions the session's state and touches its
// activity timestamp in one critical section.
func (r *Registry) UpdateState(connectionID string, state State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConnection[connectionID]
	if !ok {
		return false
	}
	s.State = state
	s.LastActivityAt = time.Now()
	return true
}

// Touch updates lastActivityAt without changing state. Called on every
// received frame and every engine interaction.
func (r *Registry) Touch(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byConnection[connectionID]; ok {
		s.LastActivityAt = time.Now()
	}
}

// SetAttached records whether an engine successfully created per-session
// sub-state at channel open, driving conditional cleanup on close.
func (r *Registry) SetAttached(connectionID string, stt, tts, llm *bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConnection[connectionID]
	if !ok {
		return
	}
	if stt != nil {
		s.SttAttached = *stt
	}
	if tts != nil {
		s.TtsAttached = *tts
	}
	if llm != nil {
		s.LlmAttached = *llm
	}
}

// Mutate runs fn against the live session under the registry's lock,
// giving callers an atomic read-modify-write without exposing the lock.
func (r *Registry) Mutate(connectionID string, fn func(*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConnection[connectionID]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// Delete removes a session and its reverse-index entry.
func (r *Registry) Delete(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConnection[connectionID]
	if !ok {
		return
	}
	delete(r.bySession, s.SessionID)
	delete(r.byConnection, connectionID)
}

// Snapshot returns a copy of a session's engine metrics, or nil if the
// session is not present.
func (r *Registry) Snapshot(sessionID string) *EngineMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.bySession[sessionID]
	if !ok {
		return nil
	}
	s, ok := r.byConnection[connID]
	if !ok {
		return nil
	}
	m := s.Metrics
	return &m
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConnection)
}

// StartSweep launches the periodic cleanup goroutine that evicts sessions
// exceeding maxDuration or idleTimeout. Stop must be called to release it.
func (r *Registry) StartSweep() {
	go func() {
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-r.stopSweep:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine. Idempotent.
func (r *Registry) Stop() {
	r.sweepOnce.Do(func() { close(r.stopSweep) })
}

func (r *Registry) sweep() {
	now := time.Now()
	var expired []string

	r.mu.Lock()
	for connID, s := range r.byConnection {
		if now.Sub(s.CreatedAt) > r.maxDuration || now.Sub(s.LastActivityAt) > r.idleTimeout {
			expired = append(expired, connID)
		}
	}
	for _, connID := range expired {
		if s, ok := r.byConnection[connID]; ok {
			delete(r.bySession, s.SessionID)
		}
		delete(r.byConnection, connID)
	}
	r.mu.Unlock()

	if len(expired) > 0 {
		r.logger.Info("session: swept expired sessions", "count", len(expired))
	}
}

package ttsengine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lokutor-ai/voicegateway/pkg/logging"
	"github.com/lokutor-ai/voicegateway/pkg/pcm"
	"github.com/lokutor-ai/voicegateway/pkg/providers/tts"
	"github.com/lokutor-ai/voicegateway/pkg/voiceerr"
)

// Config tunes the engine's keepalive, reconnection, and text-limit
// policy. Zero values fall back to Default().
type Config struct {
	PingInterval    time.Duration
	ReconnectDelays []time.Duration
	BufferCap       int
	QuiescenceReset time.Duration
	MaxTextLen      int
	ClientRate      int
}

func Default() Config {
	return Config{
		PingInterval:    8 * time.Second,
		ReconnectDelays: []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond, 2000 * time.Millisecond},
		BufferCap:       1 << 20,
		QuiescenceReset: 500 * time.Millisecond,
		MaxTextLen:      5000,
		ClientRate:      16000,
	}
}

// Engine owns every session's TTS state machine and drives it against an
// injected tts.Provider, generalizing a direct synthesize-to-speaker call
// into an explicit capability handle with its own reconnection and
// keepalive policy.
type Engine struct {
	provider tts.Provider
	cfg      Config
	logger   logging.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func New(provider tts.Provider, cfg Config, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	d := Default()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}
	if len(cfg.ReconnectDelays) == 0 {
		cfg.ReconnectDelays = d.ReconnectDelays
	}
	if cfg.BufferCap <= 0 {
		cfg.BufferCap = d.BufferCap
	}
	if cfg.QuiescenceReset <= 0 {
		cfg.QuiescenceReset = d.QuiescenceReset
	}
	if cfg.MaxTextLen <= 0 {
		cfg.MaxTextLen = d.MaxTextLen
	}
	if cfg.ClientRate <= 0 {
		cfg.ClientRate = d.ClientRate
	}
	return &Engine{provider: provider, cfg: cfg, logger: logger, sessions: make(map[string]*sessionState)}
}

// Create opens sessionID's provider connection. A failed initial dial is
// not fatal: the session is registered Disconnected, submissions queue in
// reconnectBuffer, and the reconnect loop keeps retrying per
// ReconnectDelays.
func (e *Engine) Create(ctx context.Context, sessionID string, cfg tts.Config) error {
	s := newSessionState(sessionID, cfg)
	sctx, cancel := context.WithCancel(context.Background())
	s.scopeCancel = cancel

	e.mu.Lock()
	e.sessions[sessionID] = s
	e.mu.Unlock()

	stream, err := e.provider.Open(ctx, cfg)
	if err != nil {
		e.logger.Warn("ttsengine: initial connect failed, will retry", "sessionId", sessionID, "err", err)
		go e.reconnectLoop(sctx, s)
		return nil
	}

	s.mu.Lock()
	s.stream = stream
	s.connected = true
	s.mu.Unlock()

	go e.keepaliveLoop(sctx, s)
	return nil
}

// Events returns sessionID's outward event channel, or false if absent.
func (e *Engine) Events(sessionID string) (<-chan Event, bool) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return s.events, true
}

// Synthesize validates and submits text for sessionID. Non-blocking:
// progress is observed on the session's Events channel. When disconnected,
// the text is queued in reconnectBuffer instead, subject to BufferCap.
func (e *Engine) Synthesize(ctx context.Context, sessionID, text string) (utteranceID string, err error) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return "", voiceerr.ErrSessionNotFound
	}

	text, verr := validateText(text, e.cfg.MaxTextLen)
	if verr != nil {
		return "", voiceerr.Classify(voiceerr.Fatal, "ttsengine: synthesize", verr)
	}

	uttID := uuid.NewString()

	s.mu.Lock()
	if !s.connected {
		if s.reconnectBufferLen+len(text) > e.cfg.BufferCap {
			s.metrics.BufferOverflows++
			s.mu.Unlock()
			return "", voiceerr.Classify(voiceerr.Retryable, "ttsengine: synthesize", voiceerr.ErrBufferOverflow)
		}
		s.reconnectBuffer = append(s.reconnectBuffer, bufferedUtterance{utteranceID: uttID, text: text})
		s.reconnectBufferLen += len(text)
		s.metrics.BufferedTextsDuringReconnection++
		s.mu.Unlock()
		return uttID, nil
	}
	if s.state != Idle {
		s.mu.Unlock()
		e.logger.Warn("ttsengine: rejected synthesize, utterance already active", "sessionId", sessionID, "state", s.state.String())
		return "", fmt.Errorf("ttsengine: session %s is %s, not idle", sessionID, s.state.String())
	}
	stream := s.stream
	s.state = Generating
	s.utteranceID = uttID
	s.utteranceGen++
	gen := s.utteranceGen
	uctx, ucancel := context.WithCancel(context.Background())
	s.cancelUtterance = ucancel
	s.mu.Unlock()

	if err := stream.Synthesize(ctx, text); err != nil {
		s.mu.Lock()
		s.state = Error
		s.metrics.SynthesisErrors++
		s.mu.Unlock()
		e.emitError(s, uttID, err)
		return "", err
	}

	s.mu.Lock()
	s.metrics.TextsSynthesized++
	s.mu.Unlock()
	s.emit(Event{Type: EventStart, SessionID: sessionID, UtteranceID: uttID})
	go e.runUtterance(uctx, s, uttID, gen, stream)
	return uttID, nil
}

func validateText(text string, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", voiceerr.ErrEmptyInput
	}
	if len(text) > maxLen {
		return text[:maxLen], nil
	}
	return text, nil
}

// runUtterance drains one synthesis's Chunks/Done, resampling each chunk
// to the client's configured rate and emitting Chunk/Complete/Error
// events. gen guards against a stale pump outliving a Cancel or reconnect.
func (e *Engine) runUtterance(ctx context.Context, s *sessionState, uttID string, gen int, stream tts.Stream) {
	chunks := stream.Chunks()
	done := stream.Done()
	firstChunk := true

	deliver := func(chunk tts.Chunk) bool {
		s.mu.Lock()
		if s.utteranceGen != gen {
			s.mu.Unlock()
			return false
		}
		if firstChunk {
			s.state = Streaming
			firstChunk = false
		}
		srcRate := s.cfg.OutputSampleRate
		s.mu.Unlock()
		if srcRate <= 0 {
			srcRate = 16000
		}
		audio := pcm.ResampleTo(s.sessionID, chunk.Audio, srcRate, e.cfg.ClientRate)
		s.mu.Lock()
		s.metrics.ChunksGenerated++
		s.mu.Unlock()
		s.emit(Event{Type: EventChunk, SessionID: s.sessionID, UtteranceID: uttID, Audio: audio, SampleRate: e.cfg.ClientRate})
		return true
	}

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if !deliver(chunk) {
				return
			}
		case err, ok := <-done:
			if !ok {
				return
			}
			// Providers may signal completion while audio is still queued;
			// deliver whatever is already buffered so Complete always follows
			// the last chunk.
			drained := false
			for !drained && chunks != nil {
				select {
				case chunk, ok := <-chunks:
					if !ok {
						chunks = nil
						continue
					}
					if !deliver(chunk) {
						return
					}
				default:
					drained = true
				}
			}
			s.mu.Lock()
			if s.utteranceGen != gen {
				s.mu.Unlock()
				return
			}
			if err != nil {
				s.state = Error
				s.metrics.SynthesisErrors++
				s.mu.Unlock()
				e.emitError(s, uttID, err)
				return
			}
			s.state = Completed
			s.mu.Unlock()
			s.emit(Event{Type: EventComplete, SessionID: s.sessionID, UtteranceID: uttID})
			e.scheduleIdleReset(s, gen)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) emitError(s *sessionState, uttID string, err error) {
	e.logger.Error("ttsengine: synthesis error", "sessionId", s.sessionID, "utteranceId", uttID, "err", err)
	s.emit(Event{Type: EventError, SessionID: s.sessionID, UtteranceID: uttID, Err: err})
}

// scheduleIdleReset implements Completed -> Idle's automatic reset after a
// quiescence window.
func (e *Engine) scheduleIdleReset(s *sessionState, gen int) {
	s.mu.Lock()
	if s.quiescence != nil {
		s.quiescence.Stop()
	}
	s.quiescence = time.AfterFunc(e.cfg.QuiescenceReset, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.utteranceGen == gen && s.state == Completed {
			s.state = Idle
		}
	})
	s.mu.Unlock()
}

// Cancel aborts sessionID's active utterance, a no-op unless the state is
// Generating or Streaming. Cancelled resets to Idle once the handler (this
// call) finishes tearing down the utterance's subscriptions.
func (e *Engine) Cancel(sessionID string) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.state != Generating && s.state != Streaming {
		s.mu.Unlock()
		return
	}
	uttID := s.utteranceID
	s.state = Cancelled
	s.utteranceGen++
	if s.cancelUtterance != nil {
		s.cancelUtterance()
	}
	s.mu.Unlock()

	s.emit(Event{Type: EventCancelled, SessionID: sessionID, UtteranceID: uttID})

	s.mu.Lock()
	if s.state == Cancelled {
		s.state = Idle
	}
	s.mu.Unlock()
}

// Recover moves a session out of Error back to Idle. Error only clears via
// this explicit call, never automatically.
func (e *Engine) Recover(sessionID string) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	if s.state == Error {
		s.state = Idle
	}
	s.mu.Unlock()
}

// State returns sessionID's current ttsState, or false if absent.
func (e *Engine) State(sessionID string) (State, bool) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, true
}

// Metrics returns a snapshot of sessionID's counters, or false if absent.
func (e *Engine) Metrics(sessionID string) (Metrics, bool) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return Metrics{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics, true
}

// keepaliveLoop pings the provider connection every PingInterval while
// connected; a failed ping flips the session Disconnected and starts the
// reconnect loop.
func (e *Engine) keepaliveLoop(ctx context.Context, s *sessionState) {
	ticker := time.NewTicker(e.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			stream := s.stream
			closing := s.closing
			s.mu.Unlock()
			if closing || stream == nil {
				return
			}
			if err := stream.Ping(ctx); err != nil {
				e.logger.Warn("ttsengine: keepalive ping failed, reconnecting", "sessionId", s.sessionID, "err", err)
				s.mu.Lock()
				s.connected = false
				s.metrics.ConnectionErrors++
				s.mu.Unlock()
				go e.reconnectLoop(ctx, s)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// reconnectLoop retries opening the provider connection per
// ReconnectDelays (max 3 attempts). On success, buffered submissions are
// flushed in order; on exhaustion the session stays Disconnected and later
// Synthesize calls keep buffering until BufferCap is hit.
func (e *Engine) reconnectLoop(ctx context.Context, s *sessionState) {
	for i, delay := range e.cfg.ReconnectDelays {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		s.mu.Lock()
		cfg := s.cfg
		closing := s.closing
		s.mu.Unlock()
		if closing {
			return
		}

		stream, err := e.provider.Open(ctx, cfg)
		s.mu.Lock()
		s.reconnectAttempts++
		s.mu.Unlock()
		if err != nil {
			e.logger.Warn("ttsengine: reconnect attempt failed", "sessionId", s.sessionID, "attempt", i+1, "err", err)
			continue
		}

		s.mu.Lock()
		s.stream = stream
		s.connected = true
		s.metrics.Reconnections++
		pending := s.reconnectBuffer
		s.reconnectBuffer = nil
		s.reconnectBufferLen = 0
		s.mu.Unlock()

		e.flushBuffered(ctx, s, pending, stream)
		go e.keepaliveLoop(ctx, s)
		return
	}
	e.logger.Error("ttsengine: reconnect attempts exhausted", "sessionId", s.sessionID)
}

func (e *Engine) flushBuffered(ctx context.Context, s *sessionState, pending []bufferedUtterance, stream tts.Stream) {
	for _, b := range pending {
		s.mu.Lock()
		s.state = Generating
		s.utteranceID = b.utteranceID
		s.utteranceGen++
		gen := s.utteranceGen
		uctx, ucancel := context.WithCancel(context.Background())
		s.cancelUtterance = ucancel
		s.mu.Unlock()

		if err := stream.Synthesize(ctx, b.text); err != nil {
			e.emitError(s, b.utteranceID, err)
			continue
		}
		s.emit(Event{Type: EventStart, SessionID: s.sessionID, UtteranceID: b.utteranceID})
		e.runUtterance(uctx, s, b.utteranceID, gen, stream)
	}
}

// End closes sessionID's provider connection, cancels in-flight
// synthesis, and disposes its buffers.
func (e *Engine) End(sessionID string) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.closing = true
	stream := s.stream
	if s.cancelUtterance != nil {
		s.cancelUtterance()
	}
	if s.quiescence != nil {
		s.quiescence.Stop()
	}
	s.reconnectBuffer = nil
	s.reconnectBufferLen = 0
	scopeCancel := s.scopeCancel
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if scopeCancel != nil {
		scopeCancel()
	}
}

// Shutdown ends every live session.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.End(id)
	}
}

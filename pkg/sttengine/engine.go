// Package sttengine implements the STT Engine: a per-session streaming
// pipeline in front of an stt.Provider with connect retry, mid-stream
// reconnection, and transcript assembly. It generalizes a single blocking
// transcription call per turn, with no reconnection, into a long-lived
// per-session stream with its own state machine and retry schedules.
package sttengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/voicegateway/pkg/logging"
	"github.com/lokutor-ai/voicegateway/pkg/providers/stt"
	"github.com/lokutor-ai/voicegateway/pkg/voiceerr"
)

// Config tunes the engine's retry schedules and finalize behavior. Zero
// values fall back to Default().
type Config struct {
	// ConnectDelays is the initial-connect retry schedule: [0, 100, 1000,
	// 3000, 5000]ms over up to 5 attempts.
	ConnectDelays []time.Duration
	// ReconnectDelays is the mid-stream reconnection schedule: [0, 100,
	// 500]ms, max 3 attempts.
	ReconnectDelays []time.Duration
	// FinalizeQuiescence bounds how long Finalize waits for trailing
	// interim/final results to drain before returning.
	FinalizeQuiescence time.Duration
}

func Default() Config {
	return Config{
		ConnectDelays:      []time.Duration{0, 100 * time.Millisecond, 1000 * time.Millisecond, 3000 * time.Millisecond, 5000 * time.Millisecond},
		ReconnectDelays:    []time.Duration{0, 100 * time.Millisecond, 500 * time.Millisecond},
		FinalizeQuiescence: 250 * time.Millisecond,
	}
}

// Engine owns every session's SttSession and drives it against an injected
// stt.Provider, generalizing a module-singleton transcription client into
// an explicit per-engine capability handle.
type Engine struct {
	provider stt.Provider
	cfg      Config
	logger   logging.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func New(provider stt.Provider, cfg Config, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	d := Default()
	if len(cfg.ConnectDelays) == 0 {
		cfg.ConnectDelays = d.ConnectDelays
	}
	if len(cfg.ReconnectDelays) == 0 {
		cfg.ReconnectDelays = d.ReconnectDelays
	}
	if cfg.FinalizeQuiescence <= 0 {
		cfg.FinalizeQuiescence = d.FinalizeQuiescence
	}
	return &Engine{provider: provider, cfg: cfg, logger: logger, sessions: make(map[string]*sessionState)}
}

// Create opens a streaming session for sessionID. Fatal connect errors
// (401/403/404/400-classified) are returned immediately without retry;
// transient errors are retried per ConnectDelays. On exhaustion the
// session is still registered in the Error state: Forward drops audio for
// it without redialing, and a later Create for the same sessionID starts
// a fresh connect attempt.
func (e *Engine) Create(ctx context.Context, sessionID string, cfg stt.Config) error {
	s := &sessionState{sessionID: sessionID, cfg: cfg, connState: Connecting}
	sctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	e.mu.Lock()
	e.sessions[sessionID] = s
	e.mu.Unlock()

	stream, err := e.dialWithRetry(ctx, s, true)
	if err != nil {
		s.mu.Lock()
		s.connState = Error
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.stream = stream
	s.connState = Connected
	s.mu.Unlock()

	go e.runSession(sctx, s)
	return nil
}

// runSession drains stream results/errors until the stream ends, attempting
// mid-stream reconnection on a non-fatal drop, until the session's scope is
// cancelled (by End) or a fatal error terminates it permanently.
func (e *Engine) runSession(ctx context.Context, s *sessionState) {
	for {
		reconnect := e.drain(ctx, s)
		if !reconnect {
			return
		}
		s.mu.Lock()
		s.connState = Disconnected
		s.mu.Unlock()
		stream, err := e.dialWithRetry(ctx, s, false)
		if err != nil {
			s.mu.Lock()
			s.connState = Error
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		s.stream = stream
		s.connState = Connected
		s.mu.Unlock()
	}
}

func (e *Engine) drain(ctx context.Context, s *sessionState) bool {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return false
	}

	results := stream.Results()
	errs := stream.Errors()
	for results != nil || errs != nil {
		select {
		case seg, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			s.mu.Lock()
			s.recordSegment(seg)
			if seg.IsFinal {
				s.appendFinal(seg.Text)
				s.metrics.TranscriptsReceived++
			} else {
				s.interim = seg.Text
			}
			s.mu.Unlock()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.mu.Lock()
			s.metrics.Errors++
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return false
			}
			if voiceerr.KindOf(err).IsRetryable() {
				e.logger.Warn("sttengine: mid-stream error, reconnecting", "sessionId", s.sessionID, "err", err)
				return true
			}
			s.mu.Lock()
			s.connState = Error
			s.mu.Unlock()
			e.logger.Error("sttengine: fatal mid-stream error", "sessionId", s.sessionID, "err", err)
			return false
		case <-ctx.Done():
			return false
		}
	}

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return false
	}
	// The stream ended without an explicit error: treat it the same as a
	// dropped connection and attempt reconnection.
	return true
}

// dialWithRetry opens a new provider stream following the appropriate
// schedule. initial selects ConnectDelays vs. ReconnectDelays. Fatal/Auth
// errors short-circuit immediately without advancing retryCount: the
// session enters Error right away instead of burning through the retry
// budget on an error retrying can never fix.
func (e *Engine) dialWithRetry(ctx context.Context, s *sessionState, initial bool) (stt.Stream, error) {
	delays := e.cfg.ConnectDelays
	if !initial {
		delays = e.cfg.ReconnectDelays
	}

	var lastErr error
	for i, delay := range delays {
		if i > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			s.mu.Lock()
			s.metrics.Reconnections++
			s.mu.Unlock()
		}

		stream, err := e.provider.Open(ctx, s.cfg)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		kind := voiceerr.KindOf(err)
		if !kind.IsRetryable() {
			return nil, err
		}
		s.mu.Lock()
		s.retryCount++
		s.lastRetryTime = time.Now()
		if !initial {
			s.reconnectAttempts++
		}
		s.mu.Unlock()
	}
	return nil, fmt.Errorf("sttengine: connect retries exhausted: %w", lastErr)
}

// Forward pushes one chunk of already-resampled 16kHz PCM audio upstream.
// Non-blocking and idempotent when called for a non-existent session.
func (e *Engine) Forward(ctx context.Context, sessionID string, audio []byte) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		e.logger.Warn("sttengine: forward for unknown session", "sessionId", sessionID)
		return
	}

	s.mu.Lock()
	s.metrics.ChunksReceived++
	if s.connState != Connected || s.stream == nil {
		s.mu.Unlock()
		e.logger.Warn("sttengine: dropping audio, session not connected", "sessionId", sessionID)
		return
	}
	stream := s.stream
	s.mu.Unlock()

	if err := stream.Send(ctx, audio); err != nil {
		s.mu.Lock()
		s.metrics.Errors++
		s.mu.Unlock()
		e.logger.Warn("sttengine: forward failed, dropping chunk", "sessionId", sessionID, "err", err)
		return
	}

	s.mu.Lock()
	s.metrics.ChunksForwarded++
	s.mu.Unlock()
}

// Finalize drains in-flight interim/final results up to FinalizeQuiescence
// and returns the accumulated transcript. The upstream connection is NOT
// closed. Calling Finalize twice with no intervening audio returns equal
// transcripts.
func (e *Engine) Finalize(ctx context.Context, sessionID string) (string, error) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return "", voiceerr.ErrSessionNotFound
	}

	s.mu.Lock()
	stream := s.stream
	connected := s.connState == Connected
	s.mu.Unlock()

	if connected && stream != nil {
		_ = stream.Finalize(ctx)
		select {
		case <-time.After(e.cfg.FinalizeQuiescence):
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulated, nil
}

// End closes the upstream connection and removes sessionID's state.
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
	cancel := s.cancel
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if cancel != nil {
		cancel()
	}
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

// Segments returns a copy of sessionID's recent hypothesis ring, or false
// if absent.
func (e *Engine) Segments(sessionID string) ([]stt.Segment, bool) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := make([]stt.Segment, len(s.segments))
	copy(segs, s.segments)
	return segs, true
}

// ConnState returns sessionID's provider connection state, or false if
// absent.
func (e *Engine) ConnState(sessionID string) (ConnectionState, bool) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState, true
}

// Shutdown closes every live session, draining per-session resources.
// Errors from individual sessions are logged, never propagated.
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

// Package llmengine implements the LLM Engine: per-session conversation
// context plus a tiered-fallback request path in front of an llm.Provider.
// It generalizes a single provider.Complete call over a flat context copy
// into an engine with its own retry budget, global response deadline, and
// explicit fallback tiers, signaled through a dedicated field rather than
// a substring match on the response text.
package llmengine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/voicegateway/pkg/logging"
	"github.com/lokutor-ai/voicegateway/pkg/providers/llm"
	"github.com/lokutor-ai/voicegateway/pkg/voiceerr"
)

// Canned fallback strings, verbatim per tier. Never parsed for tier
// detection — Tier is always carried as an explicit Response field.
const (
	Tier1Message = "Sorry, could you please repeat that?"
	Tier2Message = "I'm experiencing some technical difficulties right now."
	Tier3Message = "I'm having connection issues. Someone will call you back shortly."
)

// Response is the result of Generate: either a genuine completion or one
// of the three canned fallback tiers.
type Response struct {
	Text       string
	IsFallback bool
	Tier       int
}

// Config tunes the engine's retry/fallback/eviction policy. Zero
// MaxMessages, RetryBudget, GlobalDeadline and SweepInterval fall back to
// Default(); a zero RetryDelay retries without waiting, and a zero
// IdleTimeout or MaxContextDuration disables that eviction criterion.
type Config struct {
	SystemPrompt       string
	MaxMessages        int
	RetryBudget        int
	RetryDelay         time.Duration
	GlobalDeadline     time.Duration
	IdleTimeout        time.Duration
	MaxContextDuration time.Duration
	SweepInterval      time.Duration
}

func Default() Config {
	return Config{
		MaxMessages:        40,
		RetryBudget:        2,
		RetryDelay:         300 * time.Millisecond,
		GlobalDeadline:     20 * time.Second,
		IdleTimeout:        30 * time.Minute,
		MaxContextDuration: 2 * time.Hour,
		SweepInterval:      5 * time.Minute,
	}
}

// Engine owns every session's LlmContext and drives Generate against an
// injected llm.Provider, a module-singleton completion client generalized
// into an explicit per-engine capability handle.
type Engine struct {
	provider llm.Provider
	cfg      Config
	logger   logging.Logger

	mu       sync.Mutex
	contexts map[string]*Context

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New constructs an Engine bound to one llm.Provider.
func New(provider llm.Provider, cfg Config, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = Default().MaxMessages
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = Default().RetryBudget
	}
	if cfg.GlobalDeadline == 0 {
		cfg.GlobalDeadline = Default().GlobalDeadline
	}
	return &Engine{
		provider:  provider,
		cfg:       cfg,
		logger:    logger,
		contexts:  make(map[string]*Context),
		stopSweep: make(chan struct{}),
	}
}

// Initialize creates a conversation context seeded with the system
// prompt. Calling it twice for the same session is a no-op; the existing
// context is left untouched.
func (e *Engine) Initialize(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.contexts[sessionID]; ok {
		return
	}
	e.contexts[sessionID] = newContext(sessionID, e.cfg.SystemPrompt)
}

// Generate appends userText to sessionID's context, calls the provider
// with the full history, appends the assistant reply, and returns it. On
// any failure it returns a tiered fallback string instead of propagating
// the raw provider error.
//
// Tier policy:
//   - Auth or Fatal-classified errors are never retried and always surface
//     as Tier 2 ("technical difficulties"): they are not network/timeout
//     conditions, so Tier 3's call-back framing would not fit.
//   - Network or Timeout errors are retried like any other transient
//     failure *unless* the elapsed time since the first attempt has
//     already exceeded Config.GlobalDeadline, in which case they surface
//     immediately as Tier 3 regardless of remaining retry budget.
//   - Every other retryable kind (Retryable, RateLimit, Unknown) consumes
//     the retry budget with Config.RetryDelay between attempts. Exhausting
//     the budget surfaces Tier 2. A budget configured down to a single
//     attempt (RetryBudget == 1) that fails this way surfaces Tier 1
//     instead, matching "single attempt retryable error" literally.
func (e *Engine) Generate(ctx context.Context, sessionID, userText string) (Response, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Response{}, voiceerr.Classify(voiceerr.Fatal, "llmengine: generate", voiceerr.ErrEmptyInput)
	}
	if strings.TrimSpace(userText) == "" {
		return Response{}, voiceerr.Classify(voiceerr.Fatal, "llmengine: generate", voiceerr.ErrEmptyInput)
	}

	llmCtx := e.getOrCreate(sessionID)

	e.mu.Lock()
	llmCtx.append(llm.RoleUser, userText, e.cfg.MaxMessages)
	messages := llmCtx.snapshot()
	e.mu.Unlock()

	started := time.Now()
	var lastErr error

	for attempt := 1; attempt <= e.cfg.RetryBudget; attempt++ {
		text, err := e.provider.Complete(ctx, messages)
		if err == nil {
			e.mu.Lock()
			llmCtx.append(llm.RoleAssistant, text, e.cfg.MaxMessages)
			e.mu.Unlock()
			return Response{Text: text, IsFallback: false}, nil
		}

		lastErr = err
		kind := classify(err)
		e.logger.Warn("llmengine: generate attempt failed",
			"sessionId", sessionID, "attempt", attempt, "kind", kind.String(), "err", err)

		if kind == voiceerr.Auth || kind == voiceerr.Fatal {
			return e.fallback(2, lastErr), nil
		}

		if (kind == voiceerr.Network || kind == voiceerr.Timeout) && time.Since(started) > e.cfg.GlobalDeadline {
			return e.fallback(3, lastErr), nil
		}

		if attempt == e.cfg.RetryBudget {
			if e.cfg.RetryBudget == 1 {
				return e.fallback(1, lastErr), nil
			}
			return e.fallback(2, lastErr), nil
		}

		select {
		case <-ctx.Done():
			return e.fallback(3, ctx.Err()), nil
		case <-time.After(e.cfg.RetryDelay):
		}
	}

	return e.fallback(2, lastErr), nil
}

func (e *Engine) fallback(tier int, cause error) Response {
	var msg string
	switch tier {
	case 1:
		msg = Tier1Message
	case 3:
		msg = Tier3Message
	default:
		msg = Tier2Message
	}
	e.logger.Error("llmengine: falling back", "tier", tier, "cause", cause)
	return Response{Text: msg, IsFallback: true, Tier: tier}
}

func (e *Engine) getOrCreate(sessionID string) *Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.contexts[sessionID]
	if !ok {
		c = newContext(sessionID, e.cfg.SystemPrompt)
		e.contexts[sessionID] = c
	}
	return c
}

// Reset clears sessionID's context back to just the system prompt.
func (e *Engine) Reset(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contexts[sessionID] = newContext(sessionID, e.cfg.SystemPrompt)
}

// End evicts sessionID's context entirely. Called on channel close.
func (e *Engine) End(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.contexts, sessionID)
}

// StartSweep launches the periodic eviction goroutine: idle,
// over-duration, or over-cap contexts are dropped.
func (e *Engine) StartSweep() {
	interval := e.cfg.SweepInterval
	if interval <= 0 {
		interval = Default().SweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.sweep()
			case <-e.stopSweep:
				return
			}
		}
	}()
}

func (e *Engine) Stop() {
	e.sweepOnce.Do(func() { close(e.stopSweep) })
}

func (e *Engine) sweep() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, c := range e.contexts {
		if c.expired(now, e.cfg.IdleTimeout, e.cfg.MaxContextDuration, e.cfg.MaxMessages) {
			delete(e.contexts, id)
		}
	}
}

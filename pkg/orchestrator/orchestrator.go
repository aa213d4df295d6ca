// Package orchestrator implements the Orchestrator: the per-frame control
// flow wiring audio.start/chunk/end against the STT, LLM, and TTS engines,
// plus the interruption and graceful-teardown policy. It generalizes a
// single struct owning mic capture, a local VAD, and direct provider calls
// into a frame-driven session controller that drives three independently
// injected engine capabilities instead of holding vendor clients itself.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/voicegateway/pkg/logging"
	"github.com/lokutor-ai/voicegateway/pkg/pcm"
	"github.com/lokutor-ai/voicegateway/pkg/providers/stt"
	"github.com/lokutor-ai/voicegateway/pkg/providers/tts"
	"github.com/lokutor-ai/voicegateway/pkg/session"
	"github.com/lokutor-ai/voicegateway/pkg/sttengine"
	"github.com/lokutor-ai/voicegateway/pkg/ttsengine"
	"github.com/lokutor-ai/voicegateway/pkg/wire"
)

// channelState is the Orchestrator's private per-connection bookkeeping:
// the sink the channel's frames are written back through, and the
// activeUtteranceId the TTS event pump is currently streaming, so a
// subsequent barge-in knows which utterance to reference in its
// response.interrupt frame.
type channelState struct {
	mu sync.Mutex

	connectionID string
	sessionID    string
	sink         Sink

	activeUtteranceID string
	responseCancel    context.CancelFunc
}

// Orchestrator owns the per-frame control flow for every open channel. It
// depends only on the narrow SttEngine/TtsEngine/LlmEngine/Sink
// capabilities from types.go, never on a concrete engine package, so tests
// can inject fakes.
type Orchestrator struct {
	registry *session.Registry
	stt      SttEngine
	tts      TtsEngine
	llm      LlmEngine
	logger   logging.Logger
	metrics  Metrics
	cfg      Config

	mu       sync.Mutex
	channels map[string]*channelState
}

// New constructs an Orchestrator bound to one session Registry and the
// three engine capabilities. logger and metrics may be nil (default to a
// no-op).
func New(registry *session.Registry, sttEngine SttEngine, ttsEngine TtsEngine, llmEngine LlmEngine, cfg Config, logger logging.Logger, metrics Metrics) *Orchestrator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Orchestrator{
		registry: registry,
		stt:      sttEngine,
		tts:      ttsEngine,
		llm:      llmEngine,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		channels: make(map[string]*channelState),
	}
}

// Open accepts a freshly handshaked channel: it creates the session,
// attempts to attach per-session state on all three engines (a failure on
// any one is recorded, not fatal — the connection is kept open), and
// returns the session the Gateway should ack.
func (o *Orchestrator) Open(ctx context.Context, connectionID string, meta session.Metadata, sink Sink) (*session.Session, error) {
	s, err := o.registry.Create(connectionID, meta)
	if err != nil {
		return nil, err
	}

	var sttOK, ttsOK bool
	var g errgroup.Group
	g.Go(func() error { sttOK = o.attachSTT(ctx, s.SessionID, meta); return nil })
	g.Go(func() error { ttsOK = o.attachTTS(ctx, s.SessionID, meta); return nil })
	g.Wait()
	o.llm.Initialize(s.SessionID)
	llmOK := true

	o.registry.SetAttached(connectionID, &sttOK, &ttsOK, &llmOK)

	cs := &channelState{
		connectionID: connectionID,
		sessionID:    s.SessionID,
		sink:         sink,
	}
	o.mu.Lock()
	o.channels[connectionID] = cs
	o.mu.Unlock()

	if ttsOK {
		if ch, ok := o.tts.Events(s.SessionID); ok {
			go o.pumpTTSEvents(cs, ch)
		}
	}

	s.SttAttached, s.TtsAttached, s.LlmAttached = sttOK, ttsOK, llmOK
	o.metrics.RecordSessionCreated(ctx)
	return s, nil
}

func (o *Orchestrator) attachSTT(ctx context.Context, sessionID string, meta session.Metadata) bool {
	cfg := stt.Config{SampleRate: pcm.TargetSampleRate, Language: meta.Language}
	if err := o.stt.Create(ctx, sessionID, cfg); err != nil {
		o.logger.Warn("orchestrator: stt attach failed at open", "sessionId", sessionID, "err", err)
		return false
	}
	return true
}

func (o *Orchestrator) attachTTS(ctx context.Context, sessionID string, meta session.Metadata) bool {
	cfg := tts.Config{VoiceID: meta.VoiceID, Language: meta.Language, OutputSampleRate: pcm.TargetSampleRate}
	if err := o.tts.Create(ctx, sessionID, cfg); err != nil {
		o.logger.Warn("orchestrator: tts attach failed at open", "sessionId", sessionID, "err", err)
		return false
	}
	return true
}

func (o *Orchestrator) channel(connectionID string) *channelState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.channels[connectionID]
}

// HandleFrame dispatches one inbound frame by eventType. Any panic inside
// a handler is recovered and turned into an internalError frame echoing
// the request's eventType/eventId, so a single handler bug never tears
// down the channel.
func (o *Orchestrator) HandleFrame(ctx context.Context, connectionID string, frame wire.Frame) {
	cs := o.channel(connectionID)
	if cs == nil {
		o.logger.Warn("orchestrator: frame for unknown channel", "connectionId", connectionID)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestrator: panic in frame handler", "eventType", frame.EventType, "recovered", r)
			cs.send(wire.ErrorFrame(wire.ErrInternalError, frame.EventID, cs.sessionID, frame.EventType, fmt.Sprintf("internal error: %v", r)))
		}
	}()

	switch frame.EventType {
	case wire.EventAudioStart:
		o.handleAudioStart(ctx, cs, frame)
	case wire.EventAudioChunk:
		o.handleAudioChunk(ctx, cs, frame)
	case wire.EventAudioEnd:
		o.handleAudioEnd(ctx, cs, frame)
	default:
		o.logger.Warn("orchestrator: unknown eventType", "eventType", frame.EventType)
		cs.send(wire.ErrorFrame(wire.ErrInvalidPayload, frame.EventID, cs.sessionID, frame.EventType, "unknown eventType"))
	}
}

// handleAudioStart handles an audio.start frame: validate
// the sample rate, interrupt any in-flight TTS utterance (barge-in), make
// sure an STT session exists (lazily creating one if attach failed at
// open), transition the session Active, and ack.
func (o *Orchestrator) handleAudioStart(ctx context.Context, cs *channelState, frame wire.Frame) {
	rate, ok := wire.PayloadInt(frame.Payload, "samplingRate")
	if !ok {
		rate = pcm.TargetSampleRate
	}
	if rate < 8000 || rate > 48000 {
		cs.send(wire.ErrorFrame(wire.ErrInvalidPayload, frame.EventID, cs.sessionID, frame.EventType, ErrSamplingRateOutOfRange.Error()))
		return
	}

	language, _ := wire.PayloadString(frame.Payload, "language")
	voiceID, _ := wire.PayloadString(frame.Payload, "voiceId")

	o.interruptActiveUtterance(cs)

	if s := o.registry.GetBySessionID(cs.sessionID); s != nil && !s.SttAttached {
		cfg := stt.Config{SampleRate: pcm.TargetSampleRate, Language: language}
		if err := o.stt.Create(ctx, cs.sessionID, cfg); err == nil {
			sttOK := true
			o.registry.SetAttached(cs.connectionID, &sttOK, nil, nil)
		}
	}

	o.registry.Mutate(cs.connectionID, func(s *session.Session) {
		s.Metadata.SamplingRate = rate
		if language != "" {
			s.Metadata.Language = language
		}
		if voiceID != "" {
			s.Metadata.VoiceID = voiceID
		}
	})
	o.registry.UpdateState(cs.connectionID, session.Active)

	cs.send(wire.AckFrame(frame.EventType+".ack", frame.EventID, cs.sessionID))
}

// interruptActiveUtterance cancels any TTS utterance in Generating or
// Streaming, the barge-in rule for a new audio.start arriving
// mid-response. It sends no frame itself: the pump goroutine driving
// pumpTTSEvents observes the resulting Cancelled event, sends
// response.interrupt and clears activeUtteranceID.
func (o *Orchestrator) interruptActiveUtterance(cs *channelState) {
	state, ok := o.tts.State(cs.sessionID)
	if !ok || (state != ttsengine.Generating && state != ttsengine.Streaming) {
		return
	}
	o.tts.Cancel(cs.sessionID)
}

// handleAudioChunk handles an audio.chunk frame: validate
// the audio payload, touch activity, resample unless muted, and forward
// to STT. Forward failures are logged, never abort the pipeline.
func (o *Orchestrator) handleAudioChunk(ctx context.Context, cs *channelState, frame wire.Frame) {
	audio, ok := wire.PayloadBytes(frame.Payload, "audio")
	if !ok {
		cs.send(wire.ErrorFrame(wire.ErrInvalidPayload, frame.EventID, cs.sessionID, frame.EventType, ErrMissingAudio.Error()))
		return
	}

	o.registry.Touch(cs.connectionID)

	muted, _ := wire.PayloadBool(frame.Payload, "isMuted")
	if muted {
		return
	}

	s := o.registry.GetBySessionID(cs.sessionID)
	srcRate := pcm.TargetSampleRate
	if s != nil && s.Metadata.SamplingRate > 0 {
		srcRate = s.Metadata.SamplingRate
	}

	resampled := pcm.Resample(cs.sessionID, audio, srcRate)
	o.stt.Forward(ctx, cs.sessionID, resampled)
}

// handleAudioEnd handles an audio.end frame: transition the
// session Ended, finalize the STT transcript, ack immediately, and — if
// the transcript is non-empty — spawn the LLM -> TTS response pipeline
// asynchronously so the ack is never blocked on it.
func (o *Orchestrator) handleAudioEnd(ctx context.Context, cs *channelState, frame wire.Frame) {
	o.registry.UpdateState(cs.connectionID, session.Ended)

	transcript, err := o.stt.Finalize(ctx, cs.sessionID)
	if err != nil {
		o.logger.Warn("orchestrator: stt finalize failed", "sessionId", cs.sessionID, "err", err)
	}
	o.logger.Info("orchestrator: turn transcript", "sessionId", cs.sessionID, "transcript", transcript)

	cs.send(wire.AckFrame(frame.EventType+".ack", frame.EventID, cs.sessionID))

	if strings.TrimSpace(transcript) == "" {
		return
	}

	pipelineCtx, cancel := context.WithTimeout(context.Background(), o.cfg.ResponseDeadline)
	cs.mu.Lock()
	if cs.responseCancel != nil {
		cs.responseCancel()
	}
	cs.responseCancel = cancel
	cs.mu.Unlock()

	go o.runResponsePipeline(pipelineCtx, cs, transcript)
}

// runResponsePipeline implements the LLM -> TTS leg of a turn. It is the
// cancellable task with an outbound chunk sink the design note calls for:
// cancellation flows from pipelineCtx (audio.end's own timeout, a later
// audio.end that replaces this turn's cancel func, or Close).
func (o *Orchestrator) runResponsePipeline(ctx context.Context, cs *channelState, transcript string) {
	defer func() {
		cs.mu.Lock()
		cs.responseCancel = nil
		cs.mu.Unlock()
	}()

	resp, err := o.llm.Generate(ctx, cs.sessionID, transcript)
	if err != nil {
		o.sendPipelineError(cs, wire.ErrLlmError, err)
		return
	}
	if resp.IsFallback {
		o.logger.Warn("orchestrator: llm fell back", "sessionId", cs.sessionID, "tier", resp.Tier)
		o.metrics.RecordLlmFallback(ctx, cs.sessionID, resp.Tier)
	}

	if _, err := o.tts.Synthesize(ctx, cs.sessionID, resp.Text); err != nil {
		o.sendPipelineError(cs, wire.ErrTtsError, err)
		return
	}
}

func (o *Orchestrator) sendPipelineError(cs *channelState, code string, err error) {
	o.logger.Error("orchestrator: response pipeline failed", "sessionId", cs.sessionID, "code", code, "err", err)
	cs.send(wire.ErrorFrame(code, uuid.NewString(), cs.sessionID, wire.EventAudioEnd, err.Error()))
}

// pumpTTSEvents translates one session's TTS Engine events into
// response.start/chunk/complete/interrupt/error frames. Using the
// utteranceId itself as the frame's eventId keeps every frame of one
// utterance correlated without a side-table the pump and the response
// pipeline would otherwise have to race to populate.
func (o *Orchestrator) pumpTTSEvents(cs *channelState, ch <-chan ttsengine.Event) {
	for ev := range ch {
		switch ev.Type {
		case ttsengine.EventStart:
			cs.mu.Lock()
			cs.activeUtteranceID = ev.UtteranceID
			cs.mu.Unlock()
			cs.send(wire.Frame{
				EventType: wire.EventResponseStart,
				EventID:   ev.UtteranceID,
				SessionID: cs.sessionID,
				Payload:   map[string]interface{}{"utteranceId": ev.UtteranceID, "timestamp": time.Now().UnixMilli()},
			})
		case ttsengine.EventChunk:
			cs.send(wire.Frame{
				EventType: wire.EventResponseChunk,
				EventID:   ev.UtteranceID,
				SessionID: cs.sessionID,
				Payload: map[string]interface{}{
					"audio":       ev.Audio,
					"sampleRate":  ev.SampleRate,
					"utteranceId": ev.UtteranceID,
				},
			})
		case ttsengine.EventComplete:
			cs.send(wire.Frame{
				EventType: wire.EventResponseComplete,
				EventID:   ev.UtteranceID,
				SessionID: cs.sessionID,
				Payload:   map[string]interface{}{"utteranceId": ev.UtteranceID},
			})
			cs.clearUtterance(ev.UtteranceID)
		case ttsengine.EventCancelled:
			cs.send(wire.Frame{
				EventType: wire.EventResponseInterrupt,
				EventID:   ev.UtteranceID,
				SessionID: cs.sessionID,
				Payload:   map[string]interface{}{"utteranceId": ev.UtteranceID},
			})
			cs.clearUtterance(ev.UtteranceID)
		case ttsengine.EventError:
			msg := "synthesis error"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			cs.send(wire.ErrorFrame(wire.ErrTtsError, ev.UtteranceID, cs.sessionID, wire.EventAudioEnd, msg))
			cs.clearUtterance(ev.UtteranceID)
		}
	}
}

func (cs *channelState) clearUtterance(utteranceID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.activeUtteranceID == utteranceID {
		cs.activeUtteranceID = ""
	}
}

func (cs *channelState) send(f wire.Frame) {
	if cs.sink != nil {
		cs.sink.Send(f)
	}
}

// reportFinalMetrics pulls each engine's per-session counters through an
// optional capability check (not every fake SttEngine/TtsEngine in tests
// needs to implement it) rather than through the registry's EngineMetrics
// field, which no engine writes back into.
func (o *Orchestrator) reportFinalMetrics(ctx context.Context, sessionID string) {
	if provider, ok := o.stt.(interface {
		Metrics(sessionID string) (sttengine.Metrics, bool)
	}); ok {
		if m, ok := provider.Metrics(sessionID); ok {
			o.metrics.RecordSttReconnections(ctx, sessionID, m.Reconnections)
		}
	}
	if provider, ok := o.tts.(interface {
		Metrics(sessionID string) (ttsengine.Metrics, bool)
	}); ok {
		if m, ok := provider.Metrics(sessionID); ok {
			o.metrics.RecordTtsReconnections(ctx, sessionID, m.Reconnections)
			o.metrics.RecordTtsBufferOverflows(ctx, sessionID, m.BufferOverflows)
		}
	}
}

// Close runs the graceful channel teardown: the three engine End calls run
// in parallel, each wrapped to swallow its own error, and only invoked on
// engines whose attached flag is true; the registry entry is deleted last.
func (o *Orchestrator) Close(connectionID string) {
	o.mu.Lock()
	cs, ok := o.channels[connectionID]
	if ok {
		delete(o.channels, connectionID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	cs.mu.Lock()
	if cs.responseCancel != nil {
		cs.responseCancel()
	}
	cs.mu.Unlock()

	s := o.registry.Get(connectionID)

	ctx := context.Background()
	o.metrics.RecordSessionEnded(ctx)
	o.reportFinalMetrics(ctx, cs.sessionID)

	var wg sync.WaitGroup
	run := func(attached bool, fn func()) {
		if !attached {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("orchestrator: panic during engine teardown", "connectionId", connectionID, "recovered", r)
				}
			}()
			fn()
		}()
	}

	sessionID := cs.sessionID
	if s != nil {
		run(s.SttAttached, func() { o.stt.End(sessionID) })
		run(s.TtsAttached, func() { o.tts.End(sessionID) })
		run(s.LlmAttached, func() { o.llm.End(sessionID) })
	} else {
		run(true, func() { o.stt.End(sessionID) })
		run(true, func() { o.tts.End(sessionID) })
		run(true, func() { o.llm.End(sessionID) })
	}
	wg.Wait()

	o.registry.Delete(connectionID)
}

// Shutdown Closes every open channel, then runs each engine's Shutdown
// (Stop for the LLM engine) so it drains its own per-session resources.
// ctx is not consulted.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	ids := make([]string, 0, len(o.channels))
	for id := range o.channels {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.Close(id)
	}

	if shutter, ok := o.stt.(interface{ Shutdown() }); ok {
		shutter.Shutdown()
	}
	if shutter, ok := o.tts.(interface{ Shutdown() }); ok {
		shutter.Shutdown()
	}
	if shutter, ok := o.llm.(interface{ Stop() }); ok {
		shutter.Stop()
	}
	_ = ctx
}

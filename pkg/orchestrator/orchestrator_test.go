package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/voicegateway/pkg/llmengine"
	"github.com/lokutor-ai/voicegateway/pkg/providers/stt"
	"github.com/lokutor-ai/voicegateway/pkg/providers/tts"
	"github.com/lokutor-ai/voicegateway/pkg/session"
	"github.com/lokutor-ai/voicegateway/pkg/ttsengine"
	"github.com/lokutor-ai/voicegateway/pkg/wire"
)

// frameSink collects every outbound frame so tests can assert on ordering
// and eventId echoing.
type frameSink struct {
	mu     sync.Mutex
	frames []wire.Frame
}

func (s *frameSink) Send(f wire.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *frameSink) byType(eventType string) []wire.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Frame
	for _, f := range s.frames {
		if f.EventType == eventType {
			out = append(out, f)
		}
	}
	return out
}

type fakeStt struct {
	mu         sync.Mutex
	createErr  error
	transcript string
	forwarded  [][]byte
	ended      bool
}

func (f *fakeStt) Create(context.Context, string, stt.Config) error { return f.createErr }
func (f *fakeStt) Forward(_ context.Context, _ string, audio []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded = append(f.forwarded, audio)
}
func (f *fakeStt) Finalize(context.Context, string) (string, error) { return f.transcript, nil }
func (f *fakeStt) End(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
}

type fakeTts struct {
	mu          sync.Mutex
	events      chan ttsengine.Event
	state       ttsengine.State
	cancelled   int
	synthesized []string
	ended       bool
}

func (f *fakeTts) Create(_ context.Context, _ string, _ tts.Config) error {
	f.events = make(chan ttsengine.Event, 8)
	return nil
}
func (f *fakeTts) Events(string) (<-chan ttsengine.Event, bool) { return f.events, f.events != nil }
func (f *fakeTts) Synthesize(_ context.Context, _ string, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synthesized = append(f.synthesized, text)
	return "utt-1", nil
}
func (f *fakeTts) Cancel(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}
func (f *fakeTts) State(string) (ttsengine.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, true
}
func (f *fakeTts) End(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
}

type fakeLlm struct {
	mu    sync.Mutex
	ended bool
}

func (f *fakeLlm) Initialize(string) {}
func (f *fakeLlm) Generate(_ context.Context, _, userText string) (llmengine.Response, error) {
	return llmengine.Response{Text: "resp: " + userText}, nil
}
func (f *fakeLlm) End(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
}

func openTestChannel(t *testing.T, sttEng *fakeStt, ttsEng *fakeTts, llmEng *fakeLlm) (*Orchestrator, *frameSink, *session.Session) {
	t.Helper()
	reg := session.NewRegistry()
	o := New(reg, sttEng, ttsEng, llmEng, DefaultConfig(), nil, nil)
	sink := &frameSink{}
	s, err := o.Open(context.Background(), "conn-1", session.Metadata{}, sink)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return o, sink, s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAudioStartRejectsOutOfRangeSamplingRate(t *testing.T) {
	o, sink, _ := openTestChannel(t, &fakeStt{}, &fakeTts{}, &fakeLlm{})

	for _, rate := range []int{7999, 48001} {
		o.HandleFrame(context.Background(), "conn-1", wire.Frame{
			EventType: wire.EventAudioStart,
			EventID:   "e1",
			Payload:   map[string]interface{}{"samplingRate": rate},
		})
	}

	errs := sink.byType(wire.ErrInvalidPayload)
	if len(errs) != 2 {
		t.Fatalf("expected 2 invalidPayload frames, got %d", len(errs))
	}
	if errs[0].EventID != "e1" {
		t.Fatalf("expected error to echo the request eventId, got %q", errs[0].EventID)
	}
	if errs[0].RequestType != wire.EventAudioStart {
		t.Fatalf("expected error requestType %q, got %q", wire.EventAudioStart, errs[0].RequestType)
	}
	if len(sink.byType(wire.EventAudioStart+".ack")) != 0 {
		t.Fatal("expected no ack for a rejected audio.start")
	}
}

func TestAudioStartAcksAndActivatesSession(t *testing.T) {
	o, sink, s := openTestChannel(t, &fakeStt{}, &fakeTts{}, &fakeLlm{})

	o.HandleFrame(context.Background(), "conn-1", wire.Frame{
		EventType: wire.EventAudioStart,
		EventID:   "e1",
		Payload:   map[string]interface{}{"samplingRate": 48000},
	})

	acks := sink.byType(wire.EventAudioStart + ".ack")
	if len(acks) != 1 || acks[0].EventID != "e1" {
		t.Fatalf("expected one ack echoing e1, got %+v", acks)
	}

	got := o.registry.GetBySessionID(s.SessionID)
	if got == nil || got.State != session.Active || got.Metadata.SamplingRate != 48000 {
		t.Fatalf("expected Active session with samplingRate 48000, got %+v", got)
	}
}

func TestAudioStartInterruptsActiveUtterance(t *testing.T) {
	ttsEng := &fakeTts{state: ttsengine.Streaming}
	o, sink, _ := openTestChannel(t, &fakeStt{}, ttsEng, &fakeLlm{})

	o.HandleFrame(context.Background(), "conn-1", wire.Frame{
		EventType: wire.EventAudioStart,
		EventID:   "e2",
		Payload:   map[string]interface{}{"samplingRate": 16000},
	})

	ttsEng.mu.Lock()
	cancelled := ttsEng.cancelled
	ttsEng.mu.Unlock()
	if cancelled != 1 {
		t.Fatalf("expected exactly one cancel for the barge-in, got %d", cancelled)
	}

	// The engine reports the cancellation through its event channel; the
	// pump translates it into response.interrupt.
	ttsEng.events <- ttsengine.Event{Type: ttsengine.EventCancelled, UtteranceID: "utt-0"}
	waitFor(t, func() bool {
		return len(sink.byType(wire.EventResponseInterrupt)) == 1
	}, "expected a response.interrupt frame")
}

func TestAudioChunkForwardsResampledAudio(t *testing.T) {
	sttEng := &fakeStt{}
	o, _, _ := openTestChannel(t, sttEng, &fakeTts{}, &fakeLlm{})

	o.HandleFrame(context.Background(), "conn-1", wire.Frame{
		EventType: wire.EventAudioStart,
		EventID:   "e1",
		Payload:   map[string]interface{}{"samplingRate": 16000},
	})
	o.HandleFrame(context.Background(), "conn-1", wire.Frame{
		EventType: wire.EventAudioChunk,
		EventID:   "e2",
		Payload:   map[string]interface{}{"audio": []byte{1, 0, 2, 0}},
	})

	sttEng.mu.Lock()
	n := len(sttEng.forwarded)
	sttEng.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 forwarded chunk, got %d", n)
	}
}

func TestAudioChunkMutedSkipsForward(t *testing.T) {
	sttEng := &fakeStt{}
	o, _, _ := openTestChannel(t, sttEng, &fakeTts{}, &fakeLlm{})

	o.HandleFrame(context.Background(), "conn-1", wire.Frame{
		EventType: wire.EventAudioChunk,
		EventID:   "e1",
		Payload:   map[string]interface{}{"audio": []byte{1, 0}, "isMuted": true},
	})

	sttEng.mu.Lock()
	n := len(sttEng.forwarded)
	sttEng.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected muted chunk to be skipped, got %d forwards", n)
	}
}

func TestAudioEndAcksAndRunsResponsePipeline(t *testing.T) {
	ttsEng := &fakeTts{}
	o, sink, _ := openTestChannel(t, &fakeStt{transcript: "hello there"}, ttsEng, &fakeLlm{})

	o.HandleFrame(context.Background(), "conn-1", wire.Frame{
		EventType: wire.EventAudioEnd,
		EventID:   "e3",
		Payload:   map[string]interface{}{},
	})

	acks := sink.byType(wire.EventAudioEnd + ".ack")
	if len(acks) != 1 || acks[0].EventID != "e3" {
		t.Fatalf("expected audio.end ack echoing e3, got %+v", acks)
	}

	waitFor(t, func() bool {
		ttsEng.mu.Lock()
		defer ttsEng.mu.Unlock()
		return len(ttsEng.synthesized) == 1 && ttsEng.synthesized[0] == "resp: hello there"
	}, "expected the LLM response to reach tts.Synthesize")
}

func TestAudioEndEmptyTranscriptSkipsPipeline(t *testing.T) {
	ttsEng := &fakeTts{}
	o, sink, _ := openTestChannel(t, &fakeStt{transcript: "   "}, ttsEng, &fakeLlm{})

	o.HandleFrame(context.Background(), "conn-1", wire.Frame{
		EventType: wire.EventAudioEnd,
		EventID:   "e4",
		Payload:   map[string]interface{}{},
	})

	if len(sink.byType(wire.EventAudioEnd+".ack")) != 1 {
		t.Fatal("expected audio.end still acked")
	}
	time.Sleep(50 * time.Millisecond)
	ttsEng.mu.Lock()
	n := len(ttsEng.synthesized)
	ttsEng.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no synthesis for an empty transcript, got %d", n)
	}
}

func TestUnknownEventTypeEmitsInvalidPayload(t *testing.T) {
	o, sink, _ := openTestChannel(t, &fakeStt{}, &fakeTts{}, &fakeLlm{})

	o.HandleFrame(context.Background(), "conn-1", wire.Frame{
		EventType: "voicechat.bogus",
		EventID:   "e5",
		Payload:   map[string]interface{}{},
	})

	errs := sink.byType(wire.ErrInvalidPayload)
	if len(errs) != 1 || errs[0].EventID != "e5" {
		t.Fatalf("expected invalidPayload echoing e5, got %+v", errs)
	}
}

func TestCloseEndsOnlyAttachedEngines(t *testing.T) {
	sttEng := &fakeStt{createErr: errors.New("attach failed")}
	ttsEng := &fakeTts{}
	llmEng := &fakeLlm{}
	o, _, _ := openTestChannel(t, sttEng, ttsEng, llmEng)

	o.Close("conn-1")

	sttEng.mu.Lock()
	sttEnded := sttEng.ended
	sttEng.mu.Unlock()
	if sttEnded {
		t.Fatal("expected stt.End to be skipped for an unattached engine")
	}
	ttsEng.mu.Lock()
	ttsEnded := ttsEng.ended
	ttsEng.mu.Unlock()
	llmEng.mu.Lock()
	llmEnded := llmEng.ended
	llmEng.mu.Unlock()
	if !ttsEnded || !llmEnded {
		t.Fatalf("expected attached engines torn down, got tts=%v llm=%v", ttsEnded, llmEnded)
	}

	if o.registry.Get("conn-1") != nil {
		t.Fatal("expected registry entry deleted on close")
	}
	if o.channel("conn-1") != nil {
		t.Fatal("expected channel state removed on close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	o, _, _ := openTestChannel(t, &fakeStt{}, &fakeTts{}, &fakeLlm{})
	o.Close("conn-1")
	o.Close("conn-1") // must not panic
}

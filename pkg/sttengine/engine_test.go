package sttengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/voicegateway/pkg/providers/stt"
	"github.com/lokutor-ai/voicegateway/pkg/voiceerr"
)

// fakeStream is a hand-rolled in-memory stt.Stream, driven by test code
// pushing segments/errors directly onto its channels.
type fakeStream struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	results chan stt.Segment
	errs    chan error
}

func newFakeStream() *fakeStream {
	return &fakeStream{results: make(chan stt.Segment, 8), errs: make(chan error, 8)}
}

func (f *fakeStream) Send(_ context.Context, pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("stream closed")
	}
	f.sent = append(f.sent, pcm)
	return nil
}

func (f *fakeStream) Finalize(_ context.Context) error { return nil }
func (f *fakeStream) Results() <-chan stt.Segment      { return f.results }
func (f *fakeStream) Errors() <-chan error             { return f.errs }
func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.results)
		close(f.errs)
	}
	return nil
}

// fakeProvider opens a scripted sequence of streams/errors, one per Open
// call, so tests can script connect-retry and reconnect scenarios.
type fakeProvider struct {
	mu      sync.Mutex
	opens   int
	outcome []func() (stt.Stream, error)
}

func (p *fakeProvider) Name() string { return "fake-stt" }

func (p *fakeProvider) Open(_ context.Context, _ stt.Config) (stt.Stream, error) {
	p.mu.Lock()
	i := p.opens
	p.opens++
	p.mu.Unlock()
	if i >= len(p.outcome) {
		i = len(p.outcome) - 1
	}
	return p.outcome[i]()
}

func fatalErr() (stt.Stream, error) {
	return nil, voiceerr.Classify(voiceerr.Auth, "fake: open", errors.New("401 unauthorized"))
}

func retryableErr() (stt.Stream, error) {
	return nil, voiceerr.Classify(voiceerr.Retryable, "fake: open", errors.New("503 unavailable"))
}

func TestCreate_HappyPath(t *testing.T) {
	stream := newFakeStream()
	p := &fakeProvider{outcome: []func() (stt.Stream, error){
		func() (stt.Stream, error) { return stream, nil },
	}}
	e := New(p, Config{ConnectDelays: []time.Duration{0}}, nil)

	if err := e.Create(context.Background(), "s1", stt.Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st, _ := e.ConnState("s1"); st != Connected {
		t.Fatalf("expected Connected, got %v", st)
	}
}

func TestCreate_FatalErrorShortCircuits(t *testing.T) {
	p := &fakeProvider{outcome: []func() (stt.Stream, error){fatalErr, fatalErr}}
	e := New(p, Config{ConnectDelays: []time.Duration{0, time.Millisecond, time.Millisecond}}, nil)

	if err := e.Create(context.Background(), "s1", stt.Config{}); err == nil {
		t.Fatal("expected error")
	}
	if p.opens != 1 {
		t.Fatalf("fatal errors must not retry, got %d opens", p.opens)
	}
	if st, _ := e.ConnState("s1"); st != Error {
		t.Fatalf("expected Error state, got %v", st)
	}
}

func TestCreate_RetriesThenSucceeds(t *testing.T) {
	stream := newFakeStream()
	p := &fakeProvider{outcome: []func() (stt.Stream, error){
		retryableErr,
		retryableErr,
		func() (stt.Stream, error) { return stream, nil },
	}}
	e := New(p, Config{ConnectDelays: []time.Duration{0, time.Millisecond, time.Millisecond}}, nil)

	if err := e.Create(context.Background(), "s1", stt.Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.opens != 3 {
		t.Fatalf("expected 3 opens, got %d", p.opens)
	}
	m, _ := e.Metrics("s1")
	if m.Reconnections != 2 {
		t.Fatalf("expected 2 reconnections counted, got %d", m.Reconnections)
	}
}

func TestForward_DropsForUnknownSession(t *testing.T) {
	p := &fakeProvider{outcome: []func() (stt.Stream, error){fatalErr}}
	e := New(p, Config{}, nil)
	e.Forward(context.Background(), "missing", []byte{1, 2, 3}) // must not panic
}

func TestForward_SendsWhenConnected(t *testing.T) {
	stream := newFakeStream()
	p := &fakeProvider{outcome: []func() (stt.Stream, error){
		func() (stt.Stream, error) { return stream, nil },
	}}
	e := New(p, Config{ConnectDelays: []time.Duration{0}}, nil)
	if err := e.Create(context.Background(), "s1", stt.Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e.Forward(context.Background(), "s1", []byte{1, 2, 3})

	stream.mu.Lock()
	n := len(stream.sent)
	stream.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 chunk forwarded, got %d", n)
	}
	m, _ := e.Metrics("s1")
	if m.ChunksReceived != 1 || m.ChunksForwarded != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestTranscriptAccumulatesFinalSegments(t *testing.T) {
	stream := newFakeStream()
	p := &fakeProvider{outcome: []func() (stt.Stream, error){
		func() (stt.Stream, error) { return stream, nil },
	}}
	e := New(p, Config{ConnectDelays: []time.Duration{0}, FinalizeQuiescence: 10 * time.Millisecond}, nil)
	if err := e.Create(context.Background(), "s1", stt.Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stream.results <- stt.Segment{Text: "hello", IsFinal: true}
	stream.results <- stt.Segment{Text: "world", IsFinal: true}

	transcript, err := e.Finalize(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transcript != "hello world " {
		t.Fatalf("unexpected transcript: %q", transcript)
	}

	// Calling Finalize again with no new audio returns the same transcript.
	transcript2, err := e.Finalize(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transcript2 != transcript {
		t.Fatalf("expected idempotent finalize, got %q vs %q", transcript2, transcript)
	}
}

func TestSegmentRingRecordsInterimAndFinal(t *testing.T) {
	stream := newFakeStream()
	p := &fakeProvider{outcome: []func() (stt.Stream, error){
		func() (stt.Stream, error) { return stream, nil },
	}}
	e := New(p, Config{ConnectDelays: []time.Duration{0}, FinalizeQuiescence: 10 * time.Millisecond}, nil)
	if err := e.Create(context.Background(), "s1", stt.Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stream.results <- stt.Segment{Text: "hel", IsFinal: false}
	stream.results <- stt.Segment{Text: "hello", IsFinal: true}
	if _, err := e.Finalize(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	segs, ok := e.Segments("s1")
	if !ok || len(segs) != 2 {
		t.Fatalf("expected 2 recorded segments, got %d (ok=%v)", len(segs), ok)
	}
	if segs[0].IsFinal || !segs[1].IsFinal {
		t.Fatalf("expected interim then final, got %+v", segs)
	}
}

func TestMidStreamReconnectOnRetryableError(t *testing.T) {
	stream1 := newFakeStream()
	stream2 := newFakeStream()
	p := &fakeProvider{outcome: []func() (stt.Stream, error){
		func() (stt.Stream, error) { return stream1, nil },
		func() (stt.Stream, error) { return stream2, nil },
	}}
	e := New(p, Config{ConnectDelays: []time.Duration{0}, ReconnectDelays: []time.Duration{0}}, nil)
	if err := e.Create(context.Background(), "s1", stt.Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stream1.errs <- voiceerr.Classify(voiceerr.Network, "fake: read", errors.New("connection reset"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		s := e.sessions["s1"]
		e.mu.Unlock()
		s.mu.Lock()
		connected := s.stream == stream2 && s.connState == Connected
		s.mu.Unlock()
		if connected {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected session to reconnect onto stream2")
}

func TestEnd_ClosesStreamAndRemovesSession(t *testing.T) {
	stream := newFakeStream()
	p := &fakeProvider{outcome: []func() (stt.Stream, error){
		func() (stt.Stream, error) { return stream, nil },
	}}
	e := New(p, Config{ConnectDelays: []time.Duration{0}}, nil)
	if err := e.Create(context.Background(), "s1", stt.Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e.End("s1")

	if _, ok := e.ConnState("s1"); ok {
		t.Fatal("expected session to be removed")
	}
	stream.mu.Lock()
	closed := stream.closed
	stream.mu.Unlock()
	if !closed {
		t.Fatal("expected stream to be closed")
	}
}

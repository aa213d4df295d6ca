package stt

import (
	"context"
	"sync"
	"time"
)

// EchoSTT is a loopback Provider: it never contacts a vendor, it just
// counts the bytes of audio it receives and, on Finalize, reports them as
// one final transcript segment reading "echo:<n>" (no segment when no audio
// arrived). It exists purely so the STT
// Engine's reconnection/finalize/forward plumbing can be exercised end to
// end, including by the demo client, without a live vendor key.
type EchoSTT struct{}

func NewEchoSTT() *EchoSTT { return &EchoSTT{} }

func (e *EchoSTT) Name() string { return "echo-stt" }

func (e *EchoSTT) Open(_ context.Context, cfg Config) (Stream, error) {
	return &echoStream{cfg: cfg, results: make(chan Segment, 4), errs: make(chan error, 1)}, nil
}

type echoStream struct {
	cfg Config

	mu       sync.Mutex
	received int

	results chan Segment
	errs    chan error
	once    sync.Once
}

func (s *echoStream) Send(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	s.received += len(pcm)
	s.mu.Unlock()
	return nil
}

func (s *echoStream) Finalize(_ context.Context) error {
	s.mu.Lock()
	n := s.received
	s.received = 0
	s.mu.Unlock()
	if n == 0 {
		return nil
	}
	seg := Segment{
		Text:       echoText(n),
		Confidence: 1,
		IsFinal:    true,
		Timestamp:  time.Now(),
	}
	select {
	case s.results <- seg:
	default:
	}
	return nil
}

func (s *echoStream) Results() <-chan Segment { return s.results }
func (s *echoStream) Errors() <-chan error    { return s.errs }

func (s *echoStream) Close() error {
	s.once.Do(func() {
		close(s.results)
	})
	return nil
}

func echoText(bytesReceived int) string {
	const base = "echo:"
	buf := make([]byte, 0, len(base)+12)
	buf = append(buf, base...)
	buf = appendInt(buf, bytesReceived)
	return string(buf)
}

func appendInt(buf []byte, n int) []byte {
	if n == 0 {
		return append(buf, '0')
	}
	start := len(buf)
	for n > 0 {
		buf = append(buf, byte('0'+n%10))
		n /= 10
	}
	// reverse the digits just appended
	for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}

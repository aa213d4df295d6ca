package stt

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// transcribeFunc performs one vendor's complete batch transcription call.
type transcribeFunc func(ctx context.Context, pcm []byte, cfg Config) (string, error)

// batchStream adapts a request/response vendor API (upload-then-poll, or a
// single multipart POST) to the Stream interface: Send accumulates audio,
// Finalize performs the actual vendor call and emits one final Segment.
// This is the shared plumbing behind the Groq, OpenAI Whisper, and
// AssemblyAI adapters, none of which expose a true bidirectional stream.
type batchStream struct {
	cfg        Config
	transcribe transcribeFunc

	mu  sync.Mutex
	buf bytes.Buffer

	results chan Segment
	errs    chan error
	closed  chan struct{}
	once    sync.Once
}

func newBatchStream(cfg Config, fn transcribeFunc) *batchStream {
	return &batchStream{
		cfg:        cfg,
		transcribe: fn,
		results:    make(chan Segment, 4),
		errs:       make(chan error, 4),
		closed:     make(chan struct{}),
	}
}

func (b *batchStream) Send(_ context.Context, pcm []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(pcm)
	return nil
}

func (b *batchStream) Finalize(ctx context.Context) error {
	b.mu.Lock()
	pcm := make([]byte, b.buf.Len())
	copy(pcm, b.buf.Bytes())
	b.buf.Reset()
	b.mu.Unlock()

	if len(pcm) == 0 {
		return nil
	}

	text, err := b.transcribe(ctx, pcm, b.cfg)
	if err != nil {
		select {
		case b.errs <- err:
		case <-b.closed:
		}
		return err
	}

	seg := Segment{Text: text, Confidence: 1, IsFinal: true, Timestamp: time.Now()}
	select {
	case b.results <- seg:
	case <-b.closed:
	}
	return nil
}

func (b *batchStream) Results() <-chan Segment { return b.results }
func (b *batchStream) Errors() <-chan error    { return b.errs }

func (b *batchStream) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

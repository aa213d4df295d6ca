package stt

import (
	"context"
	"errors"
	"testing"
)

func TestBatchStreamFinalizeEmitsSegment(t *testing.T) {
	bs := newBatchStream(Config{SampleRate: 16000}, func(ctx context.Context, pcm []byte, cfg Config) (string, error) {
		if len(pcm) != 8 {
			t.Fatalf("expected 8 accumulated bytes, got %d", len(pcm))
		}
		return "hello world", nil
	})

	bs.Send(context.Background(), make([]byte, 4))
	bs.Send(context.Background(), make([]byte, 4))

	if err := bs.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	seg := <-bs.Results()
	if seg.Text != "hello world" || !seg.IsFinal {
		t.Fatalf("unexpected segment: %+v", seg)
	}
}

func TestBatchStreamFinalizeWithNoAudioIsNoOp(t *testing.T) {
	called := false
	bs := newBatchStream(Config{}, func(ctx context.Context, pcm []byte, cfg Config) (string, error) {
		called = true
		return "", nil
	})

	if err := bs.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if called {
		t.Fatal("expected transcribe not to be invoked with no buffered audio")
	}
}

func TestBatchStreamFinalizePropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	bs := newBatchStream(Config{}, func(ctx context.Context, pcm []byte, cfg Config) (string, error) {
		return "", wantErr
	})
	bs.Send(context.Background(), []byte{1})

	err := bs.Finalize(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wantErr, got %v", err)
	}
	select {
	case gotErr := <-bs.Errors():
		if !errors.Is(gotErr, wantErr) {
			t.Fatalf("expected wantErr on Errors channel, got %v", gotErr)
		}
	default:
		t.Fatal("expected an error on the Errors channel")
	}
}

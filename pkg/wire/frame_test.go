package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func encodeRaw(raw wireFrame) ([]byte, error) {
	return msgpack.Marshal(&raw)
}

func asParseError(err error, target **ParseError) bool {
	return errors.As(err, target)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{
		EventType: EventAudioChunk,
		EventID:   "e-1",
		SessionID: "s-1",
		Payload: map[string]interface{}{
			"audio":   []byte{1, 2, 3, 4},
			"isMuted": false,
		},
	}

	b, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.EventType != f.EventType || got.EventID != f.EventID || got.SessionID != f.SessionID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}

	audio, ok := PayloadBytes(got.Payload, "audio")
	if !ok || !bytes.Equal(audio, []byte{1, 2, 3, 4}) {
		t.Fatalf("audio payload mismatch: %v", audio)
	}
}

func TestEncodeDecodeIsIdempotent(t *testing.T) {
	f := Frame{EventType: EventAudioStart, EventID: "e-2", Payload: map[string]interface{}{"samplingRate": 48000}}

	b1, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(b1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b2, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("encode(decode(bytes)) != bytes")
	}
}

func TestErrorFrameCarriesTopLevelRequestType(t *testing.T) {
	f := ErrorFrame(ErrInvalidPayload, "e-err", "s-1", EventAudioChunk, "audio must be binary")

	b, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.RequestType != EventAudioChunk {
		t.Fatalf("expected requestType %q, got %q", EventAudioChunk, got.RequestType)
	}
	if msg, ok := PayloadString(got.Payload, "message"); !ok || msg != "audio must be binary" {
		t.Fatalf("unexpected message payload: %q %v", msg, ok)
	}
}

func TestDecodeRejectsNonStringEventType(t *testing.T) {
	raw := wireFrame{
		EventType: 42,
		EventID:   "e-3",
		Payload:   map[string]interface{}{},
	}
	b, err := encodeRaw(raw)
	if err != nil {
		t.Fatalf("marshal raw: %v", err)
	}

	_, err = Decode(b)
	if err == nil {
		t.Fatal("expected a ParseError for a non-string eventType")
	}
	var pe *ParseError
	if !asParseError(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func TestDecodeMalformedBytes(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	if err == nil {
		t.Fatal("expected an error decoding garbage bytes")
	}
}

func TestPayloadIntToleratesNumericKinds(t *testing.T) {
	payload := map[string]interface{}{"a": int64(16000), "b": float64(48000)}
	if v, ok := PayloadInt(payload, "a"); !ok || v != 16000 {
		t.Fatalf("int64 coercion failed: %v %v", v, ok)
	}
	if v, ok := PayloadInt(payload, "b"); !ok || v != 48000 {
		t.Fatalf("float64 coercion failed: %v %v", v, ok)
	}
}

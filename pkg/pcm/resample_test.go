package pcm

import (
	"encoding/binary"
	"testing"
)

func samplesToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], uint16(s))
	}
	return b
}

func TestResampleIdentityAt16kHz(t *testing.T) {
	in := samplesToBytes([]int16{100, 200, 300, 400})
	out := Resample("s1", in, TargetSampleRate)

	if &out[0] != &in[0] {
		t.Fatal("expected the exact input reference to be returned for srcRate == 16000")
	}
}

func TestResampleEmptyInput(t *testing.T) {
	out := Resample("s1", []byte{}, 48000)
	if len(out) != 0 {
		t.Fatalf("expected empty output for empty input, got %d bytes", len(out))
	}
}

func TestResampleOutOfRangePassesThrough(t *testing.T) {
	in := samplesToBytes([]int16{1, 2, 3})
	out := Resample("s1", in, 7999)
	if len(out) != len(in) {
		t.Fatalf("expected passthrough length %d, got %d", len(in), len(out))
	}

	out = Resample("s1", in, 48001)
	if len(out) != len(in) {
		t.Fatalf("expected passthrough length %d, got %d", len(in), len(out))
	}
}

func TestResampleLengthRatio(t *testing.T) {
	n := 4800 // 100ms @ 48kHz
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	in := samplesToBytes(samples)

	out := Resample("s1", in, 48000)
	gotSamples := len(out) / 2
	wantSamples := n * TargetSampleRate / 48000

	diff := gotSamples - wantSamples
	if diff < 0 {
		diff = -diff
	}
	if diff > 1 {
		t.Fatalf("resample length ratio off: got %d samples, want ~%d", gotSamples, wantSamples)
	}
}

func TestResampleClampsOverflow(t *testing.T) {
	in := samplesToBytes([]int16{32767, -32768, 32767, -32768})
	out := Resample("s1", in, 44100)
	if len(out) == 0 {
		t.Fatal("expected non-empty output")
	}
	// No assertion beyond "did not panic / produced output": clamp behavior
	// on interpolated extremes is covered by construction (clampSample bounds
	// every sample to int16 range before narrowing).
}

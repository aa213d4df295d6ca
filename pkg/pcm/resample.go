// Package pcm implements the stateless 16-bit PCM resampling the
// Orchestrator applies to inbound microphone audio before it reaches the STT
// Engine, and the TTS Engine applies to provider audio before it reaches the
// client.
package pcm

import (
	"encoding/binary"
	"log/slog"
)

// TargetSampleRate is the system-wide rate the STT path resamples to.
const TargetSampleRate = 16000

const (
	minSourceRate = 8000
	maxSourceRate = 48000
)

// Resample converts little-endian 16-bit mono PCM from srcRate to
// TargetSampleRate using linear interpolation with no low-pass filtering.
// The algorithm trades filtering quality for sub-2ms latency on a 100ms
// chunk, which speech-grade STT/TTS providers tolerate.
//
// sessionID is accepted only for log correlation; the function itself is
// stateless and holds no per-session data.
func Resample(sessionID string, pcm []byte, srcRate int) []byte {
	if len(pcm) == 0 {
		return pcm
	}
	if srcRate < minSourceRate || srcRate > maxSourceRate {
		slog.Error("pcm: sample rate out of range, passing audio through unchanged",
			"sessionId", sessionID, "srcRate", srcRate)
		return pcm
	}
	if srcRate == TargetSampleRate {
		return pcm
	}

	out, err := resampleLinear(pcm, srcRate, TargetSampleRate)
	if err != nil {
		slog.Error("pcm: resample failed, returning original buffer",
			"sessionId", sessionID, "srcRate", srcRate, "err", err)
		return pcm
	}
	return out
}

// ResampleTo converts little-endian 16-bit mono PCM from srcRate to an
// arbitrary dstRate, for the TTS Engine's provider-rate-to-client-rate leg
// where the destination isn't the fixed TargetSampleRate. Same linear
// interpolation and range checks as Resample.
func ResampleTo(sessionID string, pcm []byte, srcRate, dstRate int) []byte {
	if len(pcm) == 0 || srcRate == dstRate {
		return pcm
	}
	if srcRate < minSourceRate || srcRate > maxSourceRate || dstRate < minSourceRate || dstRate > maxSourceRate {
		slog.Error("pcm: sample rate out of range, passing audio through unchanged",
			"sessionId", sessionID, "srcRate", srcRate, "dstRate", dstRate)
		return pcm
	}

	out, err := resampleLinear(pcm, srcRate, dstRate)
	if err != nil {
		slog.Error("pcm: resample failed, returning original buffer",
			"sessionId", sessionID, "srcRate", srcRate, "dstRate", dstRate, "err", err)
		return pcm
	}
	return out
}

func resampleLinear(pcm []byte, srcRate, dstRate int) ([]byte, error) {
	n := len(pcm) / 2
	if n == 0 {
		return nil, nil
	}

	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}

	ratio := float64(dstRate) / float64(srcRate)
	outN := int(float64(n) * ratio)
	if outN < 1 {
		outN = 1
	}

	out := make([]byte, outN*2)
	step := float64(srcRate) / float64(dstRate)

	for i := 0; i < outN; i++ {
		srcPos := float64(i) * step
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		var s0, s1 int16
		if idx >= n-1 {
			s0 = samples[n-1]
			s1 = samples[n-1]
		} else {
			s0 = samples[idx]
			s1 = samples[idx+1]
		}

		interpolated := float64(s0) + (float64(s1)-float64(s0))*frac
		clamped := clampSample(interpolated)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(clamped))
	}

	return out, nil
}

func clampSample(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

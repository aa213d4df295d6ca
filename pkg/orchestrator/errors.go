package orchestrator

import "errors"

var (
	// ErrSamplingRateOutOfRange is returned by HandleAudioStart when the
	// requested samplingRate falls outside [8000, 48000].
	ErrSamplingRateOutOfRange = errors.New("orchestrator: samplingRate out of range")

	// ErrMissingAudio is returned by HandleAudioChunk when the payload's
	// audio field is absent or not binary.
	ErrMissingAudio = errors.New("orchestrator: audio.chunk missing binary audio")

	// ErrUnknownSession is returned when a frame references a sessionId the
	// registry has no record of.
	ErrUnknownSession = errors.New("orchestrator: unknown session")
)

// Package wire implements the framed binary codec for the bidirectional
// voice channel: every message exchanged between client and server is a
// Frame, encoded with msgpack so that the payload can carry raw audio bytes
// alongside string fields without any base64 inflation.
package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Canonical error codes surfaced to the client, per the protocol's error
// taxonomy. These are wire-format string constants, not Go error types.
const (
	ErrInvalidPayload  = "invalidPayload"
	ErrSessionError    = "sessionError"
	ErrConnectionError = "connectionError"
	ErrAudioError      = "audioError"
	ErrSttError        = "sttError"
	ErrLlmError        = "llmError"
	ErrTtsError        = "ttsError"
	ErrInternalError   = "internalError"
)

// Inbound event types (client -> server).
const (
	EventAudioStart = "voicechat.audio.start"
	EventAudioChunk = "voicechat.audio.chunk"
	EventAudioEnd   = "voicechat.audio.end"
)

// Outbound event types (server -> client).
const (
	EventConnectionAck     = "connection.ack"
	EventResponseStart     = "voicechat.response.start"
	EventResponseChunk     = "voicechat.response.chunk"
	EventResponseComplete  = "voicechat.response.complete"
	EventResponseInterrupt = "voicechat.response.interrupt"
	EventErrorUnknown      = "error.unknown"
)

// Frame is the envelope carried by every message on the channel.
// RequestType is only set on "*.error" frames, naming the inbound
// eventType that triggered the error.
type Frame struct {
	EventType   string                 `msgpack:"eventType"`
	EventID     string                 `msgpack:"eventId"`
	SessionID   string                 `msgpack:"sessionId,omitempty"`
	RequestType string                 `msgpack:"requestType,omitempty"`
	Payload     map[string]interface{} `msgpack:"payload"`
}

// AckFrame returns a "*.ack" style outbound frame echoing the request's
// eventId and carrying the session's id.
func AckFrame(eventType, eventID, sessionID string) Frame {
	return Frame{
		EventType: eventType,
		EventID:   eventID,
		SessionID: sessionID,
		Payload:   map[string]interface{}{"sessionId": sessionID},
	}
}

// ErrorFrame builds a "*.error" outbound frame. requestType identifies the
// inbound frame that triggered the error.
func ErrorFrame(code, eventID, sessionID, requestType, message string) Frame {
	return Frame{
		EventType:   code,
		EventID:     eventID,
		SessionID:   sessionID,
		RequestType: requestType,
		Payload: map[string]interface{}{
			"message": message,
		},
	}
}

// ParseError is returned by Decode when the input is not a well-formed
// Frame. Err wraps the underlying msgpack error, if any.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("wire: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Encode serializes a Frame to its binary wire representation.
func Encode(f Frame) ([]byte, error) {
	if f.Payload == nil {
		f.Payload = map[string]interface{}{}
	}
	b, err := msgpack.Marshal(&f)
	if err != nil {
		return nil, &ParseError{Reason: "encode failed", Err: err}
	}
	return b, nil
}

// wireFrame mirrors Frame but keeps fields as raw interfaces so Decode can
// validate their concrete types before committing to a typed Frame.
type wireFrame struct {
	EventType   interface{}            `msgpack:"eventType"`
	EventID     interface{}            `msgpack:"eventId"`
	SessionID   interface{}            `msgpack:"sessionId"`
	RequestType interface{}            `msgpack:"requestType"`
	Payload     map[string]interface{} `msgpack:"payload"`
}

// Decode parses the binary wire representation back into a Frame. Frames
// whose eventType, eventId, or (when present) sessionId are not strings are
// rejected with a ParseError; the caller is expected to turn that into an
// invalidPayload error frame referencing eventType "error.unknown" since the
// real type could not be safely extracted.
func Decode(b []byte) (Frame, error) {
	var raw wireFrame
	if err := msgpack.Unmarshal(b, &raw); err != nil {
		return Frame{}, &ParseError{Reason: "malformed msgpack", Err: err}
	}

	eventType, ok := raw.EventType.(string)
	if !ok {
		return Frame{}, &ParseError{Reason: "eventType is not a string"}
	}
	eventID, ok := raw.EventID.(string)
	if !ok {
		return Frame{}, &ParseError{Reason: "eventId is not a string"}
	}

	var sessionID string
	if raw.SessionID != nil {
		sessionID, ok = raw.SessionID.(string)
		if !ok {
			return Frame{}, &ParseError{Reason: "sessionId is not a string"}
		}
	}

	var requestType string
	if raw.RequestType != nil {
		requestType, ok = raw.RequestType.(string)
		if !ok {
			return Frame{}, &ParseError{Reason: "requestType is not a string"}
		}
	}

	payload := raw.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	return Frame{
		EventType:   eventType,
		EventID:     eventID,
		SessionID:   sessionID,
		RequestType: requestType,
		Payload:     payload,
	}, nil
}

// PayloadBytes extracts a binary field from a decoded payload. msgpack
// decodes its "bin" type into a []byte directly, so no base64 step is
// needed here, unlike a JSON-based codec.
func PayloadBytes(payload map[string]interface{}, key string) ([]byte, bool) {
	v, ok := payload[key]
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// PayloadString extracts a string field from a decoded payload.
func PayloadString(payload map[string]interface{}, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// PayloadInt extracts an integer field, tolerating the several numeric
// types msgpack may decode into depending on the encoded width.
func PayloadInt(payload map[string]interface{}, key string) (int, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// PayloadBool extracts a boolean field from a decoded payload.
func PayloadBool(payload map[string]interface{}, key string) (bool, bool) {
	v, ok := payload[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

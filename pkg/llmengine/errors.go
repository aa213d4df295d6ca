package llmengine

import (
	"context"
	"errors"
	"strings"

	"github.com/lokutor-ai/voicegateway/pkg/voiceerr"
)

// classify maps a raw vendor error returned by llm.Provider.Complete into
// the shared voiceerr taxonomy. None of the four vendor SDKs in this repo
// (OpenAI, Groq-via-OpenAI, Anthropic, Google genai) expose a common typed
// status accessor, so this dispatches on the error's string content rather
// than pulling in a fifth shape of error handling per vendor.
func classify(err error) voiceerr.Kind {
	if err == nil {
		return voiceerr.Unknown
	}
	if kind := voiceerr.KindOf(err); kind != voiceerr.Unknown {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return voiceerr.Timeout
	}
	if errors.Is(err, context.Canceled) {
		return voiceerr.Network
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "403", "unauthorized", "forbidden", "invalid api key", "invalid_api_key"):
		return voiceerr.Auth
	case containsAny(msg, "400", "404", "not found", "model_not_found", "invalid request"):
		return voiceerr.Fatal
	case containsAny(msg, "429", "rate limit", "rate_limit", "quota"):
		return voiceerr.RateLimit
	case containsAny(msg, "timeout", "deadline exceeded"):
		return voiceerr.Timeout
	case containsAny(msg, "connection reset", "connection refused", "no such host", "eof", "broken pipe"):
		return voiceerr.Network
	case containsAny(msg, "500", "502", "503", "504", "internal server error", "service unavailable"):
		return voiceerr.Retryable
	default:
		return voiceerr.Unknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

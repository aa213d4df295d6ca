package llm

import "context"

// EchoLLM is a loopback Provider: it never contacts a vendor, it replies
// to the latest user message by echoing it back with a fixed prefix. It
// exists for the same reason EchoSTT/EchoTTS exist on the other two
// engines — so the full Orchestrator pipeline can be exercised by the
// demo CLI client and by tests without a live vendor key, through the
// same Provider capability a real vendor would satisfy.
type EchoLLM struct{}

func NewEchoLLM() *EchoLLM { return &EchoLLM{} }

func (e *EchoLLM) Name() string { return "echo-llm" }

func (e *EchoLLM) Complete(_ context.Context, messages []Message) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return "you said: " + messages[i].Content, nil
		}
	}
	return "I didn't catch that.", nil
}

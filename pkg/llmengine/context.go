package llmengine

import (
	"time"

	"github.com/lokutor-ai/voicegateway/pkg/providers/llm"
)

// Context is the per-session conversation history the LLM Engine builds
// and evicts, generalizing a mutex-guarded conversation struct that kept
// its history inline into a standalone, engine-owned type.
type Context struct {
	SessionID     string
	Messages      []llm.Message
	MessageCount  int
	CreatedAt     time.Time
	LastMessageAt time.Time
}

func newContext(sessionID, systemPrompt string) *Context {
	now := time.Now()
	c := &Context{
		SessionID:     sessionID,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if systemPrompt != "" {
		c.Messages = append(c.Messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
		c.MessageCount = 1
	}
	return c
}

// append adds a message and enforces maxMessages by trimming the oldest
// non-system messages, always preserving the system prompt at index 0.
func (c *Context) append(role llm.Role, content string, maxMessages int) {
	c.Messages = append(c.Messages, llm.Message{Role: role, Content: content})
	c.MessageCount++
	c.LastMessageAt = time.Now()

	if maxMessages <= 0 || len(c.Messages) <= maxMessages {
		return
	}
	hasSystem := len(c.Messages) > 0 && c.Messages[0].Role == llm.RoleSystem
	if hasSystem {
		overflow := len(c.Messages) - maxMessages
		c.Messages = append(c.Messages[:1:1], c.Messages[1+overflow:]...)
	} else {
		c.Messages = c.Messages[len(c.Messages)-maxMessages:]
	}
}

func (c *Context) snapshot() []llm.Message {
	cp := make([]llm.Message, len(c.Messages))
	copy(cp, c.Messages)
	return cp
}

// expired reports whether c should be swept: idle past idleTimeout, total
// age past maxDuration, or message count above cap.
func (c *Context) expired(now time.Time, idleTimeout, maxDuration time.Duration, maxMessages int) bool {
	if idleTimeout > 0 && now.Sub(c.LastMessageAt) > idleTimeout {
		return true
	}
	if maxDuration > 0 && now.Sub(c.CreatedAt) > maxDuration {
		return true
	}
	if maxMessages > 0 && c.MessageCount > maxMessages {
		return true
	}
	return false
}

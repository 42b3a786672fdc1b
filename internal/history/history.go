// Package history stores per-session conversation turns for multi-turn
// question answering.
package history

import (
	"context"
	"strings"
	"time"
)

// Message is one stored conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DefaultTTL is how long an idle session's history is kept.
const DefaultTTL = 24 * time.Hour

// Store persists conversation history per session.
type Store interface {
	// Get returns up to limit most recent messages in chronological order.
	Get(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// Append adds messages to the end of the session's history.
	Append(ctx context.Context, sessionID string, messages ...Message) error

	Close() error
}

// FormatForPrompt renders messages as alternating 사용자/도우미 lines for
// inclusion in an LLM prompt.
func FormatForPrompt(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range messages {
		label := "사용자"
		if m.Role == "assistant" {
			label = "도우미"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

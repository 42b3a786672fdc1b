// Package llm provides chat completion via an OpenAI-compatible endpoint.
package llm

import (
	"context"
	"errors"
)

// ErrLLMUnavailable is returned when the language model cannot be reached or
// keeps failing past the retry budget.
var ErrLLMUnavailable = errors.New("language model unavailable")

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Options tune a single completion request.
type Options struct {
	Temperature float64
	MaxTokens   int
	// JSONMode forces the model to emit a single JSON object.
	JSONMode bool
}

// Client generates chat completions.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
	ModelName() string
}

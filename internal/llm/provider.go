// Package llm provides chat model access behind a provider contract.
package llm

import "context"

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single chat call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Result is the raw model output plus usage accounting.
type Result struct {
	Content      string
	Model        string
	FinishReason string
	PromptTokens int
	OutputTokens int
}

// ChatModel produces a completion for a message sequence.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, opts Options) (*Result, error)
	Model() string
}

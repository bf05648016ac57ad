package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

var nodeIDPattern = regexp.MustCompile(`node_id=([0-9a-fA-F-]{36})`)

// Mock is a deterministic ChatModel for development and tests. By default it
// answers with a structured JSON object citing the first evidence entries it
// finds in the prompt; RespondFunc overrides that behavior per test.
type Mock struct {
	ModelName   string
	RespondFunc func(ctx context.Context, messages []Message, opts Options) (*Result, error)
}

// NewMock creates a mock chat model.
func NewMock(model string) *Mock {
	if model == "" {
		model = "mock-chat"
	}
	return &Mock{ModelName: model}
}

// Chat returns the canned or computed response.
func (m *Mock) Chat(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.RespondFunc != nil {
		return m.RespondFunc(ctx, messages, opts)
	}

	var prompt string
	for _, msg := range messages {
		prompt += msg.Content + "\n"
	}

	ids := nodeIDPattern.FindAllStringSubmatch(prompt, 3)
	citations := make([]map[string]interface{}, 0, len(ids))
	for i, match := range ids {
		citations = append(citations, map[string]interface{}{
			"node_id": match[1],
			"rank":    i + 1,
		})
	}

	answer := "No evidence was provided, so no grounded answer can be given."
	if len(citations) > 0 {
		answer = fmt.Sprintf("Based on the provided evidence, the relevant provisions are covered by %d cited source(s). See the citations for the exact passages.", len(citations))
	}

	out, err := json.Marshal(map[string]interface{}{
		"answer":    answer,
		"citations": citations,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Content:      string(out),
		Model:        m.ModelName,
		FinishReason: "stop",
		PromptTokens: len(prompt) / 4,
		OutputTokens: len(out) / 4,
	}, nil
}

// Model returns the mock's model name.
func (m *Mock) Model() string { return m.ModelName }

var _ ChatModel = (*Mock)(nil)

package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexora-ai/rag-core/internal/core"
	"github.com/lexora-ai/rag-core/internal/llm"
)

// Rerank strategies.
const (
	RerankNone         = "none"
	RerankCrossEncoder = "cross_encoder"
	RerankLLM          = "llm"
)

// RerankInput is one fused candidate handed to a reranker.
type RerankInput struct {
	NodeID    uuid.UUID
	Text      string
	FusedRank int
}

// RerankOutput is one rescored candidate.
type RerankOutput struct {
	NodeID uuid.UUID
	Score  float64
}

// Reranker rescoring fused candidates against the query. A reranker error
// never fails retrieval; the caller falls back to the fused ordering and
// records why.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankInput) ([]RerankOutput, error)
	Strategy() string
	Model() string
}

// CrossEncoderReranker calls an external scoring endpoint in the text
// embeddings inference /rerank shape: {query, texts} in, indexed scores out.
type CrossEncoderReranker struct {
	httpClient *http.Client
	endpoint   string
	model      string
}

// NewCrossEncoderReranker creates a cross-encoder reranker.
func NewCrossEncoderReranker(endpoint, model string, timeout time.Duration) (*CrossEncoderReranker, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("rerank endpoint is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CrossEncoderReranker{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		model:      model,
	}, nil
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank scores candidates against the query.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []RerankInput) ([]RerankOutput, error) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Model: r.model})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, core.Wrap(core.KindExternal, "rerank request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.Wrap(core.KindExternal, "read rerank response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.Ef(core.KindExternal, "rerank API error: status %d", resp.StatusCode)
	}

	var scores []rerankScore
	if err := json.Unmarshal(respBody, &scores); err != nil {
		return nil, core.Wrap(core.KindExternal, "unmarshal rerank response", err)
	}

	out := make([]RerankOutput, 0, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(candidates) {
			return nil, core.Ef(core.KindExternal, "rerank returned out-of-range index %d", s.Index)
		}
		out = append(out, RerankOutput{NodeID: candidates[s.Index].NodeID, Score: s.Score})
	}
	return out, nil
}

// Strategy returns the strategy name.
func (r *CrossEncoderReranker) Strategy() string { return RerankCrossEncoder }

// Model returns the configured model name.
func (r *CrossEncoderReranker) Model() string { return r.model }

// LLMReranker asks a chat model to score each passage for relevance.
type LLMReranker struct {
	model llm.ChatModel
}

// NewLLMReranker creates a reranker backed by a chat model.
func NewLLMReranker(model llm.ChatModel) *LLMReranker {
	return &LLMReranker{model: model}
}

const llmRerankInstruction = `You score passages for relevance to a question.
Return ONLY a JSON array, one entry per passage, in any order:
[{"index": <passage number>, "score": <0.0 to 1.0>}]`

// Rerank scores candidates with one model call.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []RerankInput) ([]RerankOutput, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nPassages:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i, c.Text)
	}

	result, err := r.model.Chat(ctx, []llm.Message{
		{Role: "system", Content: llmRerankInstruction},
		{Role: "user", Content: b.String()},
	}, llm.Options{Temperature: 0})
	if err != nil {
		return nil, err
	}

	var scores []rerankScore
	if err := json.Unmarshal([]byte(extractJSONArray(result.Content)), &scores); err != nil {
		return nil, core.Wrap(core.KindExternal, "parse llm rerank scores", err)
	}

	out := make([]RerankOutput, 0, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(candidates) {
			continue
		}
		out = append(out, RerankOutput{NodeID: candidates[s.Index].NodeID, Score: s.Score})
	}
	if len(out) == 0 {
		return nil, core.E(core.KindExternal, "llm rerank produced no usable scores")
	}
	return out, nil
}

// Strategy returns the strategy name.
func (r *LLMReranker) Strategy() string { return RerankLLM }

// Model returns the underlying chat model name.
func (r *LLMReranker) Model() string { return r.model.Model() }

// extractJSONArray pulls the first top-level JSON array out of model text,
// tolerating code fences and prose around it.
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

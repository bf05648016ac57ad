// Package client provides the public Go SDK for the RAG core HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the public SDK client for the RAG core API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Config holds client configuration. BaseURL defaults to the local
// development server; HTTPClient may be supplied for custom transports.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New creates a RAG core API client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, http: httpClient}
}

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// KnowledgeBase mirrors the server's knowledge base resource.
type KnowledgeBase struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	EmbedProvider string `json:"embed_provider"`
	EmbedModel    string `json:"embed_model"`
	EmbedDim      int    `json:"embed_dim"`
}

// CreateKBRequest creates a knowledge base. Unset embedding fields fall back
// to the server's configured defaults.
type CreateKBRequest struct {
	Name          string `json:"name"`
	EmbedProvider string `json:"embed_provider,omitempty"`
	EmbedModel    string `json:"embed_model,omitempty"`
	EmbedDim      int    `json:"embed_dim,omitempty"`
}

// IngestRequest submits one document as inline text.
type IngestRequest struct {
	KB            string `json:"kb"`
	FileName      string `json:"file_name"`
	SourceURI     string `json:"source_uri,omitempty"`
	Content       string `json:"content,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
	Force         bool   `json:"force,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
}

// GateCheck is one named gate check result.
type GateCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// GateReport summarizes a stage gate verdict.
type GateReport struct {
	Name    string      `json:"name"`
	Status  string      `json:"status"`
	Reasons []string    `json:"reasons,omitempty"`
	Checks  []GateCheck `json:"checks"`
}

// IngestReport is the outcome of one ingest run.
type IngestReport struct {
	FileID     string           `json:"file_id"`
	DocumentID string           `json:"document_id,omitempty"`
	KBID       string           `json:"kb_id"`
	SHA256     string           `json:"sha256"`
	Status     string           `json:"status"`
	Skipped    bool             `json:"skipped"`
	Pages      int              `json:"pages"`
	NodeCount  int              `json:"node_count"`
	Gate       GateReport       `json:"gate"`
	Timings    map[string]int64 `json:"timings_ms"`
	Error      string           `json:"error,omitempty"`
}

// ChatRequest asks one question. Context carries per-call overrides such as
// fusion_strategy or return_hits.
type ChatRequest struct {
	KB             string                 `json:"kb"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Query          string                 `json:"query"`
	Context        map[string]interface{} `json:"context,omitempty"`
}

// StageSummary reports one pipeline stage in a chat response. Warnings names
// the checks that degraded the stage without failing it; RuleVersion is set
// on the evaluation summary only.
type StageSummary struct {
	Status      string   `json:"status"`
	RecordID    string   `json:"record_id,omitempty"`
	Reasons     []string `json:"reasons,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	RuleVersion string   `json:"rule_version,omitempty"`
}

// Citation points at one evidence node backing the answer.
type Citation struct {
	NodeID      string  `json:"node_id"`
	Rank        *int    `json:"rank,omitempty"`
	Quote       *string `json:"quote,omitempty"`
	Page        *int    `json:"page,omitempty"`
	ArticleID   *string `json:"article_id,omitempty"`
	SectionPath *string `json:"section_path,omitempty"`
	Locator     *string `json:"locator,omitempty"`
}

// Hit is one retrieval result, present when return_hits was requested.
type Hit struct {
	NodeID       string          `json:"node_id"`
	Rank         int             `json:"rank"`
	Score        float64         `json:"score"`
	Source       string          `json:"source"`
	Excerpt      string          `json:"excerpt"`
	Page         int             `json:"page"`
	ArticleID    *string         `json:"article_id,omitempty"`
	SectionPath  *string         `json:"section_path,omitempty"`
	StartOffset  *int            `json:"start_offset,omitempty"`
	EndOffset    *int            `json:"end_offset,omitempty"`
	ScoreDetails json.RawMessage `json:"score_details"`
}

// ChatResponse is the chat envelope. Status is the single source of truth
// for the turn's outcome: pending, success, failed or blocked.
type ChatResponse struct {
	ConversationID string                 `json:"conversation_id"`
	MessageID      string                 `json:"message_id"`
	KBID           string                 `json:"kb_id"`
	Status         string                 `json:"status"`
	Answer         string                 `json:"answer,omitempty"`
	AnswerState    string                 `json:"answer_state,omitempty"`
	Citations      []Citation             `json:"citations,omitempty"`
	Retrieval      StageSummary           `json:"retrieval"`
	Generation     StageSummary           `json:"generation"`
	Evaluation     StageSummary           `json:"evaluation"`
	Hits           []Hit                  `json:"hits,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

// PagePreview is the concatenated text of one document page.
type PagePreview struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	Text       string `json:"text"`
}

// CreateKB creates a knowledge base.
func (c *Client) CreateKB(ctx context.Context, req CreateKBRequest) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := c.do(ctx, http.MethodPost, "/api/v1/kb", req, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

// ListKBs lists all knowledge bases.
func (c *Client) ListKBs(ctx context.Context) ([]KnowledgeBase, error) {
	var kbs []KnowledgeBase
	if err := c.do(ctx, http.MethodGet, "/api/v1/kb", nil, &kbs); err != nil {
		return nil, err
	}
	return kbs, nil
}

// Ingest submits one document for ingestion and returns the report. A gate
// failure is not a transport error: the report comes back with status
// "failed" and the gate reasons, and the returned error is nil. Persistence
// failures return both the partial report and an *APIError.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) (*IngestReport, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/ingest", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnprocessableEntity:
		var report IngestReport
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		return &report, nil
	case http.StatusInternalServerError:
		// Persistence failures still carry a report body.
		var report IngestReport
		if err := json.Unmarshal(body, &report); err == nil && report.Status != "" {
			return &report, &APIError{StatusCode: resp.StatusCode, Message: report.Error}
		}
	}

	var envelope struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		msg = envelope.Error
	}
	return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// Chat runs one question through retrieval, generation and evaluation.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRetrievalRecord fetches a persisted retrieval record with its hits.
// source filters hits to one stage ("keyword", "vector", "fused", "reranked");
// empty returns all.
func (c *Client) GetRetrievalRecord(ctx context.Context, id, source string) (map[string]json.RawMessage, error) {
	path := "/api/v1/records/retrieval/" + url.PathEscape(id)
	if source != "" {
		path += "?source=" + url.QueryEscape(source)
	}
	var out map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetGenerationRecord fetches a persisted generation record.
func (c *Client) GetGenerationRecord(ctx context.Context, id string, out interface{}) error {
	return c.do(ctx, http.MethodGet, "/api/v1/records/generation/"+url.PathEscape(id), nil, out)
}

// GetEvaluationRecord fetches a persisted evaluation record.
func (c *Client) GetEvaluationRecord(ctx context.Context, id string, out interface{}) error {
	return c.do(ctx, http.MethodGet, "/api/v1/records/evaluation/"+url.PathEscape(id), nil, out)
}

// GetNode fetches one node by ID.
func (c *Client) GetNode(ctx context.Context, id string, out interface{}) error {
	return c.do(ctx, http.MethodGet, "/api/v1/records/node/"+url.PathEscape(id), nil, out)
}

// GetPage fetches the text of one document page.
func (c *Client) GetPage(ctx context.Context, documentID string, page int) (*PagePreview, error) {
	path := "/api/v1/records/page?document_id=" + url.QueryEscape(documentID) +
		"&page=" + strconv.Itoa(page)
	var preview PagePreview
	if err := c.do(ctx, http.MethodGet, path, nil, &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

// Health reports whether the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/chat", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acts", req.KB)
		assert.Equal(t, true, req.Context["return_hits"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			ConversationID: "c1", MessageID: "m1", Status: "success",
			Answer: "Article 33 requires notification within 72 hours.",
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "secret"})
	resp, err := c.Chat(context.Background(), ChatRequest{
		KB: "acts", Query: "breach notification deadline",
		Context: map[string]interface{}{"return_hits": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.Contains(t, resp.Answer, "72 hours")
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "knowledge base not found: missing"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Chat(context.Background(), ChatRequest{KB: "missing", Query: "q"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "knowledge base not found")
}

func TestIngestGateFailureIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(IngestReport{
			Status: "failed",
			Error:  "gate checks failed: empty_document",
			Gate: GateReport{
				Name: "ingest", Status: "fail",
				Reasons: []string{"empty_document"},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	report, err := c.Ingest(context.Background(), IngestRequest{
		KB: "acts", FileName: "empty.md", Content: "",
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", report.Status)
	assert.Equal(t, []string{"empty_document"}, report.Gate.Reasons)
}

func TestIngestSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "act.md", req.FileName)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(IngestReport{
			Status: "success", Pages: 3, NodeCount: 12,
			Gate: GateReport{Name: "ingest", Status: "pass"},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	report, err := c.Ingest(context.Background(), IngestRequest{
		KB: "acts", FileName: "act.md", Content: "# Article 1\n\nText.",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", report.Status)
	assert.Equal(t, 12, report.NodeCount)
}

func TestGetPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/records/page", r.URL.Path)
		assert.Equal(t, "doc-1", r.URL.Query().Get("document_id"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(PagePreview{DocumentID: "doc-1", Page: 2, Text: "page text"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	preview, err := c.GetPage(context.Background(), "doc-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "page text", preview.Text)
}

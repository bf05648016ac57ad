package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/lexora-ai/rag-core/internal/chat"
	"github.com/lexora-ai/rag-core/internal/observability"
)

// ChatHandler answers questions against a knowledge base.
type ChatHandler struct {
	logger       *observability.Logger
	orchestrator *chat.Orchestrator
}

// NewChatHandler creates a chat handler.
func NewChatHandler(logger *observability.Logger, orchestrator *chat.Orchestrator) *ChatHandler {
	return &ChatHandler{logger: logger, orchestrator: orchestrator}
}

type chatRequest struct {
	KB             string                 `json:"kb"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Query          string                 `json:"query"`
	Context        map[string]interface{} `json:"context,omitempty"`
}

// Chat handles POST /chat. The context object carries per-request overrides
// for retrieval, generation and evaluation; unknown keys are echoed back.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(h.logger, w, "invalid request body")
		return
	}
	if req.KB == "" {
		writeBadRequest(h.logger, w, "kb is required")
		return
	}
	if req.Query == "" {
		writeBadRequest(h.logger, w, "query is required")
		return
	}

	askReq := chat.Request{
		KBRef:   req.KB,
		Query:   req.Query,
		Context: req.Context,
	}
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeBadRequest(h.logger, w, "conversation_id is not a valid UUID")
			return
		}
		askReq.ConversationID = &id
	}

	resp, err := h.orchestrator.Ask(r.Context(), askReq)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(h.logger, w, http.StatusOK, resp)
}

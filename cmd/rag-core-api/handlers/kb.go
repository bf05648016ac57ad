package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/storage"
)

// KBHandler manages knowledge bases.
type KBHandler struct {
	logger   *observability.Logger
	store    *storage.Store
	defaults config.EmbeddingConfig
}

// NewKBHandler creates a knowledge base handler.
func NewKBHandler(logger *observability.Logger, store *storage.Store, defaults config.EmbeddingConfig) *KBHandler {
	return &KBHandler{logger: logger, store: store, defaults: defaults}
}

type createKBRequest struct {
	Name          string `json:"name"`
	EmbedProvider string `json:"embed_provider,omitempty"`
	EmbedModel    string `json:"embed_model,omitempty"`
	EmbedDim      int    `json:"embed_dim,omitempty"`
}

// Create handles POST /kb. The embedding triple is pinned at creation time;
// unset fields fall back to the server defaults.
func (h *KBHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(h.logger, w, "invalid request body")
		return
	}
	if req.Name == "" {
		writeBadRequest(h.logger, w, "name is required")
		return
	}

	kb := &storage.KnowledgeBase{
		Name:             req.Name,
		VectorCollection: fmt.Sprintf("kb_%s", req.Name),
		EmbedProvider:    req.EmbedProvider,
		EmbedModel:       req.EmbedModel,
		EmbedDim:         req.EmbedDim,
	}
	if kb.EmbedProvider == "" {
		kb.EmbedProvider = h.defaults.Provider
	}
	if kb.EmbedModel == "" {
		kb.EmbedModel = h.defaults.Model
	}
	if kb.EmbedDim <= 0 {
		kb.EmbedDim = h.defaults.Dimension
	}

	if err := h.store.KnowledgeBases.Create(r.Context(), kb); err != nil {
		writeError(h.logger, w, err)
		return
	}

	h.logger.Info().Stringer("kb_id", kb.ID).Str("name", kb.Name).Msg("knowledge base created")
	writeJSON(h.logger, w, http.StatusCreated, kb)
}

// List handles GET /kb.
func (h *KBHandler) List(w http.ResponseWriter, r *http.Request) {
	kbs, err := h.store.KnowledgeBases.List(r.Context())
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, kbs)
}

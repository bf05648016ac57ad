package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/storage"
)

const pagePreviewMaxChars = 4000

// RecordsHandler exposes the persisted evidence chain for audit: retrieval,
// generation and evaluation records plus the nodes they point at.
type RecordsHandler struct {
	logger *observability.Logger
	store  *storage.Store
}

// NewRecordsHandler creates a records handler.
func NewRecordsHandler(logger *observability.Logger, store *storage.Store) *RecordsHandler {
	return &RecordsHandler{logger: logger, store: store}
}

func (h *RecordsHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(h.logger, w, "id is not a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// GetRetrieval handles GET /records/retrieval/{id} and returns the record
// with its final hits.
func (h *RecordsHandler) GetRetrieval(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	record, err := h.store.Retrieval.GetRecord(r.Context(), id)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	hits, err := h.store.Retrieval.ListHits(r.Context(), record.ID, storage.HitSource(r.URL.Query().Get("source")))
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"record": record,
		"hits":   hits,
	})
}

// GetGeneration handles GET /records/generation/{id}.
func (h *RecordsHandler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	record, err := h.store.Generation.GetByID(r.Context(), id)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, record)
}

// GetEvaluation handles GET /records/evaluation/{id}.
func (h *RecordsHandler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	record, err := h.store.Evaluation.GetByID(r.Context(), id)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, record)
}

// GetNode handles GET /records/node/{id} so a citation can be resolved to
// its full text and position.
func (h *RecordsHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	node, err := h.store.Nodes.GetByID(r.Context(), id)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, node)
}

// GetPage handles GET /records/page?document_id=&page= and returns the
// concatenated node text of that page for evidence preview.
func (h *RecordsHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(r.URL.Query().Get("document_id"))
	if err != nil {
		writeBadRequest(h.logger, w, "document_id is not a valid UUID")
		return
	}
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		writeBadRequest(h.logger, w, "page must be a positive integer")
		return
	}

	text, err := h.store.Nodes.GetPage(r.Context(), documentID, page, pagePreviewMaxChars)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"document_id": documentID,
		"page":        page,
		"text":        text,
	})
}

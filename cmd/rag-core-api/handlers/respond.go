// Package handlers provides HTTP handlers for the RAG core API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lexora-ai/rag-core/internal/core"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/storage"
)

func writeJSON(logger *observability.Logger, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps an error to its HTTP status via the core error kinds.
// storage.ErrNotFound short-circuits to 404 so repositories can surface it
// without wrapping.
func writeError(logger *observability.Logger, w http.ResponseWriter, err error) {
	status := core.HTTPStatus(err)
	if errors.Is(err, storage.ErrNotFound) {
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("Request failed")
	}
	writeJSON(logger, w, status, map[string]string{"error": err.Error()})
}

func writeBadRequest(logger *observability.Logger, w http.ResponseWriter, msg string) {
	writeJSON(logger, w, http.StatusBadRequest, map[string]string{"error": msg})
}

package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/lexora-ai/rag-core/internal/ingest"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/storage"
)

const maxUploadBytes = 32 << 20

// IngestHandler accepts file uploads into a knowledge base.
type IngestHandler struct {
	logger   *observability.Logger
	store    *storage.Store
	pipeline *ingest.Pipeline
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(logger *observability.Logger, store *storage.Store, pipeline *ingest.Pipeline) *IngestHandler {
	return &IngestHandler{logger: logger, store: store, pipeline: pipeline}
}

type ingestJSONRequest struct {
	KB         string `json:"kb"`
	FileName   string `json:"file_name"`
	SourceURI  string `json:"source_uri,omitempty"`
	Content    string `json:"content"` // raw text
	ContentB64 string `json:"content_base64,omitempty"`
	Force      bool   `json:"force,omitempty"`
	DryRun     bool   `json:"dry_run,omitempty"`
}

// Ingest handles POST /ingest. Accepts either a JSON body or a multipart
// form with a "file" part; the kb field names or identifies the target
// knowledge base.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		kbRef     string
		fileName  string
		sourceURI string
		content   []byte
		force     bool
		dryRun    bool
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeBadRequest(h.logger, w, "invalid multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeBadRequest(h.logger, w, "file part is required")
			return
		}
		defer file.Close()

		content, err = io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			writeError(h.logger, w, err)
			return
		}
		kbRef = r.FormValue("kb")
		fileName = header.Filename
		sourceURI = r.FormValue("source_uri")
		force = r.FormValue("force") == "true"
		dryRun = r.FormValue("dry_run") == "true"
	} else {
		var req ingestJSONRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
			writeBadRequest(h.logger, w, "invalid request body")
			return
		}
		kbRef = req.KB
		fileName = req.FileName
		sourceURI = req.SourceURI
		force = req.Force
		dryRun = req.DryRun
		if req.ContentB64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(req.ContentB64)
			if err != nil {
				writeBadRequest(h.logger, w, "content_base64 is not valid base64")
				return
			}
			content = decoded
		} else {
			content = []byte(req.Content)
		}
	}

	if kbRef == "" {
		writeBadRequest(h.logger, w, "kb is required")
		return
	}
	if fileName == "" {
		writeBadRequest(h.logger, w, "file_name is required")
		return
	}

	kb, err := h.store.KnowledgeBases.GetByRef(ctx, kbRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(h.logger, w, http.StatusNotFound, map[string]string{"error": "knowledge base not found: " + kbRef})
			return
		}
		writeError(h.logger, w, err)
		return
	}

	report, err := h.pipeline.Run(ctx, ingest.Request{
		KB:        kb,
		FileName:  fileName,
		SourceURI: sourceURI,
		Content:   content,
		Force:     force,
		DryRun:    dryRun,
	})
	if err != nil {
		if report != nil {
			// Persistence failures still carry the report; surface both.
			writeJSON(h.logger, w, http.StatusInternalServerError, report)
			return
		}
		writeError(h.logger, w, err)
		return
	}

	status := http.StatusOK
	if report.Status == storage.IngestStatusFailed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(h.logger, w, status, report)
}

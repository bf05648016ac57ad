// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lexora-ai/rag-core/cmd/rag-core-api/handlers"
)

// NewRouter creates the main API router with all routes configured.
func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(app.Config.Server.ReadTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"rag-core"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := app.Store.DB().PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	kbHandler := handlers.NewKBHandler(app.Logger, app.Store, app.Config.Embedding)
	ingestHandler := handlers.NewIngestHandler(app.Logger, app.Store, app.Ingest)
	chatHandler := handlers.NewChatHandler(app.Logger, app.Orchestrator)
	recordsHandler := handlers.NewRecordsHandler(app.Logger, app.Store)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/kb", func(r chi.Router) {
			r.Post("/", kbHandler.Create)
			r.Get("/", kbHandler.List)
		})

		r.Post("/ingest", ingestHandler.Ingest)
		r.Post("/chat", chatHandler.Chat)

		r.Route("/records", func(r chi.Router) {
			r.Get("/retrieval/{id}", recordsHandler.GetRetrieval)
			r.Get("/generation/{id}", recordsHandler.GetGeneration)
			r.Get("/evaluation/{id}", recordsHandler.GetEvaluation)
			r.Get("/node/{id}", recordsHandler.GetNode)
			r.Get("/page", recordsHandler.GetPage)
		})
	})

	return r
}

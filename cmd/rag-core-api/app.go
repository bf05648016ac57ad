package main

import (
	"context"
	"fmt"

	"github.com/lexora-ai/rag-core/internal/cache"
	"github.com/lexora-ai/rag-core/internal/chat"
	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/embedding"
	"github.com/lexora-ai/rag-core/internal/evaluator"
	"github.com/lexora-ai/rag-core/internal/generation"
	"github.com/lexora-ai/rag-core/internal/ingest"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/retrieval"
	"github.com/lexora-ai/rag-core/internal/storage"
	"github.com/lexora-ai/rag-core/internal/vectorstore"
)

// App bundles every wired service behind the HTTP layer.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	Store        *storage.Store
	Vectors      vectorstore.Store
	Ingest       *ingest.Pipeline
	Orchestrator *chat.Orchestrator
}

// NewApp connects the stores and wires the pipeline engines.
func NewApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	db, err := storage.Open(ctx, storage.OpenOptions{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.DatabaseDSN(),
		MaxOpenConns:    cfg.Database.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Database.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.InitSchema(ctx, db, cfg.Database.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	store := storage.NewStore(db, cfg.Database.Driver)

	var vectors vectorstore.Store
	switch cfg.Vector.Adapter {
	case "pgvector":
		vectors, err = vectorstore.NewPG(ctx, vectorstore.PGConfig{
			DSN:       cfg.PGVectorDSN(),
			IndexType: cfg.Vector.PGVector.IndexType,
			Lists:     cfg.Vector.PGVector.Lists,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect pgvector: %w", err)
		}
	default:
		vectors = vectorstore.NewMemory()
	}

	var cacheClient cache.Client
	switch cfg.Cache.Driver {
	case "redis":
		cacheClient, err = cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, falling back to memory cache")
			cacheClient = cache.NewMemoryClient(cfg.Cache.MaxEntries)
		}
	default:
		cacheClient = cache.NewMemoryClient(cfg.Cache.MaxEntries)
	}
	if !cfg.Retrieval.CacheQueryEmbeddings {
		cacheClient = nil
	}

	embeddings := embedding.NewRegistry(cfg.Embedding)
	genRegistry := generation.NewRegistry(cfg.Generation)

	rerankers := map[string]retrieval.Reranker{}
	if cfg.Retrieval.RerankEndpoint != "" {
		ce, err := retrieval.NewCrossEncoderReranker(cfg.Retrieval.RerankEndpoint, cfg.Retrieval.RerankModel, 0)
		if err != nil {
			logger.Warn().Err(err).Msg("Cross-encoder reranker not configured")
		} else {
			rerankers[retrieval.RerankCrossEncoder] = ce
		}
	}
	if model, err := genRegistry.Resolve("", ""); err == nil {
		rerankers[retrieval.RerankLLM] = retrieval.NewLLMReranker(model)
	}

	pipeline := ingest.NewPipeline(store, vectors, embeddings, cfg.Ingestion, logger)
	retrievalEngine := retrieval.NewEngine(store, vectors, embeddings, cacheClient, rerankers, cfg.Retrieval, logger)
	generationEngine := generation.NewEngine(store, genRegistry, cfg.Generation, logger)
	evaluatorEngine := evaluator.NewEngine(store, cfg.Evaluator, logger)
	orchestrator := chat.New(store, retrievalEngine, generationEngine, evaluatorEngine, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Vectors:      vectors,
		Ingest:       pipeline,
		Orchestrator: orchestrator,
	}, nil
}

// Close releases the store connections.
func (a *App) Close() {
	if err := a.Vectors.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Closing vector store failed")
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Closing database failed")
	}
}

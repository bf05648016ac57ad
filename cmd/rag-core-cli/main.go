// Package main provides the RAG core admin CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

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

var (
	cfgFile    string
	outputJSON bool
	verbose    bool

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rag-core-cli",
	Short: "RAG core CLI for knowledge base administration, ingest and chat",
	Long: `RAG core CLI manages the trusted question-answering pipeline.

Use this tool to:
- Bootstrap the database schema
- Create and list knowledge bases
- Ingest markdown files into a knowledge base
- Ask questions and inspect the evidence chain

All commands support --json for automation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		level := "warn"
		if verbose {
			level = cfg.Observability.LogLevel
		}
		if outputJSON {
			logFormat = "json"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat,
			ServiceName: "rag-core-cli",
		})

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newInitDBCmd())
	rootCmd.AddCommand(newKBCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "status=failed")
		os.Exit(1)
	}
}

// services bundles everything a command needs against the local stores.
type services struct {
	store        *storage.Store
	vectors      vectorstore.Store
	pipeline     *ingest.Pipeline
	orchestrator *chat.Orchestrator
}

func (s *services) Close() {
	_ = s.vectors.Close()
	_ = s.store.Close()
}

// openServices connects the stores and wires the engines the way the API
// server does, minus the HTTP layer.
func openServices(ctx context.Context) (*services, error) {
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
	if cfg.Vector.Adapter == "pgvector" {
		vectors, err = vectorstore.NewPG(ctx, vectorstore.PGConfig{
			DSN:       cfg.PGVectorDSN(),
			IndexType: cfg.Vector.PGVector.IndexType,
			Lists:     cfg.Vector.PGVector.Lists,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect pgvector: %w", err)
		}
	} else {
		vectors = vectorstore.NewMemory()
	}

	embeddings := embedding.NewRegistry(cfg.Embedding)
	genRegistry := generation.NewRegistry(cfg.Generation)

	var cacheClient cache.Client
	if cfg.Retrieval.CacheQueryEmbeddings {
		cacheClient = cache.NewMemoryClient(cfg.Cache.MaxEntries)
	}

	rerankers := map[string]retrieval.Reranker{}
	if model, err := genRegistry.Resolve("", ""); err == nil {
		rerankers[retrieval.RerankLLM] = retrieval.NewLLMReranker(model)
	}

	pipeline := ingest.NewPipeline(store, vectors, embeddings, cfg.Ingestion, logger)
	retrievalEngine := retrieval.NewEngine(store, vectors, embeddings, cacheClient, rerankers, cfg.Retrieval, logger)
	generationEngine := generation.NewEngine(store, genRegistry, cfg.Generation, logger)
	evaluatorEngine := evaluator.NewEngine(store, cfg.Evaluator, logger)
	orchestrator := chat.New(store, retrievalEngine, generationEngine, evaluatorEngine, logger)

	return &services{
		store:        store,
		vectors:      vectors,
		pipeline:     pipeline,
		orchestrator: orchestrator,
	}, nil
}

// newInitDBCmd creates the initdb subcommand.
func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Bootstrap the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := storage.Open(ctx, storage.OpenOptions{
				Driver: cfg.Database.Driver,
				DSN:    cfg.DatabaseDSN(),
			})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if err := storage.InitSchema(ctx, db, cfg.Database.Driver); err != nil {
				return fmt.Errorf("init schema: %w", err)
			}

			printSuccess("Schema initialized on %s", cfg.Database.Driver)
			return nil
		},
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				fmt.Println(`{"version":"0.1.0"}`)
				return
			}
			fmt.Println("rag-core-cli v0.1.0")
		},
	}
}

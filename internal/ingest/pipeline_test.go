package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/embedding"
	"github.com/lexora-ai/rag-core/internal/gate"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/storage"
	"github.com/lexora-ai/rag-core/internal/vectorstore"
)

const sampleAct = `# Data Protection Act

## Article 5

Personal data shall be processed lawfully, fairly and transparently. The controller is responsible for demonstrating compliance.

## Article 6

Processing is lawful only if at least one legal basis applies. Consent must be freely given, specific and informed.
`

func newTestPipeline(t *testing.T) (*Pipeline, *storage.Store, *vectorstore.Memory, *storage.KnowledgeBase) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.OpenOptions{Driver: storage.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.InitSchema(ctx, db, storage.DriverSQLite))

	store := storage.NewStore(db, storage.DriverSQLite)
	vectors := vectorstore.NewMemory()
	registry := embedding.NewRegistry(config.EmbeddingConfig{
		Provider: "hash", Model: "hash-64", Dimension: 64,
	})

	kb := &storage.KnowledgeBase{
		Name:             "legal-test",
		VectorCollection: "kb_legal_test",
		EmbedProvider:    "hash",
		EmbedModel:       "hash-64",
		EmbedDim:         64,
	}
	require.NoError(t, store.KnowledgeBases.Create(ctx, kb))

	p := NewPipeline(store, vectors, registry, config.IngestionConfig{
		SentenceWindow: 2, MinNodeChars: 16, EmbeddingBatchSize: 8,
	}, observability.NopLogger())
	return p, store, vectors, kb
}

func TestPipelineIngestsFile(t *testing.T) {
	p, store, vectors, kb := newTestPipeline(t)
	ctx := context.Background()

	report, err := p.Run(ctx, Request{
		KB:       kb,
		FileName: "act.md",
		Content:  []byte(sampleAct),
	})
	require.NoError(t, err)

	assert.Equal(t, storage.IngestStatusSuccess, report.Status)
	assert.False(t, report.Skipped)
	assert.Equal(t, gate.StatusPass, report.Gate.Status)
	assert.Greater(t, report.NodeCount, 0)

	names := make([]string, len(report.Gate.Checks))
	for i, c := range report.Gate.Checks {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"has_nodes", "min_text_length", "node_index_contiguous", "vector_count_matches"}, names)

	nodes, err := store.Nodes.ListByFile(ctx, report.FileID)
	require.NoError(t, err)
	require.Len(t, nodes, report.NodeCount)

	// Node indexes must be contiguous from zero.
	for i, n := range nodes {
		assert.Equal(t, i, n.NodeIndex)
	}

	// Every node carries exactly one live vector.
	mapCount, err := store.VectorMaps.CountByFile(ctx, report.FileID)
	require.NoError(t, err)
	assert.Equal(t, len(nodes), mapCount)

	vecCount, err := vectors.Count(ctx, kb.VectorCollection)
	require.NoError(t, err)
	assert.Equal(t, int64(len(nodes)), vecCount)

	file, err := store.Files.GetByID(ctx, report.FileID)
	require.NoError(t, err)
	assert.Equal(t, storage.IngestStatusSuccess, file.IngestStatus)
	assert.Equal(t, len(nodes), file.NodeCount)
}

func TestPipelineIdempotentBySHA256(t *testing.T) {
	p, store, _, kb := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Run(ctx, Request{KB: kb, FileName: "act.md", Content: []byte(sampleAct)})
	require.NoError(t, err)

	second, err := p.Run(ctx, Request{KB: kb, FileName: "act.md", Content: []byte(sampleAct)})
	require.NoError(t, err)

	assert.True(t, second.Skipped)
	assert.Equal(t, first.FileID, second.FileID)

	files, err := store.Files.ListByKB(ctx, kb.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestPipelineForceReingest(t *testing.T) {
	p, store, _, kb := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Run(ctx, Request{KB: kb, FileName: "act.md", Content: []byte(sampleAct)})
	require.NoError(t, err)

	second, err := p.Run(ctx, Request{KB: kb, FileName: "act.md", Content: []byte(sampleAct), Force: true})
	require.NoError(t, err)

	assert.False(t, second.Skipped)
	assert.Equal(t, first.FileID, second.FileID)

	nodes, err := store.Nodes.ListByFile(ctx, second.FileID)
	require.NoError(t, err)
	assert.Len(t, nodes, second.NodeCount)

	// The first run's document is reaped with its nodes; only the new one
	// remains.
	assert.NotEqual(t, first.DocumentID, second.DocumentID)
	_, err = store.Documents.GetByID(ctx, first.DocumentID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	doc, err := store.Documents.GetByID(ctx, second.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, second.FileID, doc.FileID)
}

func TestPipelineDryRunPersistsNothing(t *testing.T) {
	p, store, vectors, kb := newTestPipeline(t)
	ctx := context.Background()

	report, err := p.Run(ctx, Request{KB: kb, FileName: "act.md", Content: []byte(sampleAct), DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, storage.IngestStatusSuccess, report.Status)
	assert.Greater(t, report.NodeCount, 0)

	files, err := store.Files.ListByKB(ctx, kb.ID)
	require.NoError(t, err)
	assert.Empty(t, files)

	count, err := vectors.Count(ctx, kb.VectorCollection)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPipelineEmptyContentRejected(t *testing.T) {
	p, _, _, kb := newTestPipeline(t)

	_, err := p.Run(context.Background(), Request{KB: kb, FileName: "empty.md"})
	assert.Error(t, err)
}

func TestPipelineNoSegmentsFailsGate(t *testing.T) {
	p, store, _, kb := newTestPipeline(t)
	ctx := context.Background()

	// Every candidate falls under the minimum node length.
	report, err := p.Run(ctx, Request{KB: kb, FileName: "tiny.md", Content: []byte("Hi. No. Ok.")})
	require.NoError(t, err)

	assert.Equal(t, storage.IngestStatusFailed, report.Status)
	assert.Equal(t, gate.StatusFail, report.Gate.Status)

	files, err := store.Files.ListByKB(ctx, kb.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

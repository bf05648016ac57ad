package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

const corpus = `# Data Protection Act

## Article 6

Processing of personal data is lawful only if the data subject has given consent. Consent must be freely given, specific, informed and unambiguous.

## Article 17

The data subject has the right to erasure of personal data without undue delay. The controller shall erase personal data when it is no longer necessary.

## Article 33

The controller shall notify a personal data breach to the supervisory authority. Notification must happen within seventy two hours of becoming aware.
`

func newTestOrchestrator(t *testing.T) (*Orchestrator, *storage.Store, *storage.KnowledgeBase) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.OpenOptions{Driver: storage.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.InitSchema(ctx, db, storage.DriverSQLite))

	store := storage.NewStore(db, storage.DriverSQLite)
	vectors := vectorstore.NewMemory()
	embeddings := embedding.NewRegistry(config.EmbeddingConfig{Provider: "hash", Model: "hash-64", Dimension: 64})
	logger := observability.NopLogger()

	kb := &storage.KnowledgeBase{
		Name: "acts", VectorCollection: "kb_acts",
		EmbedProvider: "hash", EmbedModel: "hash-64", EmbedDim: 64,
	}
	require.NoError(t, store.KnowledgeBases.Create(ctx, kb))

	pipeline := ingest.NewPipeline(store, vectors, embeddings, config.IngestionConfig{
		SentenceWindow: 2, MinNodeChars: 16,
	}, logger)
	report, err := pipeline.Run(ctx, ingest.Request{KB: kb, FileName: "act.md", Content: []byte(corpus)})
	require.NoError(t, err)
	require.Equal(t, storage.IngestStatusSuccess, report.Status)

	retrievalEngine := retrieval.NewEngine(store, vectors, embeddings, nil, nil, config.RetrievalConfig{
		KeywordTopK: 10, VectorTopK: 10, FusionTopK: 8, RerankTopK: 8,
		FusionStrategy: "rrf", RerankStrategy: "none",
		RRFK: 60, KeywordWeight: 0.5, VectorWeight: 0.5,
	}, logger)

	genDefaults := config.GenerationConfig{
		Provider: "mock", Model: "mock-chat",
		PromptName: "legal_qa", PromptVersion: "v1",
	}
	generationEngine := generation.NewEngine(store, generation.NewRegistry(genDefaults), genDefaults, logger)

	evaluatorEngine := evaluator.NewEngine(store, config.EvaluatorConfig{
		RequireCitations:      true,
		CoverageWarnThreshold: 0.6,
		CoverageFailThreshold: 0.2,
		MinAnswerChars:        20,
	}, logger)

	return New(store, retrievalEngine, generationEngine, evaluatorEngine, logger), store, kb
}

func TestAskHappyPath(t *testing.T) {
	orch, store, kb := newTestOrchestrator(t)
	ctx := context.Background()

	resp, err := orch.Ask(ctx, Request{KBRef: kb.Name, Query: "When must a data breach be notified?"})
	require.NoError(t, err)

	assert.Equal(t, storage.MessageStatusSuccess, resp.Status)
	assert.Equal(t, kb.ID, resp.KBID)
	assert.NotEmpty(t, resp.Answer)
	assert.NotEmpty(t, resp.Citations)
	assert.Equal(t, "pass", resp.Retrieval.Status)
	assert.Equal(t, evaluator.RuleVersion, resp.Evaluation.RuleVersion)
	require.NotNil(t, resp.Retrieval.RecordID)
	require.NotNil(t, resp.Generation.RecordID)
	require.NotNil(t, resp.Evaluation.RecordID)

	// The assistant message carries the released answer.
	msg, err := store.Messages.GetByID(ctx, resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, storage.MessageStatusSuccess, msg.Status)
	assert.Equal(t, resp.Answer, msg.Content)

	// Every citation points at a persisted final hit of this message.
	record, err := store.Retrieval.GetRecordByMessage(ctx, resp.MessageID)
	require.NoError(t, err)
	hits, err := store.Retrieval.ListHits(ctx, record.ID, "")
	require.NoError(t, err)
	hitNodes := map[string]bool{}
	for _, h := range hits {
		hitNodes[h.NodeID.String()] = true
	}
	for _, c := range resp.Citations {
		assert.True(t, hitNodes[c.NodeID.String()])
	}
}

func TestAskWeakQueryBlocked(t *testing.T) {
	orch, store, kb := newTestOrchestrator(t)
	ctx := context.Background()

	resp, err := orch.Ask(ctx, Request{KBRef: kb.Name, Query: "the of and"})
	require.NoError(t, err)

	assert.Equal(t, storage.MessageStatusBlocked, resp.Status)
	assert.Empty(t, resp.Answer)
	assert.Equal(t, "fail", resp.Retrieval.Status)
	assert.Equal(t, "skipped", resp.Generation.Status)
	assert.Equal(t, "fail", resp.Evaluation.Status)
	assert.Contains(t, resp.Evaluation.Reasons, "no_evidence")
	// Even a synthesized verdict names the rule set that would have judged it.
	assert.Equal(t, evaluator.RuleVersion, resp.Evaluation.RuleVersion)

	// Generation never ran, so no generation record exists; the verdict is
	// synthesized, so no evaluation record exists either.
	assert.Nil(t, resp.Generation.RecordID)
	assert.Nil(t, resp.Evaluation.RecordID)

	msg, err := store.Messages.GetByID(ctx, resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, storage.MessageStatusBlocked, msg.Status)
	assert.Empty(t, msg.Content)
}

func TestAskConversationContinuity(t *testing.T) {
	orch, _, kb := newTestOrchestrator(t)
	ctx := context.Background()

	first, err := orch.Ask(ctx, Request{KBRef: kb.Name, Query: "What is the right to erasure?"})
	require.NoError(t, err)

	second, err := orch.Ask(ctx, Request{
		KBRef:          kb.Name,
		ConversationID: &first.ConversationID,
		Query:          "What about consent requirements?",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.NotEqual(t, first.MessageID, second.MessageID)
}

func TestAskContextOverrides(t *testing.T) {
	orch, store, kb := newTestOrchestrator(t)
	ctx := context.Background()

	resp, err := orch.Ask(ctx, Request{
		KBRef: kb.Name,
		Query: "When must a data breach be notified?",
		Context: map[string]interface{}{
			"fusion_strategy": "weighted",
			"fusion_top_k":    float64(3),
			"return_hits":     true,
			"client_tag":      "integration-test",
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Hits)
	assert.LessOrEqual(t, len(resp.Hits), 3)
	assert.Equal(t, "integration-test", resp.Extra["client_tag"])

	record, err := store.Retrieval.GetRecordByMessage(ctx, resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "weighted", record.FusionStrategy)
	assert.Equal(t, 3, record.FusionTopK)
}

func TestAskVectorRecallDisabled(t *testing.T) {
	orch, store, kb := newTestOrchestrator(t)
	ctx := context.Background()

	resp, err := orch.Ask(ctx, Request{
		KBRef: kb.Name,
		Query: "When must a data breach be notified?",
		Context: map[string]interface{}{
			"vector_top_k": float64(0),
			"return_hits":  true,
		},
	})
	require.NoError(t, err)

	// Keyword recall alone still answers the question.
	assert.Equal(t, storage.MessageStatusSuccess, resp.Status)
	assert.NotEmpty(t, resp.Hits)

	record, err := store.Retrieval.GetRecordByMessage(ctx, resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, 0, record.VectorTopK)
}

func TestParseOverridesVectorTopKZeroDisables(t *testing.T) {
	o, err := parseOverrides(map[string]interface{}{"vector_top_k": float64(0)})
	require.NoError(t, err)
	assert.True(t, o.Retrieval.VectorDisabled)

	o, err = parseOverrides(map[string]interface{}{"vector_top_k": float64(5)})
	require.NoError(t, err)
	assert.False(t, o.Retrieval.VectorDisabled)
	assert.Equal(t, 5, o.Retrieval.VectorTopK)
}

func TestAskBadContextType(t *testing.T) {
	orch, _, kb := newTestOrchestrator(t)

	_, err := orch.Ask(context.Background(), Request{
		KBRef:   kb.Name,
		Query:   "anything",
		Context: map[string]interface{}{"keyword_top_k": "ten"},
	})
	assert.Error(t, err)
}

func TestAskUnknownKB(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)

	_, err := orch.Ask(context.Background(), Request{KBRef: "missing", Query: "anything"})
	assert.Error(t, err)
}

func TestAskEvaluatorConfigOverride(t *testing.T) {
	orch, _, kb := newTestOrchestrator(t)
	ctx := context.Background()

	// Impossible coverage bar: every answer gets blocked by the evaluator.
	resp, err := orch.Ask(ctx, Request{
		KBRef: kb.Name,
		Query: "When must a data breach be notified?",
		Context: map[string]interface{}{
			"evaluator_config": map[string]interface{}{
				"require_citations":       true,
				"coverage_warn_threshold": 1.1,
				"coverage_fail_threshold": 1.1,
				"min_answer_chars":        20,
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, storage.MessageStatusBlocked, resp.Status)
	assert.Empty(t, resp.Answer)
	assert.Equal(t, "fail", resp.Evaluation.Status)
	require.NotNil(t, resp.Evaluation.RecordID)
}

func TestParseOverridesUnknownKeysPreserved(t *testing.T) {
	o, err := parseOverrides(map[string]interface{}{
		"keyword_top_k": float64(5),
		"mystery_knob":  "value",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, o.Retrieval.KeywordTopK)
	assert.Equal(t, "value", o.Extra["mystery_knob"])
}

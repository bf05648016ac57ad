package evaluator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/storage"
)

func evaluatorDefaults() config.EvaluatorConfig {
	return config.EvaluatorConfig{
		RequireCitations:      true,
		CoverageWarnThreshold: 0.6,
		CoverageFailThreshold: 0.2,
		MinAnswerChars:        20,
	}
}

func newTestEngine(t *testing.T) (*Engine, *storage.Store, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.OpenOptions{Driver: storage.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.InitSchema(ctx, db, storage.DriverSQLite))
	store := storage.NewStore(db, storage.DriverSQLite)

	kb := &storage.KnowledgeBase{
		Name: "acts", VectorCollection: "kb_acts",
		EmbedProvider: "hash", EmbedModel: "hash-64", EmbedDim: 64,
	}
	require.NoError(t, store.KnowledgeBases.Create(ctx, kb))
	conv := &storage.Conversation{KBID: kb.ID}
	require.NoError(t, store.Conversations.Create(ctx, conv))
	msg := &storage.Message{ConversationID: conv.ID, Role: storage.MessageRoleAssistant}
	require.NoError(t, store.Messages.Create(ctx, msg))

	return NewEngine(store, evaluatorDefaults(), observability.NopLogger()), store, msg.ID
}

func hitsAndCitations(n, cited int) ([]uuid.UUID, []storage.Citation) {
	hits := make([]uuid.UUID, n)
	for i := range hits {
		hits[i] = uuid.New()
	}
	citations := make([]storage.Citation, 0, cited)
	for i := 0; i < cited && i < n; i++ {
		citations = append(citations, storage.Citation{NodeID: hits[i]})
	}
	return hits, citations
}

func TestEvaluatePass(t *testing.T) {
	engine, store, messageID := newTestEngine(t)
	hits, citations := hitsAndCitations(4, 3)

	result, err := engine.Evaluate(context.Background(), messageID, nil, nil, Input{
		Answer:     "Controllers must notify breaches within seventy two hours of awareness.",
		Citations:  citations,
		HitNodeIDs: hits,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, storage.EvaluationStatusPass, result.Status)
	assert.InDelta(t, 1.0, result.Scores["citation_coverage"], 1e-9)

	stored, err := store.Evaluation.GetByID(context.Background(), result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, RuleVersion, stored.RuleVersion)

	var cfg config.EvaluatorConfig
	require.NoError(t, json.Unmarshal(stored.Config, &cfg))
	assert.Equal(t, 0.6, cfg.CoverageWarnThreshold)
}

func TestEvaluateLowCoverageWarns(t *testing.T) {
	engine, _, messageID := newTestEngine(t)
	hits, citations := hitsAndCitations(4, 1)
	// Three citations of nodes retrieval never returned: coverage 1/4.
	for i := 0; i < 3; i++ {
		citations = append(citations, storage.Citation{NodeID: uuid.New()})
	}

	result, err := engine.Evaluate(context.Background(), messageID, nil, nil, Input{
		Answer:     "A sufficiently long answer about controller obligations.",
		Citations:  citations,
		HitNodeIDs: hits,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, storage.EvaluationStatusPartial, result.Status)
}

func TestEvaluateCoverageBelowFailThreshold(t *testing.T) {
	engine, _, messageID := newTestEngine(t)
	hits, _ := hitsAndCitations(10, 0)
	// One citation that does not match any hit: coverage 0.
	citations := []storage.Citation{{NodeID: uuid.New()}}

	result, err := engine.Evaluate(context.Background(), messageID, nil, nil, Input{
		Answer:     "A sufficiently long answer about controller obligations.",
		Citations:  citations,
		HitNodeIDs: hits,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, storage.EvaluationStatusFail, result.Status)
}

func TestEvaluateMissingCitationsFails(t *testing.T) {
	engine, _, messageID := newTestEngine(t)
	hits, _ := hitsAndCitations(3, 0)

	result, err := engine.Evaluate(context.Background(), messageID, nil, nil, Input{
		Answer:     "A long enough answer that cites nothing at all, sadly.",
		HitNodeIDs: hits,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, storage.EvaluationStatusFail, result.Status)
}

func TestEvaluateEmptyAnswerFails(t *testing.T) {
	engine, _, messageID := newTestEngine(t)
	hits, citations := hitsAndCitations(2, 2)

	result, err := engine.Evaluate(context.Background(), messageID, nil, nil, Input{
		Answer:     "   ",
		Citations:  citations,
		HitNodeIDs: hits,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, storage.EvaluationStatusFail, result.Status)
}

func TestEvaluateShortAnswerFails(t *testing.T) {
	engine, _, messageID := newTestEngine(t)
	hits, citations := hitsAndCitations(2, 2)

	result, err := engine.Evaluate(context.Background(), messageID, nil, nil, Input{
		Answer:     "Yes.",
		Citations:  citations,
		HitNodeIDs: hits,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, storage.EvaluationStatusFail, result.Status)
}

func TestEvaluateOverrideConfig(t *testing.T) {
	engine, _, messageID := newTestEngine(t)
	hits, _ := hitsAndCitations(3, 0)

	override := evaluatorDefaults()
	override.RequireCitations = false
	override.CoverageFailThreshold = 0
	override.CoverageWarnThreshold = 0

	result, err := engine.Evaluate(context.Background(), messageID, nil, nil, Input{
		Answer:     "A long enough answer that cites nothing at all, sadly.",
		HitNodeIDs: hits,
	}, &override)
	require.NoError(t, err)
	assert.Equal(t, storage.EvaluationStatusPass, result.Status)
}

func TestEvaluateAllSkipped(t *testing.T) {
	engine, _, messageID := newTestEngine(t)

	override := config.EvaluatorConfig{}
	result, err := engine.Evaluate(context.Background(), messageID, nil, nil, Input{
		Answer: "Some answer without any hits behind it at all.",
	}, &override)
	require.NoError(t, err)

	// no_empty_answer still decides, so the verdict is pass, not skipped.
	assert.Equal(t, storage.EvaluationStatusPass, result.Status)
}

func TestCoverageDenominatorIsCitations(t *testing.T) {
	// Retrieving more hits than the answer cites does not dilute coverage.
	hits, citations := hitsAndCitations(8, 3)
	assert.Equal(t, 1.0, coverage(citations, hits))

	// An ungrounded citation does.
	citations = append(citations, storage.Citation{NodeID: uuid.New()})
	assert.Equal(t, 0.75, coverage(citations, hits))
}

func TestCoverageDuplicateCitations(t *testing.T) {
	hits, _ := hitsAndCitations(2, 0)
	citations := []storage.Citation{
		{NodeID: hits[0]}, {NodeID: hits[0]}, {NodeID: hits[1]}, {NodeID: hits[1]},
	}
	// Two distinct grounded nodes over four citations; never above 1.
	cov := coverage(citations, hits)
	assert.Equal(t, 0.5, cov)
}

func TestEvaluateManyHitsFewCitationsPasses(t *testing.T) {
	engine, _, messageID := newTestEngine(t)
	hits, citations := hitsAndCitations(8, 3)

	result, err := engine.Evaluate(context.Background(), messageID, nil, nil, Input{
		Answer:     "Controllers must notify breaches within seventy two hours of awareness.",
		Citations:  citations,
		HitNodeIDs: hits,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, storage.EvaluationStatusPass, result.Status)
	assert.InDelta(t, 1.0, result.Scores["citation_coverage"], 1e-9)
}

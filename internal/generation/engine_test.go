package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/gate"
	"github.com/lexora-ai/rag-core/internal/llm"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/storage"
)

func generationDefaults() config.GenerationConfig {
	return config.GenerationConfig{
		Provider: "mock", Model: "mock-chat",
		PromptName: "legal_qa", PromptVersion: "v1",
	}
}

func newTestEngine(t *testing.T) (*Engine, *storage.Store, uuid.UUID, uuid.UUID) {
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

	rec := &storage.RetrievalRecord{
		MessageID: msg.ID, KBID: kb.ID, QueryText: "q",
		FusionStrategy: "rrf", RerankStrategy: "none",
	}
	require.NoError(t, store.Retrieval.CreateRecord(ctx, rec))

	engine := NewEngine(store, NewRegistry(generationDefaults()), generationDefaults(), observability.NopLogger())
	return engine, store, msg.ID, rec.ID
}

func sampleEvidence(n int) []EvidenceItem {
	out := make([]EvidenceItem, n)
	for i := range out {
		out[i] = EvidenceItem{
			NodeID: uuid.New(),
			Rank:   i + 1,
			Text:   fmt.Sprintf("Evidence passage %d about data protection obligations.", i+1),
			Page:   i + 1,
		}
	}
	return out
}

func TestGenerateSuccess(t *testing.T) {
	engine, store, messageID, retrievalID := newTestEngine(t)
	evidence := sampleEvidence(3)

	result, err := engine.Generate(context.Background(), messageID, retrievalID,
		"What are the controller's obligations?", evidence, Options{})
	require.NoError(t, err)

	assert.Equal(t, storage.GenerationStatusSuccess, result.Record.Status)
	assert.Equal(t, gate.StatusPass, result.Gate.Status)
	assert.NotEmpty(t, result.Answer)
	require.NotEmpty(t, result.Citations)

	// Every citation points into the evidence set.
	valid := map[uuid.UUID]bool{}
	for _, item := range evidence {
		valid[item.NodeID] = true
	}
	for _, c := range result.Citations {
		assert.True(t, valid[c.NodeID])
	}

	// The record is persisted with the full prompt snapshot.
	stored, err := store.Generation.GetByID(context.Background(), result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "legal_qa", stored.PromptName)
	assert.Equal(t, "v1", stored.PromptVersion)

	var snapshot []llm.Message
	require.NoError(t, json.Unmarshal(stored.MessagesSnapshot, &snapshot))
	require.Len(t, snapshot, 2)
	assert.Contains(t, snapshot[1].Content, "node_id="+evidence[0].NodeID.String())
}

func TestGenerateDropsUnknownCitations(t *testing.T) {
	engine, _, messageID, retrievalID := newTestEngine(t)
	evidence := sampleEvidence(2)
	stranger := uuid.New()

	mock := llm.NewMock("mock-chat")
	mock.RespondFunc = func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Result, error) {
		out, _ := json.Marshal(map[string]interface{}{
			"answer": "The obligations are documented in the cited passages.",
			"citations": []map[string]interface{}{
				{"node_id": evidence[0].NodeID.String(), "rank": 1},
				{"node_id": stranger.String(), "rank": 2},
			},
		})
		return &llm.Result{Content: string(out), Model: "mock-chat", FinishReason: "stop"}, nil
	}

	result, err := engine.generateWith(context.Background(), mock, messageID, retrievalID,
		"What obligations apply?", evidence, engine.withDefaults(Options{}))
	require.NoError(t, err)

	assert.Equal(t, storage.GenerationStatusPartial, result.Record.Status)
	assert.Equal(t, gate.StatusPartial, result.Gate.Status)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, evidence[0].NodeID, result.Citations[0].NodeID)
}

func TestGenerateAllCitationsUnknownFails(t *testing.T) {
	engine, _, messageID, retrievalID := newTestEngine(t)
	evidence := sampleEvidence(2)

	mock := llm.NewMock("mock-chat")
	mock.RespondFunc = func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Result, error) {
		out, _ := json.Marshal(map[string]interface{}{
			"answer": "The obligations are documented in the cited passages.",
			"citations": []map[string]interface{}{
				{"node_id": uuid.New().String(), "rank": 1},
				{"node_id": uuid.New().String(), "rank": 2},
			},
		})
		return &llm.Result{Content: string(out), Model: "mock-chat", FinishReason: "stop"}, nil
	}

	result, err := engine.generateWith(context.Background(), mock, messageID, retrievalID,
		"What obligations apply?", evidence, engine.withDefaults(Options{}))
	require.NoError(t, err)

	// Losing every citation leaves nothing verifiable behind the answer.
	assert.Equal(t, storage.GenerationStatusFailed, result.Record.Status)
	assert.Equal(t, gate.StatusFail, result.Gate.Status)
	assert.Empty(t, result.Citations)
	require.NotNil(t, result.Record.ErrorMessage)
	assert.Equal(t, "no citation matched the evidence", *result.Record.ErrorMessage)
}

func TestGenerateUnparseableOutput(t *testing.T) {
	engine, _, messageID, retrievalID := newTestEngine(t)
	evidence := sampleEvidence(2)

	mock := llm.NewMock("mock-chat")
	mock.RespondFunc = func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Result, error) {
		return &llm.Result{Content: "The controller must keep records, as stated above.", Model: "mock-chat"}, nil
	}

	result, err := engine.generateWith(context.Background(), mock, messageID, retrievalID,
		"What must the controller do?", evidence, engine.withDefaults(Options{}))
	require.NoError(t, err)

	assert.Equal(t, storage.GenerationStatusPartial, result.Record.Status)
	assert.Empty(t, result.Citations)
	assert.Equal(t, "The controller must keep records, as stated above.", result.Answer)
}

func TestGenerateNoEvidenceHallucination(t *testing.T) {
	engine, _, messageID, retrievalID := newTestEngine(t)

	mock := llm.NewMock("mock-chat")
	mock.RespondFunc = func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Result, error) {
		return &llm.Result{Content: `{"answer": "Everything is permitted.", "citations": []}`, Model: "mock-chat"}, nil
	}

	result, err := engine.generateWith(context.Background(), mock, messageID, retrievalID,
		"What is permitted?", nil, engine.withDefaults(Options{}))
	require.NoError(t, err)

	assert.Equal(t, storage.GenerationStatusFailed, result.Record.Status)
	require.NotNil(t, result.Record.ErrorMessage)
	assert.Equal(t, "no_evidence_hallucination", *result.Record.ErrorMessage)
	assert.Equal(t, gate.StatusFail, result.Gate.Status)
}

func TestGenerateModelError(t *testing.T) {
	engine, store, messageID, retrievalID := newTestEngine(t)
	evidence := sampleEvidence(1)

	mock := llm.NewMock("mock-chat")
	mock.RespondFunc = func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Result, error) {
		return nil, errors.New("upstream timeout")
	}

	result, err := engine.generateWith(context.Background(), mock, messageID, retrievalID,
		"What applies?", evidence, engine.withDefaults(Options{}))
	require.NoError(t, err)

	assert.Equal(t, storage.GenerationStatusFailed, result.Record.Status)
	assert.Equal(t, gate.StatusFail, result.Gate.Status)

	// The failed attempt is still on record.
	stored, err := store.Generation.GetByID(context.Background(), result.Record.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "upstream timeout")
}

func TestLookupPrompt(t *testing.T) {
	tpl, err := LookupPrompt("legal_qa", "v1")
	require.NoError(t, err)
	assert.Equal(t, "legal_qa", tpl.Name)

	_, err = LookupPrompt("legal_qa", "v9")
	assert.Error(t, err)
	_, err = LookupPrompt("missing", "v1")
	assert.Error(t, err)
}

func TestBuildMessagesEmptyEvidence(t *testing.T) {
	tpl, err := LookupPrompt("legal_qa", "v1")
	require.NoError(t, err)

	messages := BuildMessages(tpl, "Anything?", nil)
	require.Len(t, messages, 2)
	assert.Contains(t, messages[1].Content, "(none)")
	assert.Contains(t, messages[1].Content, "Question: Anything?")
}

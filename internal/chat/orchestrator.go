// Package chat orchestrates one question through retrieval, generation and
// evaluation, enforcing the gate chain between the stages.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/core"
	"github.com/lexora-ai/rag-core/internal/evaluator"
	"github.com/lexora-ai/rag-core/internal/gate"
	"github.com/lexora-ai/rag-core/internal/generation"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/retrieval"
	"github.com/lexora-ai/rag-core/internal/storage"
)

// Request is one chat turn. Context carries per-request overrides; unknown
// keys are preserved and echoed back, never rejected.
type Request struct {
	KBRef          string
	ConversationID *uuid.UUID
	Query          string
	Context        map[string]interface{}
}

// StageSummary reports one pipeline stage in the response envelope. Warnings
// carries the names of checks that degraded the stage without failing it;
// RuleVersion is set on the evaluation summary only.
type StageSummary struct {
	Status      string     `json:"status"`
	RecordID    *uuid.UUID `json:"record_id,omitempty"`
	Reasons     []string   `json:"reasons,omitempty"`
	Warnings    []string   `json:"warnings,omitempty"`
	RuleVersion string     `json:"rule_version,omitempty"`
}

// Response is the chat envelope. The assistant message's status is the
// single source of truth for the turn's outcome.
type Response struct {
	ConversationID uuid.UUID              `json:"conversation_id"`
	MessageID      uuid.UUID              `json:"message_id"`
	KBID           uuid.UUID              `json:"kb_id"`
	Status         storage.MessageStatus  `json:"status"`
	Answer         string                 `json:"answer,omitempty"`
	AnswerState    string                 `json:"answer_state,omitempty"`
	Citations      []storage.Citation     `json:"citations,omitempty"`
	Retrieval      StageSummary           `json:"retrieval"`
	Generation     StageSummary           `json:"generation"`
	Evaluation     StageSummary           `json:"evaluation"`
	Hits           []retrieval.Hit        `json:"hits,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

// Orchestrator runs the full pipeline for one message. Stage gates decide
// what runs next: failed retrieval blocks generation, failed generation
// still reaches the evaluator, and only the evaluator's verdict releases
// the answer.
type Orchestrator struct {
	store      *storage.Store
	retrieval  *retrieval.Engine
	generation *generation.Engine
	evaluator  *evaluator.Engine
	logger     *observability.Logger
}

// New creates an orchestrator.
func New(store *storage.Store, retrievalEngine *retrieval.Engine, generationEngine *generation.Engine, evaluatorEngine *evaluator.Engine, logger *observability.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		retrieval:  retrievalEngine,
		generation: generationEngine,
		evaluator:  evaluatorEngine,
		logger:     logger,
	}
}

// Ask processes one question end to end.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, core.E(core.KindBadRequest, "query is required")
	}

	kb, err := o.store.KnowledgeBases.GetByRef(ctx, req.KBRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, core.Ef(core.KindNotFound, "knowledge base not found: %s", req.KBRef)
		}
		return nil, err
	}

	overrides, err := parseOverrides(req.Context)
	if err != nil {
		return nil, err
	}

	conversation, err := o.resolveConversation(ctx, kb, req.ConversationID)
	if err != nil {
		return nil, err
	}

	userMsg := &storage.Message{
		ConversationID: conversation.ID,
		Role:           storage.MessageRoleUser,
		Content:        req.Query,
		Status:         storage.MessageStatusSuccess,
	}
	if err := o.store.Messages.Create(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("create user message: %w", err)
	}

	assistantMsg := &storage.Message{
		ConversationID: conversation.ID,
		Role:           storage.MessageRoleAssistant,
		Status:         storage.MessageStatusPending,
	}
	if err := o.store.Messages.Create(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("create assistant message: %w", err)
	}

	resp := &Response{
		ConversationID: conversation.ID,
		MessageID:      assistantMsg.ID,
		KBID:           kb.ID,
		Extra:          overrides.Extra,
	}
	log := o.logger.WithKB(kb.ID)

	// Stage 1: retrieval.
	retrievalResult, err := o.retrieval.Retrieve(ctx, kb, assistantMsg.ID, req.Query, overrides.Retrieval)
	if err != nil {
		_ = o.store.Messages.Finalize(ctx, assistantMsg.ID, storage.MessageStatusFailed, "")
		return nil, err
	}
	resp.Retrieval = summarize(retrievalResult.Gate, &retrievalResult.Record.ID)
	if overrides.ReturnHits {
		resp.Hits = retrievalResult.Hits
	}

	if retrievalResult.Gate.Status == gate.StatusFail {
		// No usable evidence: generation never runs and the verdict is
		// synthesized rather than persisted, since there is nothing to
		// evaluate.
		resp.Generation = StageSummary{Status: string(gate.StatusSkipped)}
		resp.Evaluation = StageSummary{
			Status:      string(storage.EvaluationStatusFail),
			Reasons:     []string{"no_evidence"},
			RuleVersion: evaluator.RuleVersion,
		}
		resp.Status = storage.MessageStatusBlocked
		if err := o.store.Messages.Finalize(ctx, assistantMsg.ID, resp.Status, ""); err != nil {
			return nil, err
		}
		log.Info().Stringer("message_id", assistantMsg.ID).Msg("retrieval gate blocked generation")
		return resp, nil
	}

	// Stage 2: generation.
	evidence := make([]generation.EvidenceItem, len(retrievalResult.Hits))
	hitNodeIDs := make([]uuid.UUID, len(retrievalResult.Hits))
	for i, h := range retrievalResult.Hits {
		evidence[i] = generation.EvidenceItem{
			NodeID:      h.NodeID,
			Rank:        h.Rank,
			Text:        h.Excerpt,
			Page:        h.Page,
			ArticleID:   h.ArticleID,
			SectionPath: h.SectionPath,
		}
		hitNodeIDs[i] = h.NodeID
	}

	generationResult, err := o.generation.Generate(ctx, assistantMsg.ID, retrievalResult.Record.ID, req.Query, evidence, overrides.Generation)
	if err != nil {
		_ = o.store.Messages.Finalize(ctx, assistantMsg.ID, storage.MessageStatusFailed, "")
		return nil, err
	}
	resp.Generation = summarize(generationResult.Gate, &generationResult.Record.ID)

	// Stage 3: evaluation. A failed generation does not block it; the
	// evaluator sees whatever answer exists and judges accordingly.
	retrievalID := retrievalResult.Record.ID
	generationID := generationResult.Record.ID
	evaluationResult, err := o.evaluator.Evaluate(ctx, assistantMsg.ID, &retrievalID, &generationID, evaluator.Input{
		Answer:     generationResult.Answer,
		Citations:  generationResult.Citations,
		HitNodeIDs: hitNodeIDs,
	}, overrides.Evaluator)
	if err != nil {
		_ = o.store.Messages.Finalize(ctx, assistantMsg.ID, storage.MessageStatusFailed, "")
		return nil, err
	}
	resp.Evaluation = summarize(evaluationResult.Gate, &evaluationResult.Record.ID)
	resp.Evaluation.RuleVersion = evaluationResult.Record.RuleVersion

	// The evaluator's verdict releases or withholds the answer.
	var content string
	switch evaluationResult.Status {
	case storage.EvaluationStatusPass:
		resp.Status = storage.MessageStatusSuccess
		resp.Answer = generationResult.Answer
		resp.Citations = generationResult.Citations
		content = generationResult.Answer
	case storage.EvaluationStatusPartial:
		resp.Status = storage.MessageStatusSuccess
		resp.AnswerState = "partial"
		resp.Answer = generationResult.Answer
		resp.Citations = generationResult.Citations
		content = generationResult.Answer
	case storage.EvaluationStatusFail:
		resp.Status = storage.MessageStatusBlocked
	default:
		resp.Status = storage.MessageStatusFailed
	}

	if err := o.store.Messages.Finalize(ctx, assistantMsg.ID, resp.Status, content); err != nil {
		return nil, err
	}

	log.Info().
		Stringer("message_id", assistantMsg.ID).
		Str("status", string(resp.Status)).
		Str("evaluation", string(evaluationResult.Status)).
		Msg("chat turn complete")
	return resp, nil
}

func (o *Orchestrator) resolveConversation(ctx context.Context, kb *storage.KnowledgeBase, id *uuid.UUID) (*storage.Conversation, error) {
	if id != nil {
		conversation, err := o.store.Conversations.GetByID(ctx, *id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, core.Ef(core.KindNotFound, "conversation not found: %s", id)
			}
			return nil, err
		}
		if conversation.KBID != kb.ID {
			return nil, core.E(core.KindBadRequest, "conversation belongs to a different knowledge base")
		}
		return conversation, nil
	}

	conversation := &storage.Conversation{KBID: kb.ID}
	if err := o.store.Conversations.Create(ctx, conversation); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

func summarize(report gate.Report, recordID *uuid.UUID) StageSummary {
	var warnings []string
	for _, c := range report.Checks {
		if c.Status == gate.CheckWarn {
			warnings = append(warnings, c.Name)
		}
	}
	return StageSummary{
		Status:   string(report.Status),
		RecordID: recordID,
		Reasons:  report.Reasons,
		Warnings: warnings,
	}
}

// Overrides are the typed per-request knobs extracted from the context map.
type Overrides struct {
	Retrieval  retrieval.Options
	Generation generation.Options
	Evaluator  *config.EvaluatorConfig
	ReturnHits bool
	Extra      map[string]interface{}
}

// parseOverrides maps known context keys onto engine options. Unknown keys
// land in Extra untouched; wrongly typed known keys are rejected.
func parseOverrides(raw map[string]interface{}) (*Overrides, error) {
	o := &Overrides{}
	if len(raw) == 0 {
		return o, nil
	}

	for key, value := range raw {
		var err error
		switch key {
		case "keyword_top_k":
			o.Retrieval.KeywordTopK, err = asInt(key, value)
		case "vector_top_k":
			o.Retrieval.VectorTopK, err = asInt(key, value)
			if err == nil && o.Retrieval.VectorTopK <= 0 {
				o.Retrieval.VectorDisabled = true
			}
		case "fusion_top_k":
			o.Retrieval.FusionTopK, err = asInt(key, value)
		case "rerank_top_k":
			o.Retrieval.RerankTopK, err = asInt(key, value)
		case "fusion_strategy":
			o.Retrieval.FusionStrategy, err = asString(key, value)
		case "rerank_strategy":
			o.Retrieval.RerankStrategy, err = asString(key, value)
		case "rrf_k":
			o.Retrieval.RRFK, err = asInt(key, value)
		case "keyword_weight":
			o.Retrieval.KeywordWeight, err = asFloat(key, value)
		case "vector_weight":
			o.Retrieval.VectorWeight, err = asFloat(key, value)
		case "embed_provider":
			o.Retrieval.EmbedProvider, err = asString(key, value)
		case "embed_model":
			o.Retrieval.EmbedModel, err = asString(key, value)
		case "embed_dim":
			o.Retrieval.EmbedDim, err = asInt(key, value)
		case "model_provider":
			o.Generation.Provider, err = asString(key, value)
		case "model_name":
			o.Generation.Model, err = asString(key, value)
		case "prompt_name":
			o.Generation.PromptName, err = asString(key, value)
		case "prompt_version":
			o.Generation.PromptVersion, err = asString(key, value)
		case "temperature":
			o.Generation.Temperature, err = asFloat(key, value)
		case "max_tokens":
			o.Generation.MaxTokens, err = asInt(key, value)
		case "evaluator_config":
			o.Evaluator, err = asEvaluatorConfig(value)
		case "return_hits", "return_records":
			var b bool
			b, err = asBool(key, value)
			o.ReturnHits = o.ReturnHits || b
		case "debug":
			o.Retrieval.Debug, err = asBool(key, value)
		default:
			if o.Extra == nil {
				o.Extra = make(map[string]interface{})
			}
			o.Extra[key] = value
		}
		if err != nil {
			return nil, err
		}
	}
	return o, nil
}

func asInt(key string, v interface{}) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	default:
		return 0, core.Ef(core.KindBadRequest, "context key %q must be an integer", key)
	}
}

func asFloat(key string, v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, core.Ef(core.KindBadRequest, "context key %q must be a number", key)
	}
}

func asString(key string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", core.Ef(core.KindBadRequest, "context key %q must be a string", key)
	}
	return s, nil
}

func asBool(key string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, core.Ef(core.KindBadRequest, "context key %q must be a boolean", key)
	}
	return b, nil
}

func asEvaluatorConfig(v interface{}) (*config.EvaluatorConfig, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, core.Wrap(core.KindBadRequest, "context key \"evaluator_config\"", err)
	}
	cfg := &config.EvaluatorConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, core.Wrap(core.KindBadRequest, "context key \"evaluator_config\"", err)
	}
	return cfg, nil
}

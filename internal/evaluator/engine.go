package evaluator

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/gate"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/storage"
)

// Result is one persisted verdict.
type Result struct {
	Record *storage.EvaluationRecord
	Status storage.EvaluationStatus
	Gate   gate.Report
	Scores map[string]float64
}

// Engine evaluates answers and persists the verdict with the exact rule
// version and thresholds that produced it.
type Engine struct {
	store    *storage.Store
	defaults config.EvaluatorConfig
	logger   *observability.Logger
}

// NewEngine creates an evaluator engine.
func NewEngine(store *storage.Store, defaults config.EvaluatorConfig, logger *observability.Logger) *Engine {
	return &Engine{store: store, defaults: defaults, logger: logger}
}

// Evaluate runs the checks and writes the evaluation record. cfg may
// override individual thresholds; nil uses the configured defaults.
func (e *Engine) Evaluate(ctx context.Context, messageID uuid.UUID, retrievalRecordID, generationRecordID *uuid.UUID, in Input, cfg *config.EvaluatorConfig) (*Result, error) {
	effective := e.defaults
	if cfg != nil {
		effective = *cfg
	}

	checks, scores := runChecks(in, effective)
	report := gate.Aggregate("evaluation", checks)

	status := statusFromGate(report.Status)

	record := &storage.EvaluationRecord{
		MessageID:          messageID,
		RetrievalRecordID:  retrievalRecordID,
		GenerationRecordID: generationRecordID,
		Status:             status,
		RuleVersion:        RuleVersion,
	}
	record.Config, _ = json.Marshal(effective)
	record.Checks, _ = json.Marshal(checks)
	record.Scores, _ = json.Marshal(scores)

	if err := e.store.Evaluation.Create(ctx, record); err != nil {
		return nil, err
	}

	e.logger.WithStage("evaluation").Info().
		Stringer("record_id", record.ID).
		Str("status", string(status)).
		Str("rule_version", RuleVersion).
		Msg("evaluation complete")

	return &Result{Record: record, Status: status, Gate: report, Scores: scores}, nil
}

func statusFromGate(s gate.Status) storage.EvaluationStatus {
	switch s {
	case gate.StatusPass:
		return storage.EvaluationStatusPass
	case gate.StatusPartial:
		return storage.EvaluationStatusPartial
	case gate.StatusFail:
		return storage.EvaluationStatusFail
	default:
		return storage.EvaluationStatusSkipped
	}
}

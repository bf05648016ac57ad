package generation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/core"
	"github.com/lexora-ai/rag-core/internal/gate"
	"github.com/lexora-ai/rag-core/internal/llm"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/storage"
)

// reasonNoEvidenceHallucination marks an answer produced without evidence.
const reasonNoEvidenceHallucination = "no_evidence_hallucination"

// Options are the resolved generation knobs of one request. Empty values
// fall back to the configured defaults.
type Options struct {
	Provider      string
	Model         string
	PromptName    string
	PromptVersion string
	Temperature   float64
	MaxTokens     int
}

// Result is the outcome of one generation attempt.
type Result struct {
	Record    *storage.GenerationRecord
	Answer    string
	Citations []storage.Citation
	Gate      gate.Report
}

// structuredOutput is the JSON schema the model is asked to follow.
type structuredOutput struct {
	Answer    string `json:"answer"`
	Citations []struct {
		NodeID string `json:"node_id"`
		Rank   *int   `json:"rank,omitempty"`
	} `json:"citations"`
}

// Registry resolves generation providers, mirroring how embedding providers
// resolve. "mock" is deterministic and local; "openai" calls any
// OpenAI-compatible endpoint.
type Registry struct {
	defaults config.GenerationConfig
}

// NewRegistry creates a provider registry with configured defaults.
func NewRegistry(defaults config.GenerationConfig) *Registry {
	return &Registry{defaults: defaults}
}

// Resolve returns a chat model for the given provider and model name.
func (r *Registry) Resolve(provider, model string) (llm.ChatModel, error) {
	if provider == "" {
		provider = r.defaults.Provider
	}
	if model == "" {
		model = r.defaults.Model
	}

	switch provider {
	case "mock":
		return llm.NewMock(model), nil
	case "openai":
		return llm.NewClient(llm.Config{
			APIKey:  r.defaults.APIKey,
			BaseURL: r.defaults.BaseURL,
			Model:   model,
			Timeout: r.defaults.Timeout,
		})
	default:
		return nil, core.Ef(core.KindBadRequest, "unknown generation provider: %s", provider)
	}
}

// Engine produces grounded answers and persists every attempt, successful
// or not, as a generation record.
type Engine struct {
	store    *storage.Store
	registry *Registry
	defaults config.GenerationConfig
	logger   *observability.Logger
}

// NewEngine creates a generation engine.
func NewEngine(store *storage.Store, registry *Registry, defaults config.GenerationConfig, logger *observability.Logger) *Engine {
	return &Engine{store: store, registry: registry, defaults: defaults, logger: logger}
}

// Generate builds the prompt, calls the model and aligns citations against
// the evidence. The returned error is non-nil only for infrastructure
// failures before a record could be written; model failures come back as a
// failed record.
func (e *Engine) Generate(ctx context.Context, messageID, retrievalRecordID uuid.UUID, question string, evidence []EvidenceItem, opts Options) (*Result, error) {
	opts = e.withDefaults(opts)

	model, err := e.registry.Resolve(opts.Provider, opts.Model)
	if err != nil {
		return nil, err
	}
	return e.generateWith(ctx, model, messageID, retrievalRecordID, question, evidence, opts)
}

// generateWith runs generation against an explicit chat model.
func (e *Engine) generateWith(ctx context.Context, model llm.ChatModel, messageID, retrievalRecordID uuid.UUID, question string, evidence []EvidenceItem, opts Options) (*Result, error) {
	log := e.logger.WithStage("generation")

	tpl, err := LookupPrompt(opts.PromptName, opts.PromptVersion)
	if err != nil {
		return nil, err
	}

	messages := BuildMessages(tpl, question, evidence)
	snapshot, _ := json.Marshal(messages)

	record := &storage.GenerationRecord{
		MessageID:         messageID,
		RetrievalRecordID: retrievalRecordID,
		PromptName:        tpl.Name,
		PromptVersion:     tpl.Version,
		ModelProvider:     opts.Provider,
		ModelName:         model.Model(),
		MessagesSnapshot:  snapshot,
	}

	result := &Result{Record: record}

	output, callErr := model.Chat(ctx, messages, llm.Options{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if callErr != nil {
		msg := callErr.Error()
		if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
			msg = "generation cancelled: " + msg
		}
		record.Status = storage.GenerationStatusFailed
		record.ErrorMessage = &msg
		result.Gate = gate.Failing("generation", "model_responded", msg)
		if err := e.store.Generation.Create(ctx, record); err != nil {
			return nil, err
		}
		log.Error().Err(callErr).Stringer("record_id", record.ID).Msg("model call failed")
		return result, nil
	}

	record.OutputRaw = output.Content
	if output.Model != "" {
		record.ModelName = output.Model
	}

	e.postprocess(record, result, output.Content, evidence)

	if err := e.store.Generation.Create(ctx, record); err != nil {
		return nil, err
	}

	log.Info().
		Stringer("record_id", record.ID).
		Str("status", string(record.Status)).
		Int("citations", len(result.Citations)).
		Msg("generation complete")
	return result, nil
}

// postprocess parses the model output, drops citations that do not point
// into the evidence, and derives the generation status.
func (e *Engine) postprocess(record *storage.GenerationRecord, result *Result, raw string, evidence []EvidenceItem) {
	var checks []gate.Check
	checks = append(checks, gate.Check{Name: "model_responded", Status: gate.CheckPass})

	var parsed structuredOutput
	parseErr := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed)
	if parseErr != nil || parsed.Answer == "" {
		// Unparseable output degrades to a partial answer with no citations.
		record.Status = storage.GenerationStatusPartial
		result.Answer = strings.TrimSpace(raw)
		result.Citations = nil
		record.Citations, _ = json.Marshal([]storage.Citation{})
		checks = append(checks, gate.Check{
			Name: "output_parseable", Status: gate.CheckWarn, Detail: "model output is not valid JSON",
		})
		result.Gate = gate.Aggregate("generation", checks)
		return
	}
	checks = append(checks, gate.Check{Name: "output_parseable", Status: gate.CheckPass})

	record.OutputStructured, _ = json.Marshal(parsed)
	result.Answer = parsed.Answer

	if len(evidence) == 0 && strings.TrimSpace(parsed.Answer) != "" {
		// An answer with no evidence behind it is never trustworthy.
		record.Status = storage.GenerationStatusFailed
		reason := reasonNoEvidenceHallucination
		record.ErrorMessage = &reason
		record.Citations, _ = json.Marshal([]storage.Citation{})
		checks = append(checks, gate.Check{
			Name: "grounded", Status: gate.CheckFail, Detail: reasonNoEvidenceHallucination,
		})
		result.Gate = gate.Aggregate("generation", checks)
		return
	}

	byNode := make(map[uuid.UUID]EvidenceItem, len(evidence))
	for _, item := range evidence {
		byNode[item.NodeID] = item
	}

	var aligned []storage.Citation
	dropped := 0
	for _, c := range parsed.Citations {
		nodeID, err := uuid.Parse(c.NodeID)
		if err != nil {
			dropped++
			continue
		}
		item, ok := byNode[nodeID]
		if !ok {
			dropped++
			continue
		}

		citation := storage.Citation{NodeID: nodeID, Rank: c.Rank}
		if citation.Rank == nil {
			rank := item.Rank
			citation.Rank = &rank
		}
		if item.Page > 0 {
			page := item.Page
			citation.Page = &page
		}
		citation.ArticleID = item.ArticleID
		citation.SectionPath = item.SectionPath
		aligned = append(aligned, citation)
	}

	result.Citations = aligned
	record.Citations, _ = json.Marshal(aligned)
	if record.Citations == nil {
		record.Citations = json.RawMessage(`[]`)
	}

	switch {
	case dropped > 0 && len(aligned) == 0:
		// Every citation pointed outside the evidence: the answer is
		// unverifiable, not merely degraded.
		record.Status = storage.GenerationStatusFailed
		reason := "no citation matched the evidence"
		record.ErrorMessage = &reason
		checks = append(checks, gate.Check{
			Name: "citations_aligned", Status: gate.CheckFail, Detail: reason,
		})
	case dropped > 0:
		record.Status = storage.GenerationStatusPartial
		checks = append(checks, gate.Check{
			Name: "citations_aligned", Status: gate.CheckWarn,
			Detail: "some citations did not match the evidence",
		})
	default:
		record.Status = storage.GenerationStatusSuccess
		checks = append(checks, gate.Check{Name: "citations_aligned", Status: gate.CheckPass})
	}

	result.Gate = gate.Aggregate("generation", checks)
}

func (e *Engine) withDefaults(opts Options) Options {
	d := e.defaults
	if opts.Provider == "" {
		opts.Provider = d.Provider
	}
	if opts.Model == "" {
		opts.Model = d.Model
	}
	if opts.PromptName == "" {
		opts.PromptName = d.PromptName
	}
	if opts.PromptVersion == "" {
		opts.PromptVersion = d.PromptVersion
	}
	if opts.Temperature == 0 {
		opts.Temperature = d.Temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = d.MaxTokens
	}
	return opts
}

// extractJSONObject pulls the first top-level JSON object out of model text,
// tolerating code fences and prose around it.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

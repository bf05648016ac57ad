// Package retrieval runs hybrid keyword and vector recall, fuses both
// rankings and persists the evidence chain of every query.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lexora-ai/rag-core/internal/cache"
	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/core"
	"github.com/lexora-ai/rag-core/internal/embedding"
	"github.com/lexora-ai/rag-core/internal/gate"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/storage"
	"github.com/lexora-ai/rag-core/internal/vectorstore"
)

const excerptMaxChars = 240

// Options are the fully resolved knobs of one retrieval run. Zero values
// fall back to the engine's configured defaults.
type Options struct {
	KeywordTopK    int
	VectorTopK     int
	// VectorDisabled turns vector recall off for this run. Callers that
	// resolve an explicit vector_top_k of 0 set this instead of leaving
	// VectorTopK at zero, which would fall back to the configured default.
	VectorDisabled bool
	FusionTopK     int
	RerankTopK     int
	FusionStrategy string
	RerankStrategy string
	RRFK           int
	KeywordWeight  float64
	VectorWeight   float64

	// Embedding overrides; empty means the knowledge base's pinned triple.
	EmbedProvider string
	EmbedModel    string
	EmbedDim      int

	// Debug additionally persists the intermediate keyword and vector hits.
	Debug bool
}

// Hit is one final retrieval result with full provenance.
type Hit struct {
	NodeID       uuid.UUID         `json:"node_id"`
	Rank         int               `json:"rank"`
	Score        float64           `json:"score"`
	Source       storage.HitSource `json:"source"`
	Excerpt      string            `json:"excerpt"`
	Page         int               `json:"page"`
	ArticleID    *string           `json:"article_id,omitempty"`
	SectionPath  *string           `json:"section_path,omitempty"`
	StartOffset  *int              `json:"start_offset,omitempty"`
	EndOffset    *int              `json:"end_offset,omitempty"`
	ScoreDetails json.RawMessage   `json:"score_details"`
}

// Result is the outcome of one retrieval run.
type Result struct {
	Record               *storage.RetrievalRecord
	Hits                 []Hit
	Gate                 gate.Report
	WeakQuery            bool
	RerankFallbackReason string
}

// Engine wires the document store, the vector store and the rerankers into
// one retrieval pipeline.
type Engine struct {
	store      *storage.Store
	vectors    vectorstore.Store
	embeddings *embedding.Registry
	cache      cache.Client
	rerankers  map[string]Reranker
	defaults   config.RetrievalConfig
	logger     *observability.Logger
}

// NewEngine creates a retrieval engine. The cache may be nil to disable
// query-embedding caching; rerankers registers strategies beyond "none".
func NewEngine(store *storage.Store, vectors vectorstore.Store, embeddings *embedding.Registry, cacheClient cache.Client, rerankers map[string]Reranker, defaults config.RetrievalConfig, logger *observability.Logger) *Engine {
	if rerankers == nil {
		rerankers = map[string]Reranker{}
	}
	return &Engine{
		store:      store,
		vectors:    vectors,
		embeddings: embeddings,
		cache:      cacheClient,
		rerankers:  rerankers,
		defaults:   defaults,
		logger:     logger,
	}
}

type recallOutcome struct {
	keyword    []storage.KeywordMatch
	keywordErr error
	vector     []vectorstore.Hit
	vectorErr  error
}

// Retrieve runs both recall paths, fuses, optionally reranks, and persists
// the record with its hits. messageID links the record to its conversation
// turn.
func (e *Engine) Retrieve(ctx context.Context, kb *storage.KnowledgeBase, messageID uuid.UUID, query string, opts Options) (*Result, error) {
	opts = e.withDefaults(opts)
	started := time.Now()
	log := e.logger.WithKB(kb.ID).WithStage("retrieval")

	result := &Result{}

	// The knowledge base's pinned embedding triple governs unless the
	// request explicitly overrides it.
	overridden := opts.EmbedProvider != "" || opts.EmbedModel != "" || opts.EmbedDim > 0
	var provider embedding.Provider
	var err error
	if overridden {
		provider, err = e.embeddings.Resolve(opts.EmbedProvider, opts.EmbedModel, opts.EmbedDim)
	} else {
		provider, err = e.embeddings.Resolve(kb.EmbedProvider, kb.EmbedModel, kb.EmbedDim)
	}
	if err != nil {
		return nil, err
	}
	if !overridden && provider.Dimension() != kb.EmbedDim {
		return nil, core.Ef(core.KindBadRequest,
			"embedding dimension mismatch: knowledge base pins %d, provider %s produces %d",
			kb.EmbedDim, provider.Model(), provider.Dimension())
	}

	weak := isWeakQuery(query)
	result.WeakQuery = weak

	var recall recallOutcome
	if !weak {
		recall = e.recall(ctx, kb, provider, query, opts)
	}

	keywordResults := make([]KeywordResult, len(recall.keyword))
	for i, m := range recall.keyword {
		keywordResults[i] = KeywordResult{
			NodeID:     m.NodeID,
			Rank:       i + 1,
			Score:      m.Score,
			RawScore:   m.RawScore,
			Normalizer: m.Normalizer,
		}
	}
	vectorResults := make([]VectorResult, 0, len(recall.vector))
	for i, h := range recall.vector {
		vectorResults = append(vectorResults, VectorResult{
			NodeID: h.Payload.NodeID,
			Rank:   i + 1,
			Score:  h.Score,
		})
	}

	fused := Fuse(opts.FusionStrategy, keywordResults, vectorResults, FusionOptions{
		TopK:          opts.FusionTopK,
		RRFK:          opts.RRFK,
		KeywordWeight: opts.KeywordWeight,
		VectorWeight:  opts.VectorWeight,
	})

	nodes, err := e.loadNodes(ctx, fused, recall)
	if err != nil {
		return nil, err
	}

	finalSource := storage.HitSourceFused
	final := fused
	if opts.RerankStrategy != RerankNone && len(fused) > 0 {
		reranked, reason := e.rerank(ctx, query, fused, nodes, opts)
		if reason != "" {
			result.RerankFallbackReason = reason
			log.Warn().Str("strategy", opts.RerankStrategy).Str("reason", reason).Msg("rerank fell back to fused ordering")
		} else {
			final = reranked
			finalSource = storage.HitSourceReranked
		}
		if opts.RerankTopK > 0 && opts.RerankTopK < len(final) {
			final = final[:opts.RerankTopK]
		}
		for i := range final {
			final[i].Rank = i + 1
		}
	}

	result.Hits = e.buildHits(final, finalSource, nodes, recall, opts, result.RerankFallbackReason)
	result.Gate = e.runChecks(weak, recall, len(result.Hits))

	record := &storage.RetrievalRecord{
		MessageID:      messageID,
		KBID:           kb.ID,
		QueryText:      query,
		KeywordTopK:    opts.KeywordTopK,
		VectorTopK:     opts.VectorTopK,
		FusionTopK:     opts.FusionTopK,
		RerankTopK:     opts.RerankTopK,
		FusionStrategy: opts.FusionStrategy,
		RerankStrategy: opts.RerankStrategy,
		TimingMS:       time.Since(started).Milliseconds(),
	}
	record.ProviderSnapshot, _ = json.Marshal(map[string]interface{}{
		"embed_provider": kb.EmbedProvider,
		"embed_model":    provider.Model(),
		"embed_dim":      provider.Dimension(),
		"metric":         vectorstore.MetricCosine,
		"rrf_k":          opts.RRFK,
		"keyword_weight": opts.KeywordWeight,
		"vector_weight":  opts.VectorWeight,
	})

	if err := e.persist(ctx, record, result, keywordResults, vectorResults, recall, opts); err != nil {
		return nil, err
	}
	result.Record = record

	log.Info().
		Stringer("record_id", record.ID).
		Int("hits", len(result.Hits)).
		Str("gate", string(result.Gate.Status)).
		Int64("timing_ms", record.TimingMS).
		Msg("retrieval complete")
	return result, nil
}

// recall runs keyword and vector search in parallel. A single failing path
// degrades the run instead of aborting it.
func (e *Engine) recall(ctx context.Context, kb *storage.KnowledgeBase, provider embedding.Provider, query string, opts Options) recallOutcome {
	var out recallOutcome

	keywordDone := make(chan struct{})
	go func() {
		defer close(keywordDone)
		out.keyword, out.keywordErr = e.store.Nodes.SearchByKeyword(ctx, kb.ID, query, opts.KeywordTopK)
	}()

	if opts.VectorTopK > 0 {
		vector, err := e.embedQuery(ctx, provider, query)
		if err != nil {
			out.vectorErr = err
		} else {
			out.vector, out.vectorErr = e.vectors.Search(ctx, kb.VectorCollection,
				vectorstore.Scope{KBID: kb.ID}, vector, opts.VectorTopK)
		}
	}

	<-keywordDone
	return out
}

// embedQuery embeds the query, consulting the cache first.
func (e *Engine) embedQuery(ctx context.Context, provider embedding.Provider, query string) ([]float32, error) {
	if e.cache == nil {
		return embedding.EmbedSingle(ctx, provider, query)
	}

	key := cache.EmbeddingCacheKey(provider.Model(), provider.Dimension(), query)
	if data, err := e.cache.Get(ctx, key); err == nil {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil && len(vec) == provider.Dimension() {
			return vec, nil
		}
	}

	vec, err := embedding.EmbedSingle(ctx, provider, query)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(vec); err == nil {
		_ = e.cache.Set(ctx, key, data, time.Hour)
	}
	return vec, nil
}

// loadNodes fetches node rows for all fused candidates. Keyword matches
// carry text but not offsets, so every candidate gets the full row; the
// match text only fills a gap if a row went missing between recall and
// lookup.
func (e *Engine) loadNodes(ctx context.Context, fused []FusedCandidate, recall recallOutcome) (map[uuid.UUID]*storage.Node, error) {
	ids := make([]uuid.UUID, len(fused))
	for i, c := range fused {
		ids[i] = c.NodeID
	}

	nodes, err := e.store.Nodes.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidate nodes: %w", err)
	}

	for _, m := range recall.keyword {
		if _, ok := nodes[m.NodeID]; !ok {
			nodes[m.NodeID] = &storage.Node{
				ID:         m.NodeID,
				FileID:     m.FileID,
				DocumentID: m.DocumentID,
				Text:       m.Text,
				Page:       m.Page,
			}
		}
	}
	return nodes, nil
}

// rerank rescoring is best-effort: any error returns the fallback reason and
// the caller keeps the fused ordering. Stable sort preserves fused order for
// equal rerank scores.
func (e *Engine) rerank(ctx context.Context, query string, fused []FusedCandidate, nodes map[uuid.UUID]*storage.Node, opts Options) ([]FusedCandidate, string) {
	reranker, ok := e.rerankers[opts.RerankStrategy]
	if !ok {
		return nil, fmt.Sprintf("no reranker registered for strategy %q", opts.RerankStrategy)
	}

	inputs := make([]RerankInput, len(fused))
	for i, c := range fused {
		text := ""
		if n, ok := nodes[c.NodeID]; ok {
			text = n.Text
		}
		inputs[i] = RerankInput{NodeID: c.NodeID, Text: text, FusedRank: c.Rank}
	}

	scores, err := reranker.Rerank(ctx, query, inputs)
	if err != nil {
		return nil, err.Error()
	}

	byNode := make(map[uuid.UUID]float64, len(scores))
	for _, s := range scores {
		byNode[s.NodeID] = s.Score
	}

	out := make([]FusedCandidate, len(fused))
	copy(out, fused)
	sort.SliceStable(out, func(i, j int) bool {
		return byNode[out[i].NodeID] > byNode[out[j].NodeID]
	})
	for i := range out {
		out[i].Score = byNode[out[i].NodeID]
		out[i].Rank = i + 1
	}
	return out, ""
}

// buildHits materializes final hits with score provenance.
func (e *Engine) buildHits(final []FusedCandidate, source storage.HitSource, nodes map[uuid.UUID]*storage.Node, recall recallOutcome, opts Options, fallbackReason string) []Hit {
	keywordByNode := make(map[uuid.UUID]storage.KeywordMatch, len(recall.keyword))
	for _, m := range recall.keyword {
		keywordByNode[m.NodeID] = m
	}
	vectorByNode := make(map[uuid.UUID]vectorstore.Hit, len(recall.vector))
	for _, h := range recall.vector {
		vectorByNode[h.Payload.NodeID] = h
	}

	hits := make([]Hit, 0, len(final))
	for _, c := range final {
		details := map[string]interface{}{
			"fusion_strategy": opts.FusionStrategy,
			"keyword_rank":    c.KeywordRank,
			"vector_rank":     c.VectorRank,
			"keyword_score":   c.KeywordScore,
			"vector_score":    c.VectorScore,
		}
		if m, ok := keywordByNode[c.NodeID]; ok {
			details["keyword_raw_score"] = m.RawScore
			details["normalizer"] = m.Normalizer
		}
		if h, ok := vectorByNode[c.NodeID]; ok {
			details["metric"] = h.MetricType
		}
		if source == storage.HitSourceReranked {
			details["rerank_strategy"] = opts.RerankStrategy
			details["rerank_score"] = c.Score
		}
		if fallbackReason != "" {
			details["rerank_fallback_reason"] = fallbackReason
		}
		raw, _ := json.Marshal(details)

		hit := Hit{
			NodeID:       c.NodeID,
			Rank:         c.Rank,
			Score:        c.Score,
			Source:       source,
			ScoreDetails: raw,
		}
		if n, ok := nodes[c.NodeID]; ok {
			hit.Excerpt = excerpt(n.Text)
			hit.Page = n.Page
			hit.ArticleID = n.ArticleID
			hit.SectionPath = n.SectionPath
			hit.StartOffset = n.StartOffset
			hit.EndOffset = n.EndOffset
		}
		hits = append(hits, hit)
	}
	return hits
}

// persist writes the record and its hits. Intermediate keyword and vector
// hits are stored only in debug mode.
func (e *Engine) persist(ctx context.Context, record *storage.RetrievalRecord, result *Result, keyword []KeywordResult, vector []VectorResult, recall recallOutcome, opts Options) error {
	return e.store.WithTx(ctx, func(repos *storage.Repositories) error {
		if err := repos.Retrieval.CreateRecord(ctx, record); err != nil {
			return fmt.Errorf("create retrieval record: %w", err)
		}

		var rows []storage.RetrievalHit
		for _, h := range result.Hits {
			rows = append(rows, storage.RetrievalHit{
				RetrievalRecordID: record.ID,
				NodeID:            h.NodeID,
				Source:            h.Source,
				Rank:              h.Rank,
				Score:             h.Score,
				ScoreDetails:      h.ScoreDetails,
				Excerpt:           h.Excerpt,
				Page:              h.Page,
				StartOffset:       h.StartOffset,
				EndOffset:         h.EndOffset,
			})
		}

		if opts.Debug {
			for _, k := range keyword {
				details, _ := json.Marshal(map[string]interface{}{
					"raw_score": k.RawScore, "normalizer": k.Normalizer,
				})
				m := recall.keyword[k.Rank-1]
				rows = append(rows, storage.RetrievalHit{
					RetrievalRecordID: record.ID,
					NodeID:            k.NodeID,
					Source:            storage.HitSourceKeyword,
					Rank:              k.Rank,
					Score:             k.Score,
					ScoreDetails:      details,
					Excerpt:           excerpt(m.Text),
					Page:              m.Page,
				})
			}
			for _, v := range vector {
				h := recall.vector[v.Rank-1]
				details, _ := json.Marshal(map[string]interface{}{"metric": h.MetricType})
				rows = append(rows, storage.RetrievalHit{
					RetrievalRecordID: record.ID,
					NodeID:            v.NodeID,
					Source:            storage.HitSourceVector,
					Rank:              v.Rank,
					Score:             v.Score,
					ScoreDetails:      details,
					Page:              h.Payload.Page,
				})
			}
		}

		if len(rows) == 0 {
			return nil
		}
		return repos.Retrieval.InsertHits(ctx, rows)
	})
}

// runChecks builds the retrieval gate report.
func (e *Engine) runChecks(weak bool, recall recallOutcome, hitCount int) gate.Report {
	var checks []gate.Check

	if weak {
		checks = append(checks, gate.Check{
			Name: "query_usable", Status: gate.CheckFail, Detail: "query too weak for recall",
		})
	} else {
		checks = append(checks, gate.Check{Name: "query_usable", Status: gate.CheckPass})
	}

	switch {
	case weak:
		checks = append(checks, gate.Check{Name: "recall_paths", Status: gate.CheckSkipped})
	case recall.keywordErr != nil && recall.vectorErr != nil:
		checks = append(checks, gate.Check{
			Name: "recall_paths", Status: gate.CheckFail,
			Detail: fmt.Sprintf("keyword: %v; vector: %v", recall.keywordErr, recall.vectorErr),
		})
	case recall.keywordErr != nil:
		checks = append(checks, gate.Check{
			Name: "recall_paths", Status: gate.CheckWarn,
			Detail: fmt.Sprintf("keyword recall failed: %v", recall.keywordErr),
		})
	case recall.vectorErr != nil:
		checks = append(checks, gate.Check{
			Name: "recall_paths", Status: gate.CheckWarn,
			Detail: fmt.Sprintf("vector recall failed: %v", recall.vectorErr),
		})
	default:
		checks = append(checks, gate.Check{Name: "recall_paths", Status: gate.CheckPass})
	}

	if hitCount > 0 {
		checks = append(checks, gate.Check{Name: "has_hits", Status: gate.CheckPass})
	} else {
		checks = append(checks, gate.Check{
			Name: "has_hits", Status: gate.CheckFail, Detail: "no_evidence",
		})
	}

	return gate.Aggregate("retrieval", checks)
}

func (e *Engine) withDefaults(opts Options) Options {
	d := e.defaults
	if opts.KeywordTopK <= 0 {
		opts.KeywordTopK = d.KeywordTopK
	}
	if opts.VectorDisabled {
		opts.VectorTopK = 0
	} else if opts.VectorTopK <= 0 {
		opts.VectorTopK = d.VectorTopK
	}
	if opts.FusionTopK <= 0 {
		opts.FusionTopK = d.FusionTopK
	}
	if opts.RerankTopK <= 0 {
		opts.RerankTopK = d.RerankTopK
	}
	if opts.FusionStrategy == "" {
		opts.FusionStrategy = d.FusionStrategy
	}
	if opts.RerankStrategy == "" {
		opts.RerankStrategy = d.RerankStrategy
	}
	if opts.RRFK <= 0 {
		opts.RRFK = d.RRFK
	}
	if opts.KeywordWeight == 0 && opts.VectorWeight == 0 {
		opts.KeywordWeight = d.KeywordWeight
		opts.VectorWeight = d.VectorWeight
	}
	if !opts.Debug {
		opts.Debug = d.PersistIntermediateHits
	}
	return opts
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "the": true, "to": true,
	"was": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "with": true,
}

// isWeakQuery reports whether a query carries no searchable signal: empty,
// or nothing beyond stopwords and single characters.
func isWeakQuery(query string) bool {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, f := range fields {
		if len(f) > 1 && !stopwords[f] {
			return false
		}
	}
	return true
}

func excerpt(text string) string {
	if len(text) <= excerptMaxChars {
		return text
	}
	end := excerptMaxChars
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if idx := strings.LastIndex(cut, " "); idx > excerptMaxChars/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}

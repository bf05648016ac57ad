package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/core"
	"github.com/lexora-ai/rag-core/internal/embedding"
	"github.com/lexora-ai/rag-core/internal/gate"
	"github.com/lexora-ai/rag-core/internal/observability"
	"github.com/lexora-ai/rag-core/internal/storage"
	"github.com/lexora-ai/rag-core/internal/vectorstore"
)

// Request describes one file to ingest into a knowledge base.
type Request struct {
	KB        *storage.KnowledgeBase
	FileName  string
	SourceURI string
	Content   []byte

	// Force re-ingests even when the (kb, sha256) pair already succeeded.
	Force bool
	// DryRun parses, segments and embeds but persists nothing.
	DryRun bool
}

// Report is the outcome of one ingest run.
type Report struct {
	FileID     uuid.UUID            `json:"file_id"`
	DocumentID uuid.UUID            `json:"document_id,omitempty"`
	KBID       uuid.UUID            `json:"kb_id"`
	SHA256     string               `json:"sha256"`
	Status     storage.IngestStatus `json:"status"`
	Skipped    bool                 `json:"skipped"`
	Pages      int                  `json:"pages"`
	NodeCount  int                  `json:"node_count"`
	Gate       gate.Report          `json:"gate"`
	Timings    map[string]int64     `json:"timings_ms"`
	Error      string               `json:"error,omitempty"`
}

// Pipeline runs parse, segment, embed and persist for one file at a time.
// Re-running the same content against the same knowledge base is a no-op.
type Pipeline struct {
	store      *storage.Store
	vectors    vectorstore.Store
	embeddings *embedding.Registry
	segmenter  *Segmenter
	parser     *Parser
	batchSize  int
	logger     *observability.Logger
}

// NewPipeline creates an ingest pipeline.
func NewPipeline(store *storage.Store, vectors vectorstore.Store, embeddings *embedding.Registry, cfg config.IngestionConfig, logger *observability.Logger) *Pipeline {
	batch := cfg.EmbeddingBatchSize
	if batch <= 0 {
		batch = 64
	}
	return &Pipeline{
		store:      store,
		vectors:    vectors,
		embeddings: embeddings,
		segmenter: NewSegmenter(SegmenterConfig{
			SentenceWindow: cfg.SentenceWindow,
			MinNodeChars:   cfg.MinNodeChars,
		}),
		parser:    NewParser(),
		batchSize: batch,
		logger:    logger,
	}
}

// Run ingests one file. On any persistence failure the file's nodes, vector
// mappings and vectors are reaped so no partial corpus remains visible.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	if req.KB == nil {
		return nil, core.E(core.KindBadRequest, "knowledge base is required")
	}
	if len(req.Content) == 0 {
		return nil, core.E(core.KindBadRequest, "file content is empty")
	}

	sum := sha256.Sum256(req.Content)
	sha := hex.EncodeToString(sum[:])
	log := p.logger.WithKB(req.KB.ID).WithStage("ingest")

	report := &Report{
		KBID:    req.KB.ID,
		SHA256:  sha,
		Timings: make(map[string]int64),
	}

	existing, err := p.store.Files.GetBySHA256(ctx, req.KB.ID, sha)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup file by sha256: %w", err)
	}
	if existing != nil && existing.IngestStatus == storage.IngestStatusSuccess && !req.Force {
		log.Info().Stringer("file_id", existing.ID).Str("sha256", sha).Msg("file already ingested, skipping")
		report.FileID = existing.ID
		report.Status = existing.IngestStatus
		report.Skipped = true
		report.Pages = existing.Pages
		report.NodeCount = existing.NodeCount
		report.Gate = gate.Aggregate("ingest", []gate.Check{
			{Name: "already_ingested", Status: gate.CheckPass, Detail: "content unchanged"},
		})
		return report, nil
	}

	provider, err := p.embeddings.Resolve(req.KB.EmbedProvider, req.KB.EmbedModel, req.KB.EmbedDim)
	if err != nil {
		return nil, err
	}
	if provider.Dimension() != req.KB.EmbedDim {
		return nil, core.Ef(core.KindBadRequest,
			"embedding dimension mismatch: knowledge base pins %d, provider %s/%s produces %d",
			req.KB.EmbedDim, req.KB.EmbedProvider, provider.Model(), provider.Dimension())
	}

	start := time.Now()
	doc, err := p.parser.Parse(string(req.Content))
	if err != nil {
		return nil, core.Wrap(core.KindPipeline, "parse file", err)
	}
	report.Timings["parse"] = time.Since(start).Milliseconds()
	report.Pages = len(doc.Pages)

	start = time.Now()
	segments := p.segmenter.Segment(doc)
	report.Timings["segment"] = time.Since(start).Milliseconds()
	report.NodeCount = len(segments)

	start = time.Now()
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	vectors, err := embedding.EmbedBatch(ctx, provider, texts, p.batchSize)
	if err != nil {
		return nil, core.Wrap(core.KindExternal, "embed segments", err)
	}
	report.Timings["embed"] = time.Since(start).Milliseconds()

	report.Gate = p.runChecks(segments, len(vectors))

	if req.DryRun {
		report.Status = storage.IngestStatusSuccess
		if report.Gate.Status == gate.StatusFail {
			report.Status = storage.IngestStatusFailed
		}
		log.Info().Int("nodes", len(segments)).Int("pages", report.Pages).Msg("dry run complete")
		return report, nil
	}

	if report.Gate.Status == gate.StatusFail {
		report.Status = storage.IngestStatusFailed
		report.Error = fmt.Sprintf("gate checks failed: %v", report.Gate.Reasons)
		return report, nil
	}

	// Reuse the file row on forced or failed re-ingest; otherwise create one.
	file := existing
	if file == nil {
		file = &storage.KnowledgeFile{
			KBID:         req.KB.ID,
			FileName:     req.FileName,
			SourceURI:    req.SourceURI,
			SHA256:       sha,
			IngestStatus: storage.IngestStatusPending,
		}
		if err := p.store.Files.Create(ctx, file); err != nil {
			return nil, fmt.Errorf("create file: %w", err)
		}
	} else if err := p.reap(ctx, req.KB, file.ID); err != nil {
		return nil, fmt.Errorf("clear previous ingest: %w", err)
	}
	report.FileID = file.ID

	nodes, entries, err := p.buildNodes(req.KB, file, segments, vectors)
	if err != nil {
		return nil, err
	}

	// Persist document and nodes transactionally, then write vectors and
	// their mappings. Mapping rows land only after the vector store accepted
	// the batch.
	start = time.Now()
	var docID uuid.UUID
	err = p.store.WithTx(ctx, func(repos *storage.Repositories) error {
		document := &storage.Document{
			KBID:          req.KB.ID,
			FileID:        file.ID,
			PageCount:     len(doc.Pages),
			ParserName:    ParserName,
			ParserVersion: strPtr(ParserVersion),
		}
		if doc.Title != "" {
			document.Title = &doc.Title
		}
		if len(doc.Metadata) > 0 {
			if meta, merr := json.Marshal(doc.Metadata); merr == nil {
				document.Metadata = meta
			}
		}
		if err := repos.Documents.Create(ctx, document); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		docID = document.ID

		for i := range nodes {
			nodes[i].DocumentID = document.ID
			if err := repos.Nodes.Create(ctx, &nodes[i]); err != nil {
				return fmt.Errorf("create node %d: %w", nodes[i].NodeIndex, err)
			}
		}
		return nil
	})
	report.Timings["db"] = time.Since(start).Milliseconds()
	if err != nil {
		return p.fail(ctx, req.KB, file, report, err)
	}
	report.DocumentID = docID

	start = time.Now()
	for i := range entries {
		entries[i].Payload.DocumentID = docID
	}
	if err := p.vectors.Upsert(ctx, req.KB.VectorCollection, entries); err != nil {
		return p.fail(ctx, req.KB, file, report, fmt.Errorf("upsert vectors: %w", err))
	}
	report.Timings["vector"] = time.Since(start).Milliseconds()

	for i := range nodes {
		m := &storage.NodeVectorMap{
			NodeID:   nodes[i].ID,
			VectorID: entries[i].VectorID,
			KBID:     req.KB.ID,
			FileID:   file.ID,
		}
		if err := p.store.VectorMaps.Upsert(ctx, m); err != nil {
			return p.fail(ctx, req.KB, file, report, fmt.Errorf("map node %s to vector: %w", nodes[i].ID, err))
		}
	}

	// Final consistency check over what actually landed.
	mapCount, err := p.store.VectorMaps.CountByFile(ctx, file.ID)
	if err != nil {
		return p.fail(ctx, req.KB, file, report, err)
	}
	if mapCount != len(nodes) {
		return p.fail(ctx, req.KB, file, report,
			core.Ef(core.KindPipeline, "vector map count %d does not match node count %d", mapCount, len(nodes)))
	}

	timings, _ := json.Marshal(report.Timings)
	file.IngestStatus = storage.IngestStatusSuccess
	file.Pages = report.Pages
	file.NodeCount = len(nodes)
	file.Timings = timings
	file.ErrorMessage = nil
	if err := p.store.Files.UpdateResult(ctx, file); err != nil {
		return nil, fmt.Errorf("finalize file: %w", err)
	}

	report.Status = storage.IngestStatusSuccess
	log.Info().
		Stringer("file_id", file.ID).
		Int("pages", report.Pages).
		Int("nodes", len(nodes)).
		Msg("file ingested")
	return report, nil
}

// buildNodes materializes storage nodes and vector entries from segments.
func (p *Pipeline) buildNodes(kb *storage.KnowledgeBase, file *storage.KnowledgeFile, segments []Segment, vectors [][]float32) ([]storage.Node, []vectorstore.Entry, error) {
	if len(vectors) != len(segments) {
		return nil, nil, core.Ef(core.KindPipeline,
			"embedding count %d does not match segment count %d", len(vectors), len(segments))
	}

	nodes := make([]storage.Node, len(segments))
	entries := make([]vectorstore.Entry, len(segments))
	for i, seg := range segments {
		start, end := seg.StartOffset, seg.EndOffset
		nodes[i] = storage.Node{
			ID:          uuid.New(),
			KBID:        kb.ID,
			FileID:      file.ID,
			NodeIndex:   seg.Index,
			Text:        seg.Text,
			Page:        seg.Page,
			ArticleID:   seg.ArticleID,
			SectionPath: seg.SectionPath,
			StartOffset: &start,
			EndOffset:   &end,
		}

		payload := vectorstore.Payload{
			NodeID: nodes[i].ID,
			KBID:   kb.ID,
			FileID: file.ID,
			Page:   seg.Page,
		}
		if seg.ArticleID != nil {
			payload.ArticleID = *seg.ArticleID
		}
		if seg.SectionPath != nil {
			payload.SectionPath = *seg.SectionPath
		}
		entries[i] = vectorstore.Entry{
			VectorID: uuid.New(),
			Vector:   vectors[i],
			Payload:  payload,
		}
	}
	return nodes, entries, nil
}

// runChecks builds the ingest gate report for a segmented file.
func (p *Pipeline) runChecks(segments []Segment, vectorCount int) gate.Report {
	checks := make([]gate.Check, 0, 4)

	if len(segments) == 0 {
		checks = append(checks, gate.Check{
			Name: "has_nodes", Status: gate.CheckFail, Detail: "no segments produced",
		})
	} else {
		checks = append(checks, gate.Check{Name: "has_nodes", Status: gate.CheckPass})
	}

	minLength := gate.Check{Name: "min_text_length", Status: gate.CheckPass}
	for _, seg := range segments {
		if len(strings.TrimSpace(seg.Text)) < p.segmenter.minChars {
			minLength.Status = gate.CheckFail
			minLength.Detail = fmt.Sprintf("segment %d shorter than %d chars", seg.Index, p.segmenter.minChars)
			break
		}
	}
	checks = append(checks, minLength)

	contiguous := gate.Check{Name: "node_index_contiguous", Status: gate.CheckPass}
	for i, seg := range segments {
		if seg.Index != i {
			contiguous.Status = gate.CheckFail
			contiguous.Detail = fmt.Sprintf("index %d at position %d", seg.Index, i)
			break
		}
	}
	checks = append(checks, contiguous)

	if vectorCount == len(segments) {
		checks = append(checks, gate.Check{Name: "vector_count_matches", Status: gate.CheckPass})
	} else {
		checks = append(checks, gate.Check{
			Name:   "vector_count_matches",
			Status: gate.CheckFail,
			Detail: fmt.Sprintf("%d vectors for %d segments", vectorCount, len(segments)),
		})
	}

	return gate.Aggregate("ingest", checks)
}

// fail marks the file failed and reaps any partial writes.
func (p *Pipeline) fail(ctx context.Context, kb *storage.KnowledgeBase, file *storage.KnowledgeFile, report *Report, cause error) (*Report, error) {
	p.logger.WithKB(kb.ID).Error().
		Stringer("file_id", file.ID).
		Err(cause).
		Msg("ingest failed, rolling back file")

	if err := p.reap(ctx, kb, file.ID); err != nil {
		p.logger.Error().Stringer("file_id", file.ID).Err(err).Msg("rollback incomplete")
	}

	msg := cause.Error()
	file.IngestStatus = storage.IngestStatusFailed
	file.NodeCount = 0
	file.ErrorMessage = &msg
	if err := p.store.Files.UpdateResult(ctx, file); err != nil {
		p.logger.Error().Stringer("file_id", file.ID).Err(err).Msg("could not mark file failed")
	}

	report.FileID = file.ID
	report.Status = storage.IngestStatusFailed
	report.Error = msg
	return report, cause
}

// reap removes the document, nodes, mappings and vectors of a file.
func (p *Pipeline) reap(ctx context.Context, kb *storage.KnowledgeBase, fileID uuid.UUID) error {
	if err := p.store.VectorMaps.DeleteByFile(ctx, fileID); err != nil {
		return err
	}
	if err := p.store.Nodes.DeleteByFile(ctx, fileID); err != nil {
		return err
	}
	if err := p.store.Documents.DeleteByFile(ctx, fileID); err != nil {
		return err
	}
	return p.vectors.DeleteByFile(ctx, kb.VectorCollection, fileID)
}

func strPtr(s string) *string { return &s }

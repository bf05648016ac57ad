// Package storage provides database models and repositories for the RAG core.
package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IngestStatus represents the lifecycle state of a knowledge file.
type IngestStatus string

const (
	IngestStatusPending IngestStatus = "pending"
	IngestStatusSuccess IngestStatus = "success"
	IngestStatusFailed  IngestStatus = "failed"
)

// MessageStatus is the single observable truth of a query's outcome.
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSuccess MessageStatus = "success"
	MessageStatusFailed  MessageStatus = "failed"
	MessageStatusBlocked MessageStatus = "blocked"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// HitSource marks which retrieval stage produced a persisted hit.
type HitSource string

const (
	HitSourceKeyword  HitSource = "keyword"
	HitSourceVector   HitSource = "vector"
	HitSourceFused    HitSource = "fused"
	HitSourceReranked HitSource = "reranked"
)

// GenerationStatus represents the outcome of answer generation.
type GenerationStatus string

const (
	GenerationStatusSuccess GenerationStatus = "success"
	GenerationStatusPartial GenerationStatus = "partial"
	GenerationStatusFailed  GenerationStatus = "failed"
)

// EvaluationStatus represents the evaluator verdict.
type EvaluationStatus string

const (
	EvaluationStatusPass    EvaluationStatus = "pass"
	EvaluationStatusPartial EvaluationStatus = "partial"
	EvaluationStatusFail    EvaluationStatus = "fail"
	EvaluationStatusSkipped EvaluationStatus = "skipped"
)

// KnowledgeBase is a named corpus with a pinned embedding configuration and
// its own vector collection. Immutable once a file references it.
type KnowledgeBase struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	Name             string          `json:"name" db:"name"`
	VectorCollection string          `json:"vector_collection" db:"vector_collection"`
	EmbedProvider    string          `json:"embed_provider" db:"embed_provider"`
	EmbedModel       string          `json:"embed_model" db:"embed_model"`
	EmbedDim         int             `json:"embed_dim" db:"embed_dim"`
	ChunkingConfig   json.RawMessage `json:"chunking_config" db:"chunking_config"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// KnowledgeFile is one ingested source file. The (kb_id, sha256) pair is the
// idempotency key.
type KnowledgeFile struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	KBID         uuid.UUID       `json:"kb_id" db:"kb_id"`
	FileName     string          `json:"file_name" db:"file_name"`
	SourceURI    string          `json:"source_uri" db:"source_uri"`
	SHA256       string          `json:"sha256" db:"sha256"`
	IngestStatus IngestStatus    `json:"ingest_status" db:"ingest_status"`
	Pages        int             `json:"pages" db:"pages"`
	NodeCount    int             `json:"node_count" db:"node_count"`
	Timings      json.RawMessage `json:"timings" db:"timings"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Document is the logical document derived from a file.
type Document struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	KBID          uuid.UUID       `json:"kb_id" db:"kb_id"`
	FileID        uuid.UUID       `json:"file_id" db:"file_id"`
	Title         *string         `json:"title,omitempty" db:"title"`
	PageCount     int             `json:"page_count" db:"page_count"`
	ParserName    string          `json:"parser_name" db:"parser_name"`
	ParserVersion *string         `json:"parser_version,omitempty" db:"parser_version"`
	Metadata      json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Node is the smallest addressable evidence unit. Nodes of a file form an
// ordered sequence: node_index covers 0..N-1 without gaps.
type Node struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	KBID        uuid.UUID       `json:"kb_id" db:"kb_id"`
	FileID      uuid.UUID       `json:"file_id" db:"file_id"`
	DocumentID  uuid.UUID       `json:"document_id" db:"document_id"`
	NodeIndex   int             `json:"node_index" db:"node_index"`
	Text        string          `json:"text" db:"text"`
	Page        int             `json:"page" db:"page"`
	ArticleID   *string         `json:"article_id,omitempty" db:"article_id"`
	SectionPath *string         `json:"section_path,omitempty" db:"section_path"`
	StartOffset *int            `json:"start_offset,omitempty" db:"start_offset"`
	EndOffset   *int            `json:"end_offset,omitempty" db:"end_offset"`
	Metadata    json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// NodeVectorMap links a node to its live vector. Exactly one per node per
// embedding configuration.
type NodeVectorMap struct {
	NodeID    uuid.UUID `json:"node_id" db:"node_id"`
	VectorID  uuid.UUID `json:"vector_id" db:"vector_id"`
	KBID      uuid.UUID `json:"kb_id" db:"kb_id"`
	FileID    uuid.UUID `json:"file_id" db:"file_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Conversation groups a sequence of messages against one knowledge base.
type Conversation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	KBID      uuid.UUID `json:"kb_id" db:"kb_id"`
	Title     *string   `json:"title,omitempty" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Message is one conversation turn.
type Message struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	ConversationID uuid.UUID     `json:"conversation_id" db:"conversation_id"`
	Role           MessageRole   `json:"role" db:"role"`
	Content        string        `json:"content" db:"content"`
	Status         MessageStatus `json:"status" db:"status"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// RetrievalRecord captures the full configuration and timing of one hybrid
// retrieval run. One per message.
type RetrievalRecord struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	MessageID        uuid.UUID       `json:"message_id" db:"message_id"`
	KBID             uuid.UUID       `json:"kb_id" db:"kb_id"`
	QueryText        string          `json:"query_text" db:"query_text"`
	KeywordTopK      int             `json:"keyword_top_k" db:"keyword_top_k"`
	VectorTopK       int             `json:"vector_top_k" db:"vector_top_k"`
	FusionTopK       int             `json:"fusion_top_k" db:"fusion_top_k"`
	RerankTopK       int             `json:"rerank_top_k" db:"rerank_top_k"`
	FusionStrategy   string          `json:"fusion_strategy" db:"fusion_strategy"`
	RerankStrategy   string          `json:"rerank_strategy" db:"rerank_strategy"`
	ProviderSnapshot json.RawMessage `json:"provider_snapshot" db:"provider_snapshot"`
	TimingMS         int64           `json:"timing_ms" db:"timing_ms"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// RetrievalHit is one persisted retrieval result with provenance. node_id is
// unique per (record, source).
type RetrievalHit struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	RetrievalRecordID uuid.UUID       `json:"retrieval_record_id" db:"retrieval_record_id"`
	NodeID            uuid.UUID       `json:"node_id" db:"node_id"`
	Source            HitSource       `json:"source" db:"source"`
	Rank              int             `json:"rank" db:"rank"`
	Score             float64         `json:"score" db:"score"`
	ScoreDetails      json.RawMessage `json:"score_details" db:"score_details"`
	Excerpt           string          `json:"excerpt" db:"excerpt"`
	Page              int             `json:"page" db:"page"`
	StartOffset       *int            `json:"start_offset,omitempty" db:"start_offset"`
	EndOffset         *int            `json:"end_offset,omitempty" db:"end_offset"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// Citation points from an answer back into the retrieval hits of the same
// message. node_id must belong to those hits.
type Citation struct {
	NodeID      uuid.UUID `json:"node_id"`
	Rank        *int      `json:"rank,omitempty"`
	Quote       *string   `json:"quote,omitempty"`
	Page        *int      `json:"page,omitempty"`
	ArticleID   *string   `json:"article_id,omitempty"`
	SectionPath *string   `json:"section_path,omitempty"`
	Locator     *string   `json:"locator,omitempty"`
}

// GenerationRecord captures one generation attempt: exact prompt snapshot,
// raw and structured output, and aligned citations. One per message.
type GenerationRecord struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	MessageID         uuid.UUID        `json:"message_id" db:"message_id"`
	RetrievalRecordID uuid.UUID        `json:"retrieval_record_id" db:"retrieval_record_id"`
	PromptName        string           `json:"prompt_name" db:"prompt_name"`
	PromptVersion     string           `json:"prompt_version" db:"prompt_version"`
	ModelProvider     string           `json:"model_provider" db:"model_provider"`
	ModelName         string           `json:"model_name" db:"model_name"`
	MessagesSnapshot  json.RawMessage  `json:"messages_snapshot" db:"messages_snapshot"`
	OutputRaw         string           `json:"output_raw" db:"output_raw"`
	OutputStructured  json.RawMessage  `json:"output_structured,omitempty" db:"output_structured"`
	Citations         json.RawMessage  `json:"citations" db:"citations"`
	Status            GenerationStatus `json:"status" db:"status"`
	ErrorMessage      *string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
}

// EvaluationRecord captures the deterministic verdict over one message's
// evidence chain, together with the rule version and config snapshot that
// make the verdict replayable.
type EvaluationRecord struct {
	ID                 uuid.UUID        `json:"id" db:"id"`
	MessageID          uuid.UUID        `json:"message_id" db:"message_id"`
	RetrievalRecordID  *uuid.UUID       `json:"retrieval_record_id,omitempty" db:"retrieval_record_id"`
	GenerationRecordID *uuid.UUID       `json:"generation_record_id,omitempty" db:"generation_record_id"`
	Status             EvaluationStatus `json:"status" db:"status"`
	RuleVersion        string           `json:"rule_version" db:"rule_version"`
	Config             json.RawMessage  `json:"config" db:"config"`
	Checks             json.RawMessage  `json:"checks" db:"checks"`
	Scores             json.RawMessage  `json:"scores" db:"scores"`
	Meta               json.RawMessage  `json:"meta,omitempty" db:"meta"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
}

// KeywordMatch is a full-text search result leaving the document store.
// Score is normalized to higher-is-better; RawScore keeps the store's
// native BM25/rank value.
type KeywordMatch struct {
	NodeID     uuid.UUID
	FileID     uuid.UUID
	DocumentID uuid.UUID
	Score      float64
	RawScore   float64
	Normalizer string
	Text       string
	Page       int
}

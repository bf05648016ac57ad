package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// DB represents a database connection interface. Both *sql.DB and *sql.Tx
// satisfy it, so repositories work unchanged inside a transaction.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func orEmptyArray(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`[]`)
	}
	return raw
}

// KnowledgeBaseRepository handles knowledge base CRUD operations.
type KnowledgeBaseRepository struct {
	db DB
}

// NewKnowledgeBaseRepository creates a new knowledge base repository.
func NewKnowledgeBaseRepository(db DB) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: db}
}

// Create creates a new knowledge base.
func (r *KnowledgeBaseRepository) Create(ctx context.Context, kb *KnowledgeBase) error {
	if kb.ID == uuid.Nil {
		kb.ID = uuid.New()
	}
	kb.CreatedAt = time.Now()
	kb.UpdatedAt = kb.CreatedAt
	kb.ChunkingConfig = orEmptyObject(kb.ChunkingConfig)

	query := `
		INSERT INTO knowledge_bases (id, name, vector_collection, embed_provider,
			embed_model, embed_dim, chunking_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		kb.ID, kb.Name, kb.VectorCollection, kb.EmbedProvider,
		kb.EmbedModel, kb.EmbedDim, kb.ChunkingConfig, kb.CreatedAt, kb.UpdatedAt,
	)
	return err
}

const kbColumns = `id, name, vector_collection, embed_provider, embed_model,
	embed_dim, chunking_config, created_at, updated_at`

func scanKB(row interface{ Scan(...interface{}) error }) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{}
	err := row.Scan(
		&kb.ID, &kb.Name, &kb.VectorCollection, &kb.EmbedProvider, &kb.EmbedModel,
		&kb.EmbedDim, &kb.ChunkingConfig, &kb.CreatedAt, &kb.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return kb, err
}

// GetByID retrieves a knowledge base by ID.
func (r *KnowledgeBaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*KnowledgeBase, error) {
	return scanKB(r.db.QueryRowContext(ctx,
		`SELECT `+kbColumns+` FROM knowledge_bases WHERE id = $1`, id))
}

// GetByName retrieves a knowledge base by name.
func (r *KnowledgeBaseRepository) GetByName(ctx context.Context, name string) (*KnowledgeBase, error) {
	return scanKB(r.db.QueryRowContext(ctx,
		`SELECT `+kbColumns+` FROM knowledge_bases WHERE name = $1`, name))
}

// GetByRef resolves either a UUID or a name to a knowledge base.
func (r *KnowledgeBaseRepository) GetByRef(ctx context.Context, ref string) (*KnowledgeBase, error) {
	if id, err := uuid.Parse(ref); err == nil {
		kb, err := r.GetByID(ctx, id)
		if !errors.Is(err, ErrNotFound) {
			return kb, err
		}
	}
	return r.GetByName(ctx, ref)
}

// List returns all knowledge bases ordered by name.
func (r *KnowledgeBaseRepository) List(ctx context.Context) ([]*KnowledgeBase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+kbColumns+` FROM knowledge_bases ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kbs []*KnowledgeBase
	for rows.Next() {
		kb := &KnowledgeBase{}
		if err := rows.Scan(
			&kb.ID, &kb.Name, &kb.VectorCollection, &kb.EmbedProvider, &kb.EmbedModel,
			&kb.EmbedDim, &kb.ChunkingConfig, &kb.CreatedAt, &kb.UpdatedAt,
		); err != nil {
			return nil, err
		}
		kbs = append(kbs, kb)
	}
	return kbs, rows.Err()
}

// FileRepository handles knowledge file CRUD operations.
type FileRepository struct {
	db DB
}

// NewFileRepository creates a new file repository.
func NewFileRepository(db DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, kb_id, file_name, source_uri, sha256, ingest_status,
	pages, node_count, timings, error_message, created_at, updated_at`

// Create creates a new knowledge file.
func (r *FileRepository) Create(ctx context.Context, f *KnowledgeFile) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	f.Timings = orEmptyObject(f.Timings)
	if f.IngestStatus == "" {
		f.IngestStatus = IngestStatusPending
	}

	query := `
		INSERT INTO knowledge_files (id, kb_id, file_name, source_uri, sha256,
			ingest_status, pages, node_count, timings, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.KBID, f.FileName, f.SourceURI, f.SHA256,
		f.IngestStatus, f.Pages, f.NodeCount, f.Timings, f.ErrorMessage,
		f.CreatedAt, f.UpdatedAt,
	)
	return err
}

func scanFile(row interface{ Scan(...interface{}) error }) (*KnowledgeFile, error) {
	f := &KnowledgeFile{}
	err := row.Scan(
		&f.ID, &f.KBID, &f.FileName, &f.SourceURI, &f.SHA256, &f.IngestStatus,
		&f.Pages, &f.NodeCount, &f.Timings, &f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// GetByID retrieves a file by ID.
func (r *FileRepository) GetByID(ctx context.Context, id uuid.UUID) (*KnowledgeFile, error) {
	return scanFile(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM knowledge_files WHERE id = $1`, id))
}

// GetBySHA256 retrieves a file by its idempotency key within a KB.
func (r *FileRepository) GetBySHA256(ctx context.Context, kbID uuid.UUID, sha256 string) (*KnowledgeFile, error) {
	return scanFile(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM knowledge_files WHERE kb_id = $1 AND sha256 = $2`,
		kbID, sha256))
}

// ListByKB lists all files of a knowledge base, newest first.
func (r *FileRepository) ListByKB(ctx context.Context, kbID uuid.UUID) ([]*KnowledgeFile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM knowledge_files WHERE kb_id = $1 ORDER BY created_at DESC`,
		kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*KnowledgeFile
	for rows.Next() {
		f := &KnowledgeFile{}
		if err := rows.Scan(
			&f.ID, &f.KBID, &f.FileName, &f.SourceURI, &f.SHA256, &f.IngestStatus,
			&f.Pages, &f.NodeCount, &f.Timings, &f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// UpdateResult records the outcome of an ingest run on the file row.
func (r *FileRepository) UpdateResult(ctx context.Context, f *KnowledgeFile) error {
	f.UpdatedAt = time.Now()
	f.Timings = orEmptyObject(f.Timings)

	query := `
		UPDATE knowledge_files SET
			ingest_status = $1, pages = $2, node_count = $3, timings = $4,
			error_message = $5, updated_at = $6
		WHERE id = $7
	`
	result, err := r.db.ExecContext(ctx, query,
		f.IngestStatus, f.Pages, f.NodeCount, f.Timings,
		f.ErrorMessage, f.UpdatedAt, f.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DocumentRepository handles document CRUD operations.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create creates a new document.
func (r *DocumentRepository) Create(ctx context.Context, d *Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	d.Metadata = orEmptyObject(d.Metadata)

	query := `
		INSERT INTO documents (id, kb_id, file_id, title, page_count,
			parser_name, parser_version, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.KBID, d.FileID, d.Title, d.PageCount,
		d.ParserName, d.ParserVersion, d.Metadata, d.CreatedAt,
	)
	return err
}

// GetByID retrieves a document by ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `
		SELECT id, kb_id, file_id, title, page_count, parser_name, parser_version,
			metadata, created_at
		FROM documents WHERE id = $1
	`
	d := &Document{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.KBID, &d.FileID, &d.Title, &d.PageCount,
		&d.ParserName, &d.ParserVersion, &d.Metadata, &d.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// DeleteByFile removes all documents of a file (rollback and re-ingest path).
func (r *DocumentRepository) DeleteByFile(ctx context.Context, fileID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE file_id = $1`, fileID)
	return err
}

// NodeRepository handles node CRUD and full-text search.
type NodeRepository struct {
	db     DB
	driver string
}

// NewNodeRepository creates a new node repository.
func NewNodeRepository(db DB, driver string) *NodeRepository {
	return &NodeRepository{db: db, driver: driver}
}

const nodeColumns = `id, kb_id, file_id, document_id, node_index, text, page,
	article_id, section_path, start_offset, end_offset, metadata, created_at`

// Create creates a new node.
func (r *NodeRepository) Create(ctx context.Context, n *Node) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.CreatedAt = time.Now()
	n.Metadata = orEmptyObject(n.Metadata)

	query := `
		INSERT INTO nodes (id, kb_id, file_id, document_id, node_index, text, page,
			article_id, section_path, start_offset, end_offset, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.KBID, n.FileID, n.DocumentID, n.NodeIndex, n.Text, n.Page,
		n.ArticleID, n.SectionPath, n.StartOffset, n.EndOffset, n.Metadata, n.CreatedAt,
	)
	return err
}

func scanNode(row interface{ Scan(...interface{}) error }) (*Node, error) {
	n := &Node{}
	err := row.Scan(
		&n.ID, &n.KBID, &n.FileID, &n.DocumentID, &n.NodeIndex, &n.Text, &n.Page,
		&n.ArticleID, &n.SectionPath, &n.StartOffset, &n.EndOffset, &n.Metadata, &n.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// GetByID retrieves a node by ID.
func (r *NodeRepository) GetByID(ctx context.Context, id uuid.UUID) (*Node, error) {
	return scanNode(r.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id))
}

// GetByIDs retrieves nodes by ID, returned keyed by ID.
func (r *NodeRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Node, error) {
	out := make(map[uuid.UUID]*Node, len(ids))
	for _, id := range ids {
		n, err := r.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, nil
}

// ListByFile lists all nodes of a file in reading order.
func (r *NodeRepository) ListByFile(ctx context.Context, fileID uuid.UUID) ([]*Node, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE file_id = $1 ORDER BY node_index`,
		fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		n := &Node{}
		if err := rows.Scan(
			&n.ID, &n.KBID, &n.FileID, &n.DocumentID, &n.NodeIndex, &n.Text, &n.Page,
			&n.ArticleID, &n.SectionPath, &n.StartOffset, &n.EndOffset, &n.Metadata, &n.CreatedAt,
		); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// CountByFile counts nodes belonging to a file.
func (r *NodeRepository) CountByFile(ctx context.Context, fileID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE file_id = $1`, fileID).Scan(&count)
	return count, err
}

// DeleteByFile removes all nodes of a file (rollback path).
func (r *NodeRepository) DeleteByFile(ctx context.Context, fileID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE file_id = $1`, fileID)
	return err
}

// VectorMapRepository handles node-to-vector mappings.
type VectorMapRepository struct {
	db DB
}

// NewVectorMapRepository creates a new vector map repository.
func NewVectorMapRepository(db DB) *VectorMapRepository {
	return &VectorMapRepository{db: db}
}

// Upsert writes the live vector mapping for a node.
func (r *VectorMapRepository) Upsert(ctx context.Context, m *NodeVectorMap) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO node_vector_map (node_id, vector_id, kb_id, file_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (node_id) DO UPDATE SET vector_id = EXCLUDED.vector_id
	`
	_, err := r.db.ExecContext(ctx, query,
		m.NodeID, m.VectorID, m.KBID, m.FileID, m.CreatedAt,
	)
	return err
}

// CountByFile counts mappings for a file.
func (r *VectorMapRepository) CountByFile(ctx context.Context, fileID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM node_vector_map WHERE file_id = $1`, fileID).Scan(&count)
	return count, err
}

// GetByNode returns the mapping of one node.
func (r *VectorMapRepository) GetByNode(ctx context.Context, nodeID uuid.UUID) (*NodeVectorMap, error) {
	m := &NodeVectorMap{}
	err := r.db.QueryRowContext(ctx,
		`SELECT node_id, vector_id, kb_id, file_id, created_at
		 FROM node_vector_map WHERE node_id = $1`, nodeID).Scan(
		&m.NodeID, &m.VectorID, &m.KBID, &m.FileID, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// DeleteByFile removes all mappings of a file (rollback path).
func (r *VectorMapRepository) DeleteByFile(ctx context.Context, fileID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM node_vector_map WHERE file_id = $1`, fileID)
	return err
}

// ConversationRepository handles conversation CRUD operations.
type ConversationRepository struct {
	db DB
}

// NewConversationRepository creates a new conversation repository.
func NewConversationRepository(db DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create creates a new conversation.
func (r *ConversationRepository) Create(ctx context.Context, c *Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	query := `
		INSERT INTO conversations (id, kb_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.KBID, c.Title, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetByID retrieves a conversation by ID.
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	c := &Conversation{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, kb_id, title, created_at, updated_at FROM conversations WHERE id = $1`,
		id).Scan(&c.ID, &c.KBID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// MessageRepository handles message CRUD operations.
type MessageRepository struct {
	db DB
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create creates a new message.
func (r *MessageRepository) Create(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	if m.Status == "" {
		m.Status = MessageStatusPending
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, content, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.ConversationID, m.Role, m.Content, m.Status, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

// GetByID retrieves a message by ID.
func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	m := &Message{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, status, created_at, updated_at
		 FROM messages WHERE id = $1`, id).Scan(
		&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Status, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// Finalize sets the terminal status and content of a message.
func (r *MessageRepository) Finalize(ctx context.Context, id uuid.UUID, status MessageStatus, content string) error {
	query := `
		UPDATE messages SET status = $1, content = $2, updated_at = $3 WHERE id = $4
	`
	result, err := r.db.ExecContext(ctx, query, status, content, time.Now(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RetrievalRepository handles retrieval records and hits.
type RetrievalRepository struct {
	db DB
}

// NewRetrievalRepository creates a new retrieval repository.
func NewRetrievalRepository(db DB) *RetrievalRepository {
	return &RetrievalRepository{db: db}
}

const retrievalColumns = `id, message_id, kb_id, query_text, keyword_top_k,
	vector_top_k, fusion_top_k, rerank_top_k, fusion_strategy, rerank_strategy,
	provider_snapshot, timing_ms, created_at`

// CreateRecord creates a retrieval record.
func (r *RetrievalRepository) CreateRecord(ctx context.Context, rec *RetrievalRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	rec.ProviderSnapshot = orEmptyObject(rec.ProviderSnapshot)

	query := `
		INSERT INTO retrieval_records (id, message_id, kb_id, query_text,
			keyword_top_k, vector_top_k, fusion_top_k, rerank_top_k,
			fusion_strategy, rerank_strategy, provider_snapshot, timing_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.MessageID, rec.KBID, rec.QueryText,
		rec.KeywordTopK, rec.VectorTopK, rec.FusionTopK, rec.RerankTopK,
		rec.FusionStrategy, rec.RerankStrategy, rec.ProviderSnapshot, rec.TimingMS, rec.CreatedAt,
	)
	return err
}

func scanRetrievalRecord(row interface{ Scan(...interface{}) error }) (*RetrievalRecord, error) {
	rec := &RetrievalRecord{}
	err := row.Scan(
		&rec.ID, &rec.MessageID, &rec.KBID, &rec.QueryText,
		&rec.KeywordTopK, &rec.VectorTopK, &rec.FusionTopK, &rec.RerankTopK,
		&rec.FusionStrategy, &rec.RerankStrategy, &rec.ProviderSnapshot, &rec.TimingMS, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetRecord retrieves a retrieval record by ID.
func (r *RetrievalRepository) GetRecord(ctx context.Context, id uuid.UUID) (*RetrievalRecord, error) {
	return scanRetrievalRecord(r.db.QueryRowContext(ctx,
		`SELECT `+retrievalColumns+` FROM retrieval_records WHERE id = $1`, id))
}

// GetRecordByMessage retrieves the retrieval record of a message.
func (r *RetrievalRepository) GetRecordByMessage(ctx context.Context, messageID uuid.UUID) (*RetrievalRecord, error) {
	return scanRetrievalRecord(r.db.QueryRowContext(ctx,
		`SELECT `+retrievalColumns+` FROM retrieval_records WHERE message_id = $1`, messageID))
}

// InsertHits persists hits for a record.
func (r *RetrievalRepository) InsertHits(ctx context.Context, hits []RetrievalHit) error {
	query := `
		INSERT INTO retrieval_hits (id, retrieval_record_id, node_id, source, rank,
			score, score_details, excerpt, page, start_offset, end_offset, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for i := range hits {
		h := &hits[i]
		if h.ID == uuid.Nil {
			h.ID = uuid.New()
		}
		if h.CreatedAt.IsZero() {
			h.CreatedAt = time.Now()
		}
		h.ScoreDetails = orEmptyObject(h.ScoreDetails)

		if _, err := r.db.ExecContext(ctx, query,
			h.ID, h.RetrievalRecordID, h.NodeID, h.Source, h.Rank,
			h.Score, h.ScoreDetails, h.Excerpt, h.Page, h.StartOffset, h.EndOffset, h.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

// ListHits lists hits of a record, optionally filtered by source, ordered by rank.
func (r *RetrievalRepository) ListHits(ctx context.Context, recordID uuid.UUID, source HitSource) ([]RetrievalHit, error) {
	query := `
		SELECT id, retrieval_record_id, node_id, source, rank, score, score_details,
			excerpt, page, start_offset, end_offset, created_at
		FROM retrieval_hits
		WHERE retrieval_record_id = $1
	`
	args := []interface{}{recordID}
	if source != "" {
		query += ` AND source = $2`
		args = append(args, source)
	}
	query += ` ORDER BY source, rank`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []RetrievalHit
	for rows.Next() {
		var h RetrievalHit
		if err := rows.Scan(
			&h.ID, &h.RetrievalRecordID, &h.NodeID, &h.Source, &h.Rank, &h.Score,
			&h.ScoreDetails, &h.Excerpt, &h.Page, &h.StartOffset, &h.EndOffset, &h.CreatedAt,
		); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// GenerationRepository handles generation records.
type GenerationRepository struct {
	db DB
}

// NewGenerationRepository creates a new generation repository.
func NewGenerationRepository(db DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// Create creates a generation record.
func (r *GenerationRepository) Create(ctx context.Context, rec *GenerationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	rec.MessagesSnapshot = orEmptyArray(rec.MessagesSnapshot)
	rec.Citations = orEmptyArray(rec.Citations)

	query := `
		INSERT INTO generation_records (id, message_id, retrieval_record_id,
			prompt_name, prompt_version, model_provider, model_name,
			messages_snapshot, output_raw, output_structured, citations,
			status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.MessageID, rec.RetrievalRecordID,
		rec.PromptName, rec.PromptVersion, rec.ModelProvider, rec.ModelName,
		rec.MessagesSnapshot, rec.OutputRaw, rec.OutputStructured, rec.Citations,
		rec.Status, rec.ErrorMessage, rec.CreatedAt,
	)
	return err
}

// GetByID retrieves a generation record by ID.
func (r *GenerationRepository) GetByID(ctx context.Context, id uuid.UUID) (*GenerationRecord, error) {
	query := `
		SELECT id, message_id, retrieval_record_id, prompt_name, prompt_version,
			model_provider, model_name, messages_snapshot, output_raw,
			output_structured, citations, status, error_message, created_at
		FROM generation_records WHERE id = $1
	`
	rec := &GenerationRecord{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.MessageID, &rec.RetrievalRecordID, &rec.PromptName, &rec.PromptVersion,
		&rec.ModelProvider, &rec.ModelName, &rec.MessagesSnapshot, &rec.OutputRaw,
		&rec.OutputStructured, &rec.Citations, &rec.Status, &rec.ErrorMessage, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// EvaluationRepository handles evaluation records.
type EvaluationRepository struct {
	db DB
}

// NewEvaluationRepository creates a new evaluation repository.
func NewEvaluationRepository(db DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// Create creates an evaluation record.
func (r *EvaluationRepository) Create(ctx context.Context, rec *EvaluationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	rec.Config = orEmptyObject(rec.Config)
	rec.Checks = orEmptyArray(rec.Checks)
	rec.Scores = orEmptyObject(rec.Scores)

	query := `
		INSERT INTO evaluation_records (id, message_id, retrieval_record_id,
			generation_record_id, status, rule_version, config, checks, scores, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.MessageID, rec.RetrievalRecordID,
		rec.GenerationRecordID, rec.Status, rec.RuleVersion,
		rec.Config, rec.Checks, rec.Scores, rec.Meta, rec.CreatedAt,
	)
	return err
}

// GetByID retrieves an evaluation record by ID.
func (r *EvaluationRepository) GetByID(ctx context.Context, id uuid.UUID) (*EvaluationRecord, error) {
	query := `
		SELECT id, message_id, retrieval_record_id, generation_record_id, status,
			rule_version, config, checks, scores, meta, created_at
		FROM evaluation_records WHERE id = $1
	`
	rec := &EvaluationRecord{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.MessageID, &rec.RetrievalRecordID, &rec.GenerationRecordID,
		&rec.Status, &rec.RuleVersion, &rec.Config, &rec.Checks, &rec.Scores,
		&rec.Meta, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Repositories bundles all repositories together.
type Repositories struct {
	KnowledgeBases *KnowledgeBaseRepository
	Files          *FileRepository
	Documents      *DocumentRepository
	Nodes          *NodeRepository
	VectorMaps     *VectorMapRepository
	Conversations  *ConversationRepository
	Messages       *MessageRepository
	Retrieval      *RetrievalRepository
	Generation     *GenerationRepository
	Evaluation     *EvaluationRepository
}

// NewRepositories creates all repositories over one connection or transaction.
func NewRepositories(db DB, driver string) *Repositories {
	return &Repositories{
		KnowledgeBases: NewKnowledgeBaseRepository(db),
		Files:          NewFileRepository(db),
		Documents:      NewDocumentRepository(db),
		Nodes:          NewNodeRepository(db, driver),
		VectorMaps:     NewVectorMapRepository(db),
		Conversations:  NewConversationRepository(db),
		Messages:       NewMessageRepository(db),
		Retrieval:      NewRetrievalRepository(db),
		Generation:     NewGenerationRepository(db),
		Evaluation:     NewEvaluationRepository(db),
	}
}

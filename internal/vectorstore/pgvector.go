package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PG is a Store backed by Postgres with the pgvector extension. Each
// collection maps to its own table with a cosine ivfflat index.
type PG struct {
	db        *sql.DB
	indexType string
	lists     int

	mu    sync.Mutex
	ready map[string]bool
}

// PGConfig holds pgvector connection settings.
type PGConfig struct {
	DSN       string
	IndexType string // ivfflat or hnsw
	Lists     int
}

// NewPG connects to Postgres and ensures the vector extension exists.
func NewPG(ctx context.Context, cfg PGConfig) (*PG, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create vector extension: %w", err)
	}

	indexType := cfg.IndexType
	if indexType == "" {
		indexType = "ivfflat"
	}
	lists := cfg.Lists
	if lists <= 0 {
		lists = 100
	}

	return &PG{
		db:        db,
		indexType: indexType,
		lists:     lists,
		ready:     make(map[string]bool),
	}, nil
}

// tableName maps a collection name to a safe table identifier.
func tableName(collection string) string {
	var b strings.Builder
	b.WriteString("vec_")
	for _, r := range collection {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (p *PG) ensureCollection(ctx context.Context, collection string, dim int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ready[collection] {
		return nil
	}

	table := tableName(collection)
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			vector_id UUID PRIMARY KEY,
			node_id UUID NOT NULL,
			kb_id UUID NOT NULL,
			file_id UUID NOT NULL,
			document_id UUID NOT NULL,
			page INTEGER NOT NULL DEFAULT 0,
			article_id TEXT,
			section_path TEXT,
			embedding VECTOR(%d) NOT NULL
		)`, table, dim)
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}

	idx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING %s (embedding vector_cosine_ops) WITH (lists = %d)`,
		table, table, p.indexType, p.lists)
	if p.indexType == "hnsw" {
		idx = fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops)`,
			table, table)
	}
	if _, err := p.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create vector index on %s: %w", collection, err)
	}

	if _, err := p.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_kb ON %s (kb_id)`, table, table)); err != nil {
		return fmt.Errorf("create kb index on %s: %w", collection, err)
	}

	p.ready[collection] = true
	return nil
}

// Upsert writes a batch of vectors inside one transaction.
func (p *PG) Upsert(ctx context.Context, collection string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	dim := len(entries[0].Vector)
	for _, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("%w: collection %s expects %d, got %d for vector %s",
				ErrDimensionMismatch, collection, dim, len(e.Vector), e.VectorID)
		}
	}

	if err := p.ensureCollection(ctx, collection, dim); err != nil {
		return err
	}

	table := tableName(collection)
	query := fmt.Sprintf(`
		INSERT INTO %s (vector_id, node_id, kb_id, file_id, document_id, page,
			article_id, section_path, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::vector)
		ON CONFLICT (vector_id) DO UPDATE SET embedding = EXCLUDED.embedding
	`, table)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}

	for _, e := range entries {
		var articleID, sectionPath *string
		if e.Payload.ArticleID != "" {
			articleID = &e.Payload.ArticleID
		}
		if e.Payload.SectionPath != "" {
			sectionPath = &e.Payload.SectionPath
		}

		if _, err := tx.ExecContext(ctx, query,
			e.VectorID, e.Payload.NodeID, e.Payload.KBID, e.Payload.FileID,
			e.Payload.DocumentID, e.Payload.Page, articleID, sectionPath,
			vectorLiteral(e.Vector),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert vector %s: %w", e.VectorID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

// Search returns up to topK nearest neighbors within the scope, best first.
func (p *PG) Search(ctx context.Context, collection string, scope Scope, vector []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	table := tableName(collection)
	query := fmt.Sprintf(`
		SELECT vector_id, node_id, kb_id, file_id, document_id, page,
			COALESCE(article_id, ''), COALESCE(section_path, ''),
			1 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE kb_id = $2
	`, table)
	args := []interface{}{vectorLiteral(vector), scope.KBID}

	if scope.FileID != nil {
		args = append(args, *scope.FileID)
		query += fmt.Sprintf(" AND file_id = $%d", len(args))
	}
	if scope.DocumentID != nil {
		args = append(args, *scope.DocumentID)
		query += fmt.Sprintf(" AND document_id = $%d", len(args))
	}

	args = append(args, topK)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search %s: %w", collection, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		h := Hit{MetricType: MetricCosine}
		if err := rows.Scan(
			&h.VectorID, &h.Payload.NodeID, &h.Payload.KBID, &h.Payload.FileID,
			&h.Payload.DocumentID, &h.Payload.Page, &h.Payload.ArticleID,
			&h.Payload.SectionPath, &h.Score,
		); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeleteByFile removes all vectors of one file. A collection that was never
// upserted has no table yet; deleting from it is a no-op, not an error.
func (p *PG) DeleteByFile(ctx context.Context, collection string, fileID uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE file_id = $1`, tableName(collection))
	if _, err := p.db.ExecContext(ctx, query, fileID); err != nil {
		if undefinedTable(err) {
			return nil
		}
		return fmt.Errorf("delete vectors of file %s: %w", fileID, err)
	}
	return nil
}

// undefinedTable reports the Postgres undefined_table error, SQLSTATE 42P01.
func undefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}

// Count returns the number of vectors in a collection.
func (p *PG) Count(ctx context.Context, collection string) (int64, error) {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tableName(collection))
	err := p.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (p *PG) Close() error { return p.db.Close() }

// vectorLiteral renders a float32 slice in pgvector text format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

var _ Store = (*PG)(nil)

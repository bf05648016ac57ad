package storage

import (
	"context"
	"fmt"
)

// sqliteSchema is the embedded DDL for the SQLite driver. The FTS5 virtual
// table shadows nodes.text through triggers so keyword search never needs a
// separate indexing step.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS knowledge_bases (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		vector_collection TEXT NOT NULL,
		embed_provider TEXT NOT NULL,
		embed_model TEXT NOT NULL,
		embed_dim INTEGER NOT NULL,
		chunking_config TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_files (
		id TEXT PRIMARY KEY,
		kb_id TEXT NOT NULL REFERENCES knowledge_bases(id),
		file_name TEXT NOT NULL,
		source_uri TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		ingest_status TEXT NOT NULL,
		pages INTEGER NOT NULL DEFAULT 0,
		node_count INTEGER NOT NULL DEFAULT 0,
		timings TEXT NOT NULL DEFAULT '{}',
		error_message TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (kb_id, sha256)
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		kb_id TEXT NOT NULL,
		file_id TEXT NOT NULL REFERENCES knowledge_files(id),
		title TEXT,
		page_count INTEGER NOT NULL DEFAULT 0,
		parser_name TEXT NOT NULL,
		parser_version TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		kb_id TEXT NOT NULL,
		file_id TEXT NOT NULL REFERENCES knowledge_files(id),
		document_id TEXT NOT NULL REFERENCES documents(id),
		node_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		page INTEGER NOT NULL DEFAULT 0,
		article_id TEXT,
		section_path TEXT,
		start_offset INTEGER,
		end_offset INTEGER,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (file_id, node_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_kb ON nodes(kb_id)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS node_fts USING fts5(
		text,
		content='nodes',
		content_rowid='rowid'
	)`,
	`CREATE TRIGGER IF NOT EXISTS nodes_fts_insert AFTER INSERT ON nodes BEGIN
		INSERT INTO node_fts(rowid, text) VALUES (new.rowid, new.text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS nodes_fts_delete AFTER DELETE ON nodes BEGIN
		INSERT INTO node_fts(node_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS nodes_fts_update AFTER UPDATE OF text ON nodes BEGIN
		INSERT INTO node_fts(node_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
		INSERT INTO node_fts(rowid, text) VALUES (new.rowid, new.text);
	END`,
	`CREATE TABLE IF NOT EXISTS node_vector_map (
		node_id TEXT PRIMARY KEY REFERENCES nodes(id),
		vector_id TEXT NOT NULL,
		kb_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		kb_id TEXT NOT NULL REFERENCES knowledge_bases(id),
		title TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS retrieval_records (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE REFERENCES messages(id),
		kb_id TEXT NOT NULL,
		query_text TEXT NOT NULL,
		keyword_top_k INTEGER NOT NULL,
		vector_top_k INTEGER NOT NULL,
		fusion_top_k INTEGER NOT NULL,
		rerank_top_k INTEGER NOT NULL,
		fusion_strategy TEXT NOT NULL,
		rerank_strategy TEXT NOT NULL,
		provider_snapshot TEXT NOT NULL DEFAULT '{}',
		timing_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS retrieval_hits (
		id TEXT PRIMARY KEY,
		retrieval_record_id TEXT NOT NULL REFERENCES retrieval_records(id),
		node_id TEXT NOT NULL,
		source TEXT NOT NULL,
		rank INTEGER NOT NULL,
		score REAL NOT NULL,
		score_details TEXT NOT NULL DEFAULT '{}',
		excerpt TEXT NOT NULL DEFAULT '',
		page INTEGER NOT NULL DEFAULT 0,
		start_offset INTEGER,
		end_offset INTEGER,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (retrieval_record_id, source, node_id)
	)`,
	`CREATE TABLE IF NOT EXISTS generation_records (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE REFERENCES messages(id),
		retrieval_record_id TEXT NOT NULL REFERENCES retrieval_records(id),
		prompt_name TEXT NOT NULL,
		prompt_version TEXT NOT NULL,
		model_provider TEXT NOT NULL,
		model_name TEXT NOT NULL,
		messages_snapshot TEXT NOT NULL DEFAULT '[]',
		output_raw TEXT NOT NULL DEFAULT '',
		output_structured TEXT,
		citations TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		error_message TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS evaluation_records (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE REFERENCES messages(id),
		retrieval_record_id TEXT,
		generation_record_id TEXT,
		status TEXT NOT NULL,
		rule_version TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		checks TEXT NOT NULL DEFAULT '[]',
		scores TEXT NOT NULL DEFAULT '{}',
		meta TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
}

// postgresSchema mirrors the SQLite layout on native Postgres types. Keyword
// search uses a stored tsvector column with a GIN index.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS knowledge_bases (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		vector_collection TEXT NOT NULL,
		embed_provider TEXT NOT NULL,
		embed_model TEXT NOT NULL,
		embed_dim INTEGER NOT NULL,
		chunking_config JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_files (
		id UUID PRIMARY KEY,
		kb_id UUID NOT NULL REFERENCES knowledge_bases(id),
		file_name TEXT NOT NULL,
		source_uri TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		ingest_status TEXT NOT NULL,
		pages INTEGER NOT NULL DEFAULT 0,
		node_count INTEGER NOT NULL DEFAULT 0,
		timings JSONB NOT NULL DEFAULT '{}',
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (kb_id, sha256)
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		kb_id UUID NOT NULL,
		file_id UUID NOT NULL REFERENCES knowledge_files(id),
		title TEXT,
		page_count INTEGER NOT NULL DEFAULT 0,
		parser_name TEXT NOT NULL,
		parser_version TEXT,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS nodes (
		id UUID PRIMARY KEY,
		kb_id UUID NOT NULL,
		file_id UUID NOT NULL REFERENCES knowledge_files(id),
		document_id UUID NOT NULL REFERENCES documents(id),
		node_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		page INTEGER NOT NULL DEFAULT 0,
		article_id TEXT,
		section_path TEXT,
		start_offset INTEGER,
		end_offset INTEGER,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		text_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', text)) STORED,
		UNIQUE (file_id, node_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_kb ON nodes(kb_id)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_text_tsv ON nodes USING GIN (text_tsv)`,
	`CREATE TABLE IF NOT EXISTS node_vector_map (
		node_id UUID PRIMARY KEY REFERENCES nodes(id),
		vector_id UUID NOT NULL,
		kb_id UUID NOT NULL,
		file_id UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		kb_id UUID NOT NULL REFERENCES knowledge_bases(id),
		title TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS retrieval_records (
		id UUID PRIMARY KEY,
		message_id UUID NOT NULL UNIQUE REFERENCES messages(id),
		kb_id UUID NOT NULL,
		query_text TEXT NOT NULL,
		keyword_top_k INTEGER NOT NULL,
		vector_top_k INTEGER NOT NULL,
		fusion_top_k INTEGER NOT NULL,
		rerank_top_k INTEGER NOT NULL,
		fusion_strategy TEXT NOT NULL,
		rerank_strategy TEXT NOT NULL,
		provider_snapshot JSONB NOT NULL DEFAULT '{}',
		timing_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS retrieval_hits (
		id UUID PRIMARY KEY,
		retrieval_record_id UUID NOT NULL REFERENCES retrieval_records(id),
		node_id UUID NOT NULL,
		source TEXT NOT NULL,
		rank INTEGER NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		score_details JSONB NOT NULL DEFAULT '{}',
		excerpt TEXT NOT NULL DEFAULT '',
		page INTEGER NOT NULL DEFAULT 0,
		start_offset INTEGER,
		end_offset INTEGER,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (retrieval_record_id, source, node_id)
	)`,
	`CREATE TABLE IF NOT EXISTS generation_records (
		id UUID PRIMARY KEY,
		message_id UUID NOT NULL UNIQUE REFERENCES messages(id),
		retrieval_record_id UUID NOT NULL REFERENCES retrieval_records(id),
		prompt_name TEXT NOT NULL,
		prompt_version TEXT NOT NULL,
		model_provider TEXT NOT NULL,
		model_name TEXT NOT NULL,
		messages_snapshot JSONB NOT NULL DEFAULT '[]',
		output_raw TEXT NOT NULL DEFAULT '',
		output_structured JSONB,
		citations JSONB NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS evaluation_records (
		id UUID PRIMARY KEY,
		message_id UUID NOT NULL UNIQUE REFERENCES messages(id),
		retrieval_record_id UUID,
		generation_record_id UUID,
		status TEXT NOT NULL,
		rule_version TEXT NOT NULL,
		config JSONB NOT NULL DEFAULT '{}',
		checks JSONB NOT NULL DEFAULT '[]',
		scores JSONB NOT NULL DEFAULT '{}',
		meta JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// InitSchema creates all tables and indexes for the given driver.
func InitSchema(ctx context.Context, db DB, driver string) error {
	var stmts []string
	switch driver {
	case DriverSQLite:
		stmts = sqliteSchema
	case DriverPostgres:
		stmts = postgresSchema
	default:
		return fmt.Errorf("unsupported database driver: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Package vectorstore provides payload-bearing vector indexes scoped by
// knowledge base, with k-NN search behind scope filters.
package vectorstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// MetricCosine is the default similarity metric; it is echoed on every hit
// so downstream stages can normalize scores.
const MetricCosine = "COSINE"

// ErrDimensionMismatch indicates a vector whose length does not match the
// collection's dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Payload travels with every vector and carries enough provenance to map a
// hit back to its node without touching the relational store.
type Payload struct {
	NodeID      uuid.UUID `json:"node_id"`
	KBID        uuid.UUID `json:"kb_id"`
	FileID      uuid.UUID `json:"file_id"`
	DocumentID  uuid.UUID `json:"document_id"`
	Page        int       `json:"page"`
	ArticleID   string    `json:"article_id,omitempty"`
	SectionPath string    `json:"section_path,omitempty"`
}

// Entry is one vector to be indexed.
type Entry struct {
	VectorID uuid.UUID
	Vector   []float32
	Payload  Payload
}

// Scope restricts a search. KBID is mandatory; FileID and DocumentID narrow
// further when set.
type Scope struct {
	KBID       uuid.UUID
	FileID     *uuid.UUID
	DocumentID *uuid.UUID
}

// Hit is one search result.
type Hit struct {
	VectorID   uuid.UUID
	Score      float64 // higher is better
	MetricType string
	Payload    Payload
}

// Store is the vector index contract.
type Store interface {
	// Upsert writes a batch of vectors into a collection.
	Upsert(ctx context.Context, collection string, entries []Entry) error

	// Search returns up to topK nearest neighbors within the scope, best first.
	Search(ctx context.Context, collection string, scope Scope, vector []float32, topK int) ([]Hit, error)

	// DeleteByFile removes all vectors of one file (orphan reaping).
	DeleteByFile(ctx context.Context, collection string, fileID uuid.UUID) error

	// Count returns the number of vectors in a collection.
	Count(ctx context.Context, collection string) (int64, error)

	// Close releases resources.
	Close() error
}

func (s Scope) matches(p Payload) bool {
	if p.KBID != s.KBID {
		return false
	}
	if s.FileID != nil && p.FileID != *s.FileID {
		return false
	}
	if s.DocumentID != nil && p.DocumentID != *s.DocumentID {
		return false
	}
	return true
}

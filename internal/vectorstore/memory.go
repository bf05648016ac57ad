package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store for development and tests. Vectors are
// normalized on insert so cosine similarity reduces to a dot product.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[uuid.UUID]memoryEntry
}

type memoryEntry struct {
	vector  []float32
	payload Payload
}

// NewMemory creates an empty in-memory vector store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[uuid.UUID]memoryEntry)}
}

// Upsert writes a batch of vectors into a collection.
func (m *Memory) Upsert(ctx context.Context, collection string, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[uuid.UUID]memoryEntry)
		m.collections[collection] = coll
	}

	// All vectors of a collection must share one dimension.
	dim := 0
	for _, e := range coll {
		dim = len(e.vector)
		break
	}

	for _, e := range entries {
		if len(e.Vector) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return fmt.Errorf("%w: collection %s expects %d, got %d for vector %s",
				ErrDimensionMismatch, collection, dim, len(e.Vector), e.VectorID)
		}
		coll[e.VectorID] = memoryEntry{
			vector:  normalize(e.Vector),
			payload: e.Payload,
		}
	}
	return nil
}

// Search returns up to topK nearest neighbors within the scope, best first.
func (m *Memory) Search(ctx context.Context, collection string, scope Scope, vector []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	coll := m.collections[collection]
	if len(coll) == 0 {
		return nil, nil
	}

	query := normalize(vector)

	var hits []Hit
	for id, e := range coll {
		if !scope.matches(e.payload) {
			continue
		}
		if len(e.vector) != len(query) {
			continue
		}
		hits = append(hits, Hit{
			VectorID:   id,
			Score:      dot(query, e.vector),
			MetricType: MetricCosine,
			Payload:    e.payload,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].VectorID.String() < hits[j].VectorID.String()
	})

	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// DeleteByFile removes all vectors of one file.
func (m *Memory) DeleteByFile(ctx context.Context, collection string, fileID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collections[collection]
	for id, e := range coll {
		if e.payload.FileID == fileID {
			delete(coll, id)
		}
	}
	return nil
}

// Count returns the number of vectors in a collection.
func (m *Memory) Count(ctx context.Context, collection string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.collections[collection])), nil
}

// Close releases resources.
func (m *Memory) Close() error { return nil }

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	// Clamp against floating point drift.
	if sum > 1 {
		sum = 1
	} else if sum < -1 {
		sum = -1
	}
	return sum
}

var _ Store = (*Memory)(nil)

package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(kbID, fileID uuid.UUID, vector []float32) Entry {
	id := uuid.New()
	return Entry{
		VectorID: id,
		Vector:   vector,
		Payload:  Payload{NodeID: id, KBID: kbID, FileID: fileID, Page: 1},
	}
}

func TestMemorySearchOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	kbID := uuid.New()
	fileID := uuid.New()

	exact := entry(kbID, fileID, []float32{1, 0, 0})
	near := entry(kbID, fileID, []float32{0.9, 0.1, 0})
	far := entry(kbID, fileID, []float32{0, 0, 1})
	require.NoError(t, store.Upsert(ctx, "kb_acts", []Entry{far, near, exact}))

	hits, err := store.Search(ctx, "kb_acts", Scope{KBID: kbID}, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, exact.VectorID, hits[0].VectorID)
	assert.Equal(t, near.VectorID, hits[1].VectorID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, MetricCosine, hits[0].MetricType)
	assert.Equal(t, exact.Payload.NodeID, hits[0].Payload.NodeID)
}

func TestMemorySearchScopeFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	kbA := uuid.New()
	kbB := uuid.New()
	fileA := uuid.New()
	fileB := uuid.New()

	inA := entry(kbA, fileA, []float32{1, 0})
	inAOther := entry(kbA, fileB, []float32{1, 0})
	inB := entry(kbB, fileA, []float32{1, 0})
	require.NoError(t, store.Upsert(ctx, "c", []Entry{inA, inAOther, inB}))

	hits, err := store.Search(ctx, "c", Scope{KBID: kbA}, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = store.Search(ctx, "c", Scope{KBID: kbA, FileID: &fileA}, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, inA.VectorID, hits[0].VectorID)

	hits, err = store.Search(ctx, "c", Scope{KBID: uuid.New()}, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryUpsertDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	kbID := uuid.New()
	fileID := uuid.New()

	require.NoError(t, store.Upsert(ctx, "c", []Entry{entry(kbID, fileID, []float32{1, 0, 0})}))

	err := store.Upsert(ctx, "c", []Entry{entry(kbID, fileID, []float32{1, 0})})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// A separate collection starts its own dimension.
	assert.NoError(t, store.Upsert(ctx, "d", []Entry{entry(kbID, fileID, []float32{1, 0})}))
}

func TestMemoryUpsertOverwritesByVectorID(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	kbID := uuid.New()
	fileID := uuid.New()

	e := entry(kbID, fileID, []float32{1, 0})
	require.NoError(t, store.Upsert(ctx, "c", []Entry{e}))
	e.Vector = []float32{0, 1}
	require.NoError(t, store.Upsert(ctx, "c", []Entry{e}))

	count, err := store.Count(ctx, "c")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	hits, err := store.Search(ctx, "c", Scope{KBID: kbID}, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestMemoryDeleteByFile(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	kbID := uuid.New()
	fileA := uuid.New()
	fileB := uuid.New()

	require.NoError(t, store.Upsert(ctx, "c", []Entry{
		entry(kbID, fileA, []float32{1, 0}),
		entry(kbID, fileA, []float32{0, 1}),
		entry(kbID, fileB, []float32{1, 1}),
	}))

	require.NoError(t, store.DeleteByFile(ctx, "c", fileA))

	count, err := store.Count(ctx, "c")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	hits, err := store.Search(ctx, "c", Scope{KBID: kbID}, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, fileB, hits[0].Payload.FileID)
}

func TestMemorySearchEmptyAndZeroTopK(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	hits, err := store.Search(ctx, "missing", Scope{KBID: uuid.New()}, []float32{1}, 5)
	require.NoError(t, err)
	assert.Nil(t, hits)

	require.NoError(t, store.Upsert(ctx, "c", []Entry{entry(uuid.New(), uuid.New(), []float32{1})}))
	hits, err = store.Search(ctx, "c", Scope{KBID: uuid.New()}, []float32{1}, 0)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

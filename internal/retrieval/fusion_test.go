package retrieval

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRRF(t *testing.T) {
	shared := uuid.New()
	kwOnly := uuid.New()
	vecOnly := uuid.New()

	keyword := []KeywordResult{
		{NodeID: shared, Rank: 1, Score: 0.9},
		{NodeID: kwOnly, Rank: 2, Score: 0.5},
	}
	vector := []VectorResult{
		{NodeID: shared, Rank: 1, Score: 0.95},
		{NodeID: vecOnly, Rank: 2, Score: 0.6},
	}

	fused := Fuse(FusionRRF, keyword, vector, FusionOptions{RRFK: 60})
	require.Len(t, fused, 3)

	// The node present in both paths wins.
	assert.Equal(t, shared, fused[0].NodeID)
	assert.InDelta(t, 2.0/61.0, fused[0].Score, 1e-9)
	assert.Equal(t, 1, fused[0].Rank)

	// Both single-path nodes share 1/62; keyword rank breaks the tie.
	assert.Equal(t, kwOnly, fused[1].NodeID)
	assert.Equal(t, vecOnly, fused[2].NodeID)
}

func TestFuseUniqueNodes(t *testing.T) {
	n1, n2 := uuid.New(), uuid.New()
	keyword := []KeywordResult{{NodeID: n1, Rank: 1, Score: 0.8}, {NodeID: n2, Rank: 2, Score: 0.7}}
	vector := []VectorResult{{NodeID: n2, Rank: 1, Score: 0.9}, {NodeID: n1, Rank: 2, Score: 0.85}}

	fused := Fuse(FusionRRF, keyword, vector, FusionOptions{})

	seen := map[uuid.UUID]bool{}
	for _, c := range fused {
		assert.False(t, seen[c.NodeID], "node fused twice")
		seen[c.NodeID] = true
	}
	assert.Len(t, fused, 2)
}

func TestFuseUnionTakesBestScore(t *testing.T) {
	n := uuid.New()
	keyword := []KeywordResult{{NodeID: n, Rank: 1, Score: 0.4}}
	vector := []VectorResult{{NodeID: n, Rank: 1, Score: 0.7}}

	fused := Fuse(FusionUnion, keyword, vector, FusionOptions{})
	require.Len(t, fused, 1)
	assert.Equal(t, 0.7, fused[0].Score)
	assert.Equal(t, 1, fused[0].KeywordRank)
	assert.Equal(t, 1, fused[0].VectorRank)
}

func TestFuseWeighted(t *testing.T) {
	top, mid := uuid.New(), uuid.New()
	keyword := []KeywordResult{
		{NodeID: top, Rank: 1, Score: 0.9},
		{NodeID: mid, Rank: 2, Score: 0.1},
	}
	vector := []VectorResult{
		{NodeID: top, Rank: 1, Score: 0.8},
		{NodeID: mid, Rank: 2, Score: 0.2},
	}

	fused := Fuse(FusionWeighted, keyword, vector, FusionOptions{KeywordWeight: 0.5, VectorWeight: 0.5})
	require.Len(t, fused, 2)

	// Min-max puts the best of each path at 1.0.
	assert.Equal(t, top, fused[0].NodeID)
	assert.InDelta(t, 1.0, fused[0].Score, 1e-9)
	assert.InDelta(t, 0.0, fused[1].Score, 1e-9)
}

func TestFuseTopK(t *testing.T) {
	var keyword []KeywordResult
	for i := 0; i < 10; i++ {
		keyword = append(keyword, KeywordResult{NodeID: uuid.New(), Rank: i + 1, Score: 1.0 - float64(i)*0.05})
	}

	fused := Fuse(FusionRRF, keyword, nil, FusionOptions{TopK: 3})
	require.Len(t, fused, 3)
	for i, c := range fused {
		assert.Equal(t, i+1, c.Rank)
	}
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	// Same rank in vector only: identical scores, node id decides.
	vector := []VectorResult{{NodeID: b, Rank: 1, Score: 0.5}, {NodeID: a, Rank: 1, Score: 0.5}}

	first := Fuse(FusionRRF, nil, vector, FusionOptions{})
	second := Fuse(FusionRRF, nil, vector, FusionOptions{})
	require.Len(t, first, 2)
	assert.Equal(t, first[0].NodeID, second[0].NodeID)
	assert.Equal(t, a, first[0].NodeID)
}

func TestFuseEmptyInputs(t *testing.T) {
	assert.Empty(t, Fuse(FusionRRF, nil, nil, FusionOptions{}))
}

func TestMinMaxConstantList(t *testing.T) {
	out := minMax([]float64{0.4, 0.4, 0.4})
	assert.Equal(t, []float64{1, 1, 1}, out)
}

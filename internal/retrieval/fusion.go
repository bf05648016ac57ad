package retrieval

import (
	"sort"

	"github.com/google/uuid"
)

// Fusion strategies.
const (
	FusionUnion    = "union"
	FusionRRF      = "rrf"
	FusionWeighted = "weighted"
)

// KeywordResult is one ranked hit from the keyword recall path.
type KeywordResult struct {
	NodeID     uuid.UUID
	Rank       int // 1-based
	Score      float64
	RawScore   float64
	Normalizer string
}

// VectorResult is one ranked hit from the vector recall path.
type VectorResult struct {
	NodeID uuid.UUID
	Rank   int // 1-based
	Score  float64
}

// FusedCandidate merges both recall paths for one node. A rank of zero means
// the node was absent from that path.
type FusedCandidate struct {
	NodeID       uuid.UUID
	Score        float64
	Rank         int // 1-based, assigned after ordering
	KeywordRank  int
	VectorRank   int
	KeywordScore float64
	VectorScore  float64
}

// FusionOptions tune the fusion strategy.
type FusionOptions struct {
	TopK          int
	RRFK          int
	KeywordWeight float64
	VectorWeight  float64
}

// Fuse merges the two recall lists into one deduplicated ranking. Every node
// appears at most once. Ties order by keyword rank, then vector rank, then
// node id, so equal scores always fuse the same way.
func Fuse(strategy string, keyword []KeywordResult, vector []VectorResult, opts FusionOptions) []FusedCandidate {
	if opts.RRFK <= 0 {
		opts.RRFK = 60
	}
	if opts.KeywordWeight == 0 && opts.VectorWeight == 0 {
		opts.KeywordWeight, opts.VectorWeight = 0.5, 0.5
	}

	merged := make(map[uuid.UUID]*FusedCandidate)
	for _, k := range keyword {
		merged[k.NodeID] = &FusedCandidate{
			NodeID:       k.NodeID,
			KeywordRank:  k.Rank,
			KeywordScore: k.Score,
		}
	}
	for _, v := range vector {
		c, ok := merged[v.NodeID]
		if !ok {
			c = &FusedCandidate{NodeID: v.NodeID}
			merged[v.NodeID] = c
		}
		c.VectorRank = v.Rank
		c.VectorScore = v.Score
	}

	switch strategy {
	case FusionRRF:
		for _, c := range merged {
			if c.KeywordRank > 0 {
				c.Score += 1.0 / float64(opts.RRFK+c.KeywordRank)
			}
			if c.VectorRank > 0 {
				c.Score += 1.0 / float64(opts.RRFK+c.VectorRank)
			}
		}
	case FusionWeighted:
		kwNorm := minMax(keywordScores(keyword))
		vecNorm := minMax(vectorScores(vector))
		for _, c := range merged {
			var score float64
			if c.KeywordRank > 0 {
				score += opts.KeywordWeight * kwNorm[c.KeywordRank-1]
			}
			if c.VectorRank > 0 {
				score += opts.VectorWeight * vecNorm[c.VectorRank-1]
			}
			c.Score = score
		}
	default: // union
		for _, c := range merged {
			c.Score = c.KeywordScore
			if c.VectorScore > c.Score {
				c.Score = c.VectorScore
			}
		}
	}

	out := make([]FusedCandidate, 0, len(merged))
	for _, c := range merged {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if ri, rj := tieRank(out[i].KeywordRank), tieRank(out[j].KeywordRank); ri != rj {
			return ri < rj
		}
		if ri, rj := tieRank(out[i].VectorRank), tieRank(out[j].VectorRank); ri != rj {
			return ri < rj
		}
		return out[i].NodeID.String() < out[j].NodeID.String()
	})

	if opts.TopK > 0 && opts.TopK < len(out) {
		out = out[:opts.TopK]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// tieRank maps "absent from this path" below every real rank.
func tieRank(rank int) int {
	if rank == 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}

func keywordScores(results []KeywordResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Score
	}
	return out
}

func vectorScores(results []VectorResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Score
	}
	return out
}

// minMax rescales scores into [0,1]. A constant list maps to all ones so a
// single-hit path still contributes its full weight.
func minMax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	out := make([]float64, len(scores))
	if hi == lo {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}

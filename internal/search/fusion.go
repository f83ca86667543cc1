// Package search provides hybrid search combining keyword and vector
// search, fused with Reciprocal Rank Fusion (RRF).
package search

import (
	"sort"

	"github.com/andrlange/docsearch/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (Azure AI Search, OpenSearch, etc.).
const DefaultRRFConstant = 60

// Weights distributes the fusion budget between the two legs. Keyword
// carries alpha; Vector carries 1 - alpha.
type Weights struct {
	Keyword float64
	Vector  float64
}

// WeightsFromAlpha builds fusion weights from the keyword weight alpha.
func WeightsFromAlpha(alpha float64) Weights {
	return Weights{Keyword: alpha, Vector: 1 - alpha}
}

// FusedResult is one entity after RRF fusion.
type FusedResult struct {
	Kind store.EntityKind
	ID   int64

	// RRFScore is the combined fusion score.
	RRFScore float64

	// KeywordScore and KeywordRank come from the keyword leg (rank is
	// 1-indexed, 0 when absent).
	KeywordScore float64
	KeywordRank  int

	// VectorScore and VectorRank come from the vector leg.
	VectorScore float64
	VectorRank  int

	// InBothLists marks entities found by both legs.
	InBothLists bool
}

// RRFFusion combines keyword and vector result lists.
//
// Each list contributes weight / (k + rank) per entity, with rank
// 1-indexed. An entity absent from a list simply gets no contribution
// from it.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates an RRF fusion with the given smoothing constant.
// Non-positive k falls back to the default of 60.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines the two ranked lists. Results are sorted by RRFScore
// descending, then entities in both lists first, then higher keyword
// score, then entity identity for determinism.
func (f *RRFFusion) Fuse(keyword []store.KeywordResult, vector []store.VectorResult, weights Weights) []*FusedResult {
	if len(keyword) == 0 && len(vector) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(keyword)+len(vector))

	for rank, r := range keyword {
		result := f.getOrCreate(scores, r.Kind, r.ID)
		result.KeywordScore = r.Score
		result.KeywordRank = rank + 1
		result.RRFScore += weights.Keyword / float64(f.K+rank+1)
	}

	for rank, r := range vector {
		result := f.getOrCreate(scores, r.Kind, r.ID)
		result.VectorScore = r.Score
		result.VectorRank = rank + 1
		result.RRFScore += weights.Vector / float64(f.K+rank+1)
		if result.KeywordRank > 0 {
			result.InBothLists = true
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})
	return results
}

func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, kind store.EntityKind, id int64) *FusedResult {
	key := store.EntityRef(kind, id)
	if r, ok := m[key]; ok {
		return r
	}
	r := &FusedResult{Kind: kind, ID: id}
	m[key] = r
	return r
}

// compare reports whether a ranks before b.
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.KeywordScore != b.KeywordScore {
		return a.KeywordScore > b.KeywordScore
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.ID < b.ID
}

package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrlange/docsearch/internal/store"
)

func kw(id int64, score float64) store.KeywordResult {
	return store.KeywordResult{Kind: store.KindGuide, ID: id, Score: score}
}

func vec(id int64, score float64) store.VectorResult {
	return store.VectorResult{Kind: store.KindGuide, ID: id, Score: score}
}

func TestFuseEmpty(t *testing.T) {
	f := NewRRFFusion(60)
	results := f.Fuse(nil, nil, WeightsFromAlpha(0.3))
	assert.Empty(t, results)
	assert.NotNil(t, results)
}

func TestFuseVectorRankOutweighsKeywordRank(t *testing.T) {
	f := NewRRFFusion(60)
	weights := WeightsFromAlpha(0.3)

	// A leads the keyword list, B leads the vector list. With alpha=0.3
	// the vector leg dominates, so B wins.
	keyword := []store.KeywordResult{kw(1, 2.5), kw(2, 1.5)}
	vector := []store.VectorResult{vec(2, 0.95), vec(1, 0.90)}

	results := f.Fuse(keyword, vector, weights)
	require.Len(t, results, 2)

	assert.Equal(t, int64(2), results[0].ID)
	assert.Equal(t, int64(1), results[1].ID)

	// B: 0.3/62 + 0.7/61, A: 0.3/61 + 0.7/62.
	assert.InDelta(t, 0.3/62+0.7/61, results[0].RRFScore, 1e-9)
	assert.InDelta(t, 0.3/61+0.7/62, results[1].RRFScore, 1e-9)

	assert.True(t, results[0].InBothLists)
	assert.Equal(t, 1, results[0].VectorRank)
	assert.Equal(t, 2, results[0].KeywordRank)
}

func TestFuseThreeByTwoExactScores(t *testing.T) {
	f := NewRRFFusion(60)
	weights := WeightsFromAlpha(0.3)

	// Keyword ranking [A, B, C] against vector ranking [B, A]:
	// B collects 0.3/62 + 0.7/61, A collects 0.3/61 + 0.7/62, and
	// C only 0.3/63, so B edges out A on the heavier vector weight.
	a, b, c := int64(1), int64(2), int64(3)
	keyword := []store.KeywordResult{kw(a, 3.0), kw(b, 2.0), kw(c, 1.0)}
	vector := []store.VectorResult{vec(b, 0.95), vec(a, 0.90)}

	results := f.Fuse(keyword, vector, weights)
	require.Len(t, results, 3)

	assert.Equal(t, b, results[0].ID)
	assert.Equal(t, a, results[1].ID)
	assert.Equal(t, c, results[2].ID)

	assert.InDelta(t, 0.3/62+0.7/61, results[0].RRFScore, 1e-12)
	assert.InDelta(t, 0.3/61+0.7/62, results[1].RRFScore, 1e-12)
	assert.InDelta(t, 0.3/63, results[2].RRFScore, 1e-12)

	assert.False(t, results[2].InBothLists)
	assert.Zero(t, results[2].VectorRank)
}

func TestFuseSingleListEntities(t *testing.T) {
	f := NewRRFFusion(60)
	weights := WeightsFromAlpha(0.3)

	keyword := []store.KeywordResult{kw(1, 2.0)}
	vector := []store.VectorResult{vec(2, 0.9)}

	results := f.Fuse(keyword, vector, weights)
	require.Len(t, results, 2)

	// Keyword-only entity gets only the keyword contribution, vector-only
	// only the vector contribution. Equal ranks, so the heavier vector
	// weight wins.
	assert.Equal(t, int64(2), results[0].ID)
	assert.InDelta(t, 0.7/61, results[0].RRFScore, 1e-9)
	assert.InDelta(t, 0.3/61, results[1].RRFScore, 1e-9)
	assert.False(t, results[0].InBothLists)
	assert.Equal(t, 0, results[0].KeywordRank)
}

func TestFuseKeywordOnlyDegradation(t *testing.T) {
	f := NewRRFFusion(60)
	weights := WeightsFromAlpha(0.3)

	keyword := []store.KeywordResult{kw(1, 2.0), kw(2, 1.0)}

	results := f.Fuse(keyword, nil, weights)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, int64(2), results[1].ID)
}

func TestFuseDeterministicTieBreaks(t *testing.T) {
	f := NewRRFFusion(60)

	// Equal weights, symmetric ranks: both entities score identically.
	weights := WeightsFromAlpha(0.5)
	keyword := []store.KeywordResult{kw(1, 3.0), kw(2, 1.0)}
	vector := []store.VectorResult{vec(2, 0.9), vec(1, 0.8)}

	results := f.Fuse(keyword, vector, weights)
	require.Len(t, results, 2)
	assert.InDelta(t, results[0].RRFScore, results[1].RRFScore, 1e-12)

	// Tie falls to the higher keyword score.
	assert.Equal(t, int64(1), results[0].ID)
}

func TestFuseMixedKinds(t *testing.T) {
	f := NewRRFFusion(60)
	weights := WeightsFromAlpha(0.3)

	keyword := []store.KeywordResult{
		{Kind: store.KindGuide, ID: 1, Score: 2.0},
		{Kind: store.KindCodeExample, ID: 1, Score: 1.0},
	}
	vector := []store.VectorResult{
		{Kind: store.KindGuide, ID: 1, Score: 0.9},
	}

	results := f.Fuse(keyword, vector, weights)
	require.Len(t, results, 2)

	// Same numeric ID under different kinds stays distinct.
	assert.Equal(t, store.KindGuide, results[0].Kind)
	assert.True(t, results[0].InBothLists)
	assert.Equal(t, store.KindCodeExample, results[1].Kind)
	assert.False(t, results[1].InBothLists)
}

func TestNewRRFFusionDefaultsK(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewRRFFusion(0).K)
	assert.Equal(t, DefaultRRFConstant, NewRRFFusion(-5).K)
	assert.Equal(t, 10, NewRRFFusion(10).K)
}

func TestWeightsFromAlpha(t *testing.T) {
	w := WeightsFromAlpha(0.3)
	assert.InDelta(t, 0.3, w.Keyword, 1e-9)
	assert.InDelta(t, 0.7, w.Vector, 1e-9)
}

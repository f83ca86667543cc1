package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/andrlange/docsearch/internal/errors"
)

func newTestVectorIndex(t *testing.T, dims int) *VectorIndex {
	t.Helper()
	idx, err := NewVectorIndex(dims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestVectorIndexSearchOrdering(t *testing.T) {
	idx := newTestVectorIndex(t, 3)

	require.NoError(t, idx.Add(KindGuide, 1, []float32{1, 0, 0}))
	require.NoError(t, idx.Add(KindGuide, 2, []float32{0, 1, 0}))
	require.NoError(t, idx.Add(KindGuide, 3, []float32{0.9, 0.1, 0}))

	results, err := idx.Search([]float32{1, 0, 0}, 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, int64(1), results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestVectorIndexMinSimilarityFilter(t *testing.T) {
	idx := newTestVectorIndex(t, 2)

	require.NoError(t, idx.Add(KindGuide, 1, []float32{1, 0}))
	require.NoError(t, idx.Add(KindGuide, 2, []float32{0, 1}))

	// Orthogonal vector has similarity 0 and falls below the floor.
	results, err := idx.Search([]float32{1, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
}

func TestVectorIndexReplaceAndDelete(t *testing.T) {
	idx := newTestVectorIndex(t, 2)

	require.NoError(t, idx.Add(KindGuide, 1, []float32{1, 0}))
	require.NoError(t, idx.Add(KindGuide, 1, []float32{0, 1}))
	assert.Equal(t, 1, idx.Count())

	// After replacement only the new vector matches.
	results, err := idx.Search([]float32{0, 1}, 5, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)

	idx.Delete(KindGuide, 1)
	assert.Equal(t, 0, idx.Count())
	assert.False(t, idx.Contains(KindGuide, 1))

	results, err = idx.Search([]float32{0, 1}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndexDimensionMismatch(t *testing.T) {
	idx := newTestVectorIndex(t, 3)

	err := idx.Add(KindGuide, 1, []float32{1, 0})
	require.Error(t, err)

	var derr *dserrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dserrors.ErrCodeDimensionMismatch, derr.Code)

	_, err = idx.Search([]float32{1}, 5, 0)
	assert.Error(t, err)
}

func TestVectorIndexEmptySearch(t *testing.T) {
	idx := newTestVectorIndex(t, 2)

	results, err := idx.Search([]float32{1, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedProviderEmbedHitsCache(t *testing.T) {
	inner := newFakeProvider(4)
	c := NewCachedProvider(inner, 16)

	first, err := c.Embed(context.Background(), "repeated query")
	require.NoError(t, err)

	second, err := c.Embed(context.Background(), "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
}

func TestCachedProviderBatchEmbedsOnlyMisses(t *testing.T) {
	inner := newFakeProvider(4)
	c := NewCachedProvider(inner, 16)

	_, err := c.Embed(context.Background(), "alpha")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// "alpha" was served from cache; one batch call covered the two misses.
	assert.Equal(t, int64(2), inner.embedCalls.Load())
	assert.Equal(t, int64(3), inner.textsSent.Load())

	// Fully cached batch needs no backend call.
	_, err = c.EmbedBatch(context.Background(), []string{"beta", "gamma"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

func TestCachedProviderPassthrough(t *testing.T) {
	inner := newFakeProvider(8)
	c := NewCachedProvider(inner, 16)

	assert.Equal(t, 8, c.Dimensions())
	assert.Equal(t, "fake", c.Name())
	assert.Equal(t, "fake-model", c.ModelName())
	assert.True(t, c.Available())
	assert.Same(t, Provider(inner), c.Inner())
}

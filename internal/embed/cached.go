package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings to keep in memory.
// At 768 dimensions * 4 bytes * 1000 entries this is about 3MB.
const DefaultCacheSize = 1000

// CachedProvider wraps a Provider with LRU caching so repeated texts do
// not hit the backend again.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider creates a cached provider wrapping the given provider.
func NewCachedProvider(inner Provider, cacheSize int) *CachedProvider {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedProvider{
		inner: inner,
		cache: cache,
	}
}

// cacheKey hashes text plus model so a model switch never serves stale
// vectors.
func (c *CachedProvider) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed returns the cached embedding if present, otherwise computes and
// caches it.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch checks the cache per text and batch-embeds only the misses.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	newEmbeddings, err := c.inner.EmbedBatch(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range uncachedIndices {
		results[idx] = newEmbeddings[j]
		c.cache.Add(c.cacheKey(texts[idx]), newEmbeddings[j])
	}

	return results, nil
}

// Dimensions passes through to the inner provider.
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

// Name passes through to the inner provider.
func (c *CachedProvider) Name() string { return c.inner.Name() }

// ModelName passes through to the inner provider.
func (c *CachedProvider) ModelName() string { return c.inner.ModelName() }

// MaxTokens returns the inner provider's input-size capability.
func (c *CachedProvider) MaxTokens() int { return c.inner.MaxTokens() }

// Available passes through to the inner provider.
func (c *CachedProvider) Available() bool { return c.inner.Available() }

// CheckAvailability passes through to the inner provider.
func (c *CachedProvider) CheckAvailability(ctx context.Context) bool {
	return c.inner.CheckAvailability(ctx)
}

// Close closes the inner provider.
func (c *CachedProvider) Close() error { return c.inner.Close() }

// Inner returns the wrapped provider.
func (c *CachedProvider) Inner() Provider { return c.inner }

package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrlange/docsearch/internal/config"
)

func TestNewProviderOllama(t *testing.T) {
	cfg := config.Default()
	cfg.Embeddings.Provider = "ollama"

	p, err := NewProvider(cfg)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	cached, ok := p.(*CachedProvider)
	require.True(t, ok)
	assert.Equal(t, "ollama", cached.Name())
	assert.Equal(t, "nomic-embed-text", cached.ModelName())
}

func TestNewProviderNone(t *testing.T) {
	cfg := config.Default()
	cfg.Embeddings.Provider = "none"

	p, err := NewProvider(cfg)
	require.NoError(t, err)

	_, ok := p.(*NoopProvider)
	assert.True(t, ok)
	assert.False(t, p.Available())
}

func TestNewProviderOpenAIWithoutKeyFallsBackToNoop(t *testing.T) {
	cfg := config.Default()
	cfg.Embeddings.Provider = "openai"
	cfg.Embeddings.OpenAI.APIKey = ""

	p, err := NewProvider(cfg)
	require.NoError(t, err)

	_, ok := p.(*NoopProvider)
	assert.True(t, ok)
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider(8)

	vec, err := p.Embed(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vec)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	assert.False(t, p.Available())
	assert.False(t, p.CheckAvailability(context.Background()))
	assert.Equal(t, "none", p.Name())
}

func TestMonitorProbesOnStart(t *testing.T) {
	p := newFakeProvider(4)
	m := NewMonitor(p, time.Hour, time.Second)

	m.Start(context.Background())
	m.Stop()

	// Stop waits for the loop, which always runs the initial probe.
	assert.True(t, p.Available())
}

package embed

import (
	"context"
	"strings"
	"sync/atomic"
)

// fakeProvider is a deterministic in-memory provider for tests. Each text
// maps to a vector seeded from its length, so distinct texts get distinct
// embeddings without a backend.
type fakeProvider struct {
	dims       int
	embedCalls atomic.Int64
	textsSent  atomic.Int64
	available  atomic.Bool
	failWith   error
}

var _ Provider = (*fakeProvider)(nil)

func newFakeProvider(dims int) *fakeProvider {
	p := &fakeProvider{dims: dims}
	p.available.Store(true)
	return p
}

func (p *fakeProvider) vectorFor(text string) []float32 {
	vec := make([]float32, p.dims)
	if strings.TrimSpace(text) == "" {
		return vec
	}
	vec[0] = float32(len(text))
	if p.dims > 1 {
		vec[1] = 1
	}
	return vec
}

func (p *fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if p.failWith != nil {
		return nil, p.failWith
	}
	p.embedCalls.Add(1)
	p.textsSent.Add(1)
	return p.vectorFor(text), nil
}

func (p *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if p.failWith != nil {
		return nil, p.failWith
	}
	p.embedCalls.Add(1)
	p.textsSent.Add(int64(len(texts)))
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = p.vectorFor(text)
	}
	return results, nil
}

func (p *fakeProvider) Dimensions() int { return p.dims }

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) ModelName() string { return "fake-model" }

func (p *fakeProvider) MaxTokens() int { return DefaultMaxTokens }

func (p *fakeProvider) Available() bool { return p.available.Load() }

func (p *fakeProvider) CheckAvailability(_ context.Context) bool {
	return p.available.Load()
}

func (p *fakeProvider) Close() error { return nil }

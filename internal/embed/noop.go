package embed

import "context"

// NoopProvider returns zero vectors and reports itself unavailable. It is
// the fallback when no real provider can be constructed, keeping callers
// functional without embeddings.
type NoopProvider struct {
	dims int
}

var _ Provider = (*NoopProvider)(nil)

// NewNoopProvider creates a no-op provider with the given dimensionality.
func NewNoopProvider(dims int) *NoopProvider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &NoopProvider{dims: dims}
}

// Embed returns a zero vector.
func (p *NoopProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, p.dims), nil
}

// EmbedBatch returns zero vectors, one per input.
func (p *NoopProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i := range texts {
		results[i] = make([]float32, p.dims)
	}
	return results, nil
}

// Dimensions returns the configured dimensionality.
func (p *NoopProvider) Dimensions() int { return p.dims }

// Name returns "none".
func (p *NoopProvider) Name() string { return "none" }

// ModelName returns "noop".
func (p *NoopProvider) ModelName() string { return "noop" }

// MaxTokens returns the default input-size capability.
func (p *NoopProvider) MaxTokens() int { return DefaultMaxTokens }

// Available always reports false so callers skip embedding work.
func (p *NoopProvider) Available() bool { return false }

// CheckAvailability always reports false.
func (p *NoopProvider) CheckAvailability(_ context.Context) bool { return false }

// Close is a no-op.
func (p *NoopProvider) Close() error { return nil }

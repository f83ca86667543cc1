package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// DefaultBatchSize is the default number of texts per provider request
	DefaultBatchSize = 50

	// MaxBatchSize caps batch size to prevent memory exhaustion
	MaxBatchSize = 256

	// DefaultTimeout is the default timeout for embedding requests
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts per request
	DefaultMaxRetries = 3

	// DefaultDimensions is the fallback dimensionality when the provider
	// has not reported an observed dimension yet
	DefaultDimensions = 768

	// DefaultMaxTokens is the input-size capability a backend is assumed
	// to have when it does not report one
	DefaultMaxTokens = 8192

	// probeText is the fixed input used by availability canary probes
	probeText = "test"
)

// Provider generates vector embeddings for text.
type Provider interface {
	// Embed generates the embedding for a single text.
	// Blank input returns a zero vector without contacting the backend.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality. Providers that
	// observe the dimension from live responses report the observed value.
	Dimensions() int

	// Name returns the provider identifier ("ollama", "openai", "none").
	Name() string

	// ModelName returns the model identifier.
	ModelName() string

	// MaxTokens returns the maximum input size in tokens the backend
	// accepts per text.
	MaxTokens() int

	// Available reports the cached availability state. It never blocks.
	Available() bool

	// CheckAvailability probes the backend with a canary embedding and
	// updates the cached availability state.
	CheckAvailability(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length. Zero vectors are
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

package embed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/andrlange/docsearch/internal/chunk"
	dserrors "github.com/andrlange/docsearch/internal/errors"
)

// ChunkEmbedding is one chunk of a document with its embedding.
type ChunkEmbedding struct {
	Index      int
	Text       string
	Vector     []float32
	TokenCount int
}

// DocumentEmbedding is the result of embedding a full document: the
// aggregate document vector plus the per-chunk vectors it was built from.
type DocumentEmbedding struct {
	// Vector is the component-wise mean of the chunk vectors, normalized
	// to unit length.
	Vector []float32

	// Chunks holds the per-chunk embeddings in document order.
	Chunks []ChunkEmbedding
}

// Generator produces document and query embeddings on top of a Provider,
// chunking text that exceeds the provider's comfortable input size.
type Generator struct {
	provider Provider
	chunker  *chunk.Chunker
}

// NewGenerator creates a Generator using the given provider and chunker.
func NewGenerator(provider Provider, chunker *chunk.Chunker) *Generator {
	return &Generator{
		provider: provider,
		chunker:  chunker,
	}
}

// Provider returns the underlying provider.
func (g *Generator) Provider() Provider {
	return g.provider
}

// Embed generates the embedding for a single text. Blank text yields a
// zero vector without a backend call.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, g.provider.Dimensions()), nil
	}
	return g.provider.Embed(ctx, text)
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return g.provider.EmbedBatch(ctx, texts)
}

// EmbedWithChunking embeds text of any length. Text within the chunk size
// is embedded directly; longer text is chunked, each chunk embedded, and
// the chunk vectors averaged into one document vector.
func (g *Generator) EmbedWithChunking(ctx context.Context, text string) ([]float32, error) {
	doc, err := g.EmbedDocument(ctx, text)
	if err != nil {
		return nil, err
	}
	return doc.Vector, nil
}

// EmbedDocument chunks and embeds text, returning both the aggregate
// document vector and the per-chunk embeddings. Each chunk is embedded
// exactly once; the aggregate is derived from the chunk vectors.
func (g *Generator) EmbedDocument(ctx context.Context, text string) (*DocumentEmbedding, error) {
	if strings.TrimSpace(text) == "" {
		return &DocumentEmbedding{
			Vector: make([]float32, g.provider.Dimensions()),
		}, nil
	}

	chunks := g.chunker.Chunk(text)
	if len(chunks) == 0 {
		return &DocumentEmbedding{
			Vector: make([]float32, g.provider.Dimensions()),
		}, nil
	}

	vectors, err := g.provider.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, dserrors.ProviderError(
			fmt.Sprintf("provider returned %d vectors for %d chunks", len(vectors), len(chunks)), nil)
	}

	result := &DocumentEmbedding{
		Chunks: make([]ChunkEmbedding, len(chunks)),
	}
	for i, text := range chunks {
		result.Chunks[i] = ChunkEmbedding{
			Index:      i,
			Text:       text,
			Vector:     vectors[i],
			TokenCount: g.chunker.EstimateTokens(text),
		}
	}

	if len(vectors) == 1 {
		result.Vector = vectors[0]
	} else {
		result.Vector = averageVectors(vectors)
		slog.Debug("aggregated chunk embeddings",
			slog.Int("chunks", len(chunks)),
			slog.Int("dimensions", len(result.Vector)))
	}

	return result, nil
}

// averageVectors computes the component-wise mean of the vectors and
// normalizes the result to unit length. Shorter vectors contribute zero to
// components beyond their length.
func averageVectors(vectors [][]float32) []float32 {
	dims := 0
	for _, v := range vectors {
		if len(v) > dims {
			dims = len(v)
		}
	}

	avg := make([]float32, dims)
	for _, v := range vectors {
		for i, val := range v {
			avg[i] += val
		}
	}
	n := float32(len(vectors))
	for i := range avg {
		avg[i] /= n
	}

	return normalizeVector(avg)
}

// CosineSimilarity computes the cosine similarity of two vectors. Vectors
// of different lengths are an input error; a zero-magnitude vector yields
// similarity 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, dserrors.New(dserrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("vector lengths differ: %d vs %d", len(a), len(b)), nil)
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

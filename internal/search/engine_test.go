package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrlange/docsearch/internal/chunk"
	"github.com/andrlange/docsearch/internal/embed"
	dserrors "github.com/andrlange/docsearch/internal/errors"
	"github.com/andrlange/docsearch/internal/store"
)

// newColorEmbedServer fakes an Ollama backend that embeds texts onto three
// axes: "red" -> x, "blue" -> y, anything else -> z. This gives tests
// predictable cosine similarities.
func newColorEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	embedText := func(text string) []float64 {
		switch {
		case strings.Contains(text, "red"):
			return []float64{1, 0, 0}
		case strings.Contains(text, "blue"):
			return []float64{0, 1, 0}
		default:
			return []float64{0, 0, 1}
		}
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input any `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var embeddings [][]float64
		switch input := req.Input.(type) {
		case string:
			embeddings = [][]float64{embedText(input)}
		case []any:
			for _, item := range input {
				embeddings = append(embeddings, embedText(item.(string)))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings}))
	}))
}

type engineFixture struct {
	store  *store.SQLiteStore
	kw     *store.KeywordIndex
	vec    *store.VectorIndex
	engine *Engine
}

func newEngineFixture(t *testing.T, provider embed.Provider) *engineFixture {
	t.Helper()

	st, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	kw, err := store.NewKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })

	vec, err := store.NewVectorIndex(3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vec.Close() })

	gen := embed.NewGenerator(provider, chunk.New(512, 50))

	engine, err := NewEngine(st, kw, vec, gen, EngineConfig{
		Alpha:         0.3,
		MinSimilarity: 0.5,
		RRFConstant:   60,
	})
	require.NoError(t, err)

	return &engineFixture{store: st, kw: kw, vec: vec, engine: engine}
}

// addGuide stores a guide in all three stores.
func (f *engineFixture) addGuide(t *testing.T, title, content string, vector []float32) *store.Document {
	t.Helper()
	doc, err := f.store.CreateDocument(context.Background(), store.KindGuide, title, content)
	require.NoError(t, err)
	require.NoError(t, f.kw.Index(doc))
	if vector != nil {
		require.NoError(t, f.vec.Add(store.KindGuide, doc.ID, vector))
	}
	return doc
}

func TestEngineEmptyQuery(t *testing.T) {
	f := newEngineFixture(t, embed.NewNoopProvider(3))

	_, err := f.engine.Search(context.Background(), "   ", SearchOptions{})
	require.Error(t, err)

	var derr *dserrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dserrors.ErrCodeQueryEmpty, derr.Code)
}

func TestEngineKeywordOnlyWhenProviderUnavailable(t *testing.T) {
	f := newEngineFixture(t, embed.NewNoopProvider(3))

	f.addGuide(t, "Red deployments", "How to run red deployments safely.", []float32{1, 0, 0})
	f.addGuide(t, "Blue storage", "Blue storage configuration.", []float32{0, 1, 0})

	results, err := f.engine.Search(context.Background(), "red deployments", SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "Red deployments", results[0].Document.Title)
	assert.Positive(t, results[0].KeywordRank)
	assert.Zero(t, results[0].VectorRank)
	assert.False(t, results[0].InBothLists)
}

func TestEngineHybridSearch(t *testing.T) {
	server := newColorEmbedServer(t)
	defer server.Close()

	provider := embed.NewOllamaProvider(embed.OllamaConfig{Host: server.URL, MaxRetries: 1})
	t.Cleanup(func() { _ = provider.Close() })
	require.True(t, provider.CheckAvailability(context.Background()))

	f := newEngineFixture(t, provider)
	red := f.addGuide(t, "Working with red", "All about red things.", []float32{1, 0, 0})
	f.addGuide(t, "Working with blue", "All about blue things.", []float32{0, 1, 0})

	results, err := f.engine.Search(context.Background(), "red", SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, red.ID, results[0].Document.ID)
	assert.True(t, results[0].InBothLists)
	assert.InDelta(t, 1.0, results[0].VectorScore, 1e-5)

	// The orthogonal guide falls below min similarity on the vector leg.
	for _, r := range results {
		if r.Document.ID != red.ID {
			assert.Zero(t, r.VectorRank)
		}
	}
}

func TestEngineKindFilter(t *testing.T) {
	f := newEngineFixture(t, embed.NewNoopProvider(3))

	f.addGuide(t, "Red guide", "red content", nil)
	code, err := f.store.CreateDocument(context.Background(), store.KindCodeExample, "red snippet", "var red = 1")
	require.NoError(t, err)

	results, err := f.engine.Search(context.Background(), "red", SearchOptions{
		Kinds: []store.EntityKind{store.KindCodeExample},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, code.ID, results[0].Document.ID)
	assert.Equal(t, store.KindCodeExample, results[0].Document.Kind)
}

func TestEngineDropsDeletedDocuments(t *testing.T) {
	f := newEngineFixture(t, embed.NewNoopProvider(3))

	doc := f.addGuide(t, "Stale guide", "stale content", nil)
	// Delete from the source of truth but leave the keyword index stale.
	require.NoError(t, f.store.DeleteDocument(context.Background(), store.KindGuide, doc.ID))

	results, err := f.engine.Search(context.Background(), "stale", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngineLimitApplied(t *testing.T) {
	f := newEngineFixture(t, embed.NewNoopProvider(3))

	for i := 0; i < 5; i++ {
		f.addGuide(t, "pagination guide", "pagination content here", nil)
	}

	results, err := f.engine.Search(context.Background(), "pagination", SearchOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	_, err := NewEngine(nil, nil, nil, nil, EngineConfig{})
	assert.ErrorIs(t, err, ErrNilDependency)
}

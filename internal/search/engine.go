package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/andrlange/docsearch/internal/embed"
	dserrors "github.com/andrlange/docsearch/internal/errors"
	"github.com/andrlange/docsearch/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// EngineConfig configures the hybrid search engine.
type EngineConfig struct {
	// Alpha is the default keyword weight; the vector leg gets 1 - Alpha.
	Alpha float64

	// MinSimilarity filters vector candidates below this cosine similarity.
	MinSimilarity float64

	// RRFConstant is the fusion smoothing constant.
	RRFConstant int

	// DefaultLimit and MaxLimit bound the per-query result count.
	DefaultLimit int
	MaxLimit     int
}

// SearchOptions are per-query options.
type SearchOptions struct {
	// Limit is the maximum number of results (defaulted and capped by
	// the engine config).
	Limit int

	// Kinds restricts results to these entity kinds; empty means all.
	Kinds []store.EntityKind

	// Alpha overrides the configured keyword weight when non-nil.
	Alpha *float64
}

// SearchResult is one fused, enriched hit.
type SearchResult struct {
	Document *store.Document

	// Score is the fused RRF score.
	Score float64

	KeywordScore float64
	KeywordRank  int
	VectorScore  float64
	VectorRank   int
	InBothLists  bool
}

// Engine runs hybrid search: a keyword leg (full text over guides,
// substring over the code-like kinds) and a vector leg, fused with RRF.
// When the embedding provider is down the engine degrades to keyword-only
// results instead of failing.
type Engine struct {
	store     *store.SQLiteStore
	keyword   *store.KeywordIndex
	vector    *store.VectorIndex
	generator *embed.Generator
	config    EngineConfig
	fusion    *RRFFusion
}

// NewEngine creates a hybrid search engine with the given dependencies.
func NewEngine(
	st *store.SQLiteStore,
	keyword *store.KeywordIndex,
	vector *store.VectorIndex,
	generator *embed.Generator,
	config EngineConfig,
) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: sqlite store is required", ErrNilDependency)
	}
	if keyword == nil {
		return nil, fmt.Errorf("%w: keyword index is required", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if generator == nil {
		return nil, fmt.Errorf("%w: embedding generator is required", ErrNilDependency)
	}

	if config.Alpha <= 0 || config.Alpha > 1 {
		config.Alpha = 0.3
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 10
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = 100
	}

	return &Engine{
		store:     st,
		keyword:   keyword,
		vector:    vector,
		generator: generator,
		config:    config,
		fusion:    NewRRFFusion(config.RRFConstant),
	}, nil
}

// Search executes a hybrid search. Both legs run concurrently and fetch
// twice the requested limit so fusion has enough candidates; the fused
// list is truncated to the limit after enrichment.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, dserrors.New(dserrors.ErrCodeQueryEmpty, "search query is empty", nil)
	}

	opts = e.applyDefaults(opts)
	fetchLimit := opts.Limit * 2

	keywordResults, vectorResults, legErr := e.parallelSearch(ctx, query, opts.Kinds, fetchLimit)
	if keywordResults == nil && vectorResults == nil && legErr != nil {
		return nil, dserrors.New(dserrors.ErrCodeSearchFailed, "both search legs failed", legErr)
	}
	if legErr != nil {
		slog.Warn("search degraded to partial results",
			slog.String("query", query),
			slog.String("error", legErr.Error()))
	}

	alpha := e.config.Alpha
	if opts.Alpha != nil {
		alpha = *opts.Alpha
	}

	fused := e.fusion.Fuse(keywordResults, vectorResults, WeightsFromAlpha(alpha))
	if len(fused) > opts.Limit {
		fused = fused[:opts.Limit]
	}

	return e.enrich(ctx, fused)
}

func (e *Engine) applyDefaults(opts SearchOptions) SearchOptions {
	if opts.Limit <= 0 {
		opts.Limit = e.config.DefaultLimit
	}
	if opts.Limit > e.config.MaxLimit {
		opts.Limit = e.config.MaxLimit
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = store.Kinds()
	}
	return opts
}

// parallelSearch runs the keyword and vector legs concurrently. A single
// failed leg yields partial results plus the error; only context
// cancellation aborts both.
func (e *Engine) parallelSearch(ctx context.Context, query string, kinds []store.EntityKind, limit int) (
	keywordResults []store.KeywordResult,
	vectorResults []store.VectorResult,
	err error,
) {
	g, gctx := errgroup.WithContext(ctx)

	var keywordErr, vectorErr error

	g.Go(func() error {
		keywordResults, keywordErr = e.keywordSearch(gctx, query, kinds, limit)
		return nil
	})

	g.Go(func() error {
		vectorResults, vectorErr = e.vectorSearch(gctx, query, kinds, limit)
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}

	if keywordErr != nil && vectorErr != nil {
		return nil, nil, errors.Join(keywordErr, vectorErr)
	}
	if keywordErr != nil {
		err = keywordErr
	} else if vectorErr != nil {
		err = vectorErr
	}
	return keywordResults, vectorResults, err
}

// keywordSearch merges full-text hits over guides with substring hits over
// the code-like kinds. Full-text hits keep their relevance order and rank
// ahead of substring hits.
func (e *Engine) keywordSearch(ctx context.Context, query string, kinds []store.EntityKind, limit int) ([]store.KeywordResult, error) {
	var fullText, substring []store.EntityKind
	for _, k := range kinds {
		if k == store.KindGuide {
			fullText = append(fullText, k)
		} else {
			substring = append(substring, k)
		}
	}

	var results []store.KeywordResult

	if len(fullText) > 0 {
		hits, err := e.keyword.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		results = append(results, hits...)
	}

	if len(substring) > 0 && len(results) < limit {
		hits, err := e.store.SubstringSearch(ctx, substring, query, limit-len(results))
		if err != nil {
			return nil, err
		}
		results = append(results, hits...)
	}

	return results, nil
}

// vectorSearch embeds the query and searches the vector index. An
// unavailable provider skips the leg entirely so search stays responsive
// while the backend is down.
func (e *Engine) vectorSearch(ctx context.Context, query string, kinds []store.EntityKind, limit int) ([]store.VectorResult, error) {
	if !e.generator.Provider().Available() {
		slog.Debug("embedding provider unavailable, skipping vector leg")
		return nil, nil
	}

	embedding, err := e.generator.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := e.vector.Search(embedding, limit, e.config.MinSimilarity)
	if err != nil {
		return nil, err
	}

	if len(kinds) == 0 {
		return hits, nil
	}
	wanted := make(map[store.EntityKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	filtered := hits[:0]
	for _, h := range hits {
		if wanted[h.Kind] {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}

// enrich loads the documents behind the fused hits. Hits whose documents
// were deleted since indexing are dropped.
func (e *Engine) enrich(ctx context.Context, fused []*FusedResult) ([]*SearchResult, error) {
	results := make([]*SearchResult, 0, len(fused))
	for _, f := range fused {
		doc, err := e.store.GetDocument(ctx, f.Kind, f.ID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		results = append(results, &SearchResult{
			Document:     doc,
			Score:        f.RRFScore,
			KeywordScore: f.KeywordScore,
			KeywordRank:  f.KeywordRank,
			VectorScore:  f.VectorScore,
			VectorRank:   f.VectorRank,
			InBothLists:  f.InBothLists,
		})
	}
	return results, nil
}

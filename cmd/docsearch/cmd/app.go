package cmd

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/andrlange/docsearch/internal/chunk"
	"github.com/andrlange/docsearch/internal/config"
	"github.com/andrlange/docsearch/internal/embed"
	"github.com/andrlange/docsearch/internal/search"
	"github.com/andrlange/docsearch/internal/store"
	syncpkg "github.com/andrlange/docsearch/internal/sync"
)

const (
	databaseFile     = "docsearch.db"
	keywordIndexDir  = "keyword.bleve"
	keywordBatchSize = 100
)

// app wires the stores, provider, and engine for one CLI invocation.
type app struct {
	cfg       *config.Config
	store     *store.SQLiteStore
	keyword   *store.KeywordIndex
	vectors   *store.VectorIndex
	provider  embed.Provider
	generator *embed.Generator
	engine    *search.Engine
	syncer    *syncpkg.Syncer
}

// openApp builds the full application stack for the configured data
// directory. The caller must invoke close when done.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	if err := a.open(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	dir := a.cfg.Storage.DataDir

	st, err := store.NewSQLiteStore(filepath.Join(dir, databaseFile))
	if err != nil {
		return err
	}
	a.store = st

	keyword, err := store.NewKeywordIndex(filepath.Join(dir, keywordIndexDir))
	if err != nil {
		return err
	}
	a.keyword = keyword

	vectors, err := store.NewVectorIndex(a.cfg.Embeddings.Dimensions)
	if err != nil {
		return err
	}
	a.vectors = vectors

	provider, err := embed.NewProvider(a.cfg)
	if err != nil {
		return err
	}
	a.provider = provider
	a.generator = embed.NewGenerator(provider,
		chunk.New(a.cfg.Embeddings.ChunkSize, a.cfg.Embeddings.ChunkOverlap))

	if err := a.hydrate(ctx); err != nil {
		return err
	}

	engine, err := search.NewEngine(a.store, a.keyword, a.vectors, a.generator, search.EngineConfig{
		Alpha:         a.cfg.Search.Alpha,
		MinSimilarity: a.cfg.Search.MinSimilarity,
		RRFConstant:   a.cfg.Search.RRFConstant,
		MaxLimit:      a.cfg.Search.MaxResults,
	})
	if err != nil {
		return err
	}
	a.engine = engine
	a.syncer = syncpkg.NewSyncer(a.store, a.generator, a.vectors, a.cfg.Embeddings.BatchSize)
	return nil
}

// hydrate fills the in-memory indexes from the persisted state: the
// HNSW graph from the stored document vectors, and the keyword index
// from the documents table when the index is empty.
func (a *app) hydrate(ctx context.Context) error {
	loaded := 0
	err := a.store.AllEntityVectors(ctx, func(row *store.VectorRow) error {
		if err := a.vectors.Add(row.EntityType, row.EntityID, row.Vector); err != nil {
			slog.Warn("skipping stored vector",
				"kind", row.EntityType, "id", row.EntityID, "error", err)
			return nil
		}
		loaded++
		return nil
	})
	if err != nil {
		return err
	}
	if loaded > 0 {
		slog.Debug("hydrated vector index", "vectors", loaded)
	}

	if a.keyword.Count() > 0 {
		return nil
	}
	indexed := 0
	err = a.store.AllDocuments(ctx, store.KindGuide, keywordBatchSize,
		func(docs []*store.Document) (bool, error) {
			if err := a.keyword.IndexBatch(docs); err != nil {
				return false, err
			}
			indexed += len(docs)
			return true, nil
		})
	if err != nil {
		return err
	}
	if indexed > 0 {
		slog.Debug("rebuilt keyword index", "documents", indexed)
	}
	return nil
}

func (a *app) close() {
	if a.provider != nil {
		_ = a.provider.Close()
	}
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.keyword != nil {
		_ = a.keyword.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// Package sync bulk-embeds stored documents outside the job queue: a
// full re-sync of every kind, a catch-up pass over entities missing
// vectors, and coverage reporting.
package sync

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/andrlange/docsearch/internal/embed"
	dserrors "github.com/andrlange/docsearch/internal/errors"
	"github.com/andrlange/docsearch/internal/store"
)

// FetchBatchFunc streams documents for one entity kind in batches. The
// callback returns false to stop early.
type FetchBatchFunc func(ctx context.Context, fn func([]*store.Document) (bool, error)) error

// ExtractTextFunc derives the embeddable text from a document.
type ExtractTextFunc func(doc *store.Document) string

// WriteVectorFunc persists one document's embedding.
type WriteVectorFunc func(ctx context.Context, doc *store.Document, result *embed.DocumentEmbedding) error

// Pipeline wires one entity kind into the sync machinery. All kinds
// share the same loop; only these three hooks differ.
type Pipeline struct {
	Kind    store.EntityKind
	Fetch   FetchBatchFunc
	Extract ExtractTextFunc
	Write   WriteVectorFunc
}

// Result counts one pipeline run.
type Result struct {
	Kind      store.EntityKind
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
}

// StatsReport summarizes embedding coverage across all kinds.
type StatsReport struct {
	Provider  string
	Model     string
	Available bool
	Kinds     []store.EmbeddingStats
}

// Syncer owns the per-kind pipelines.
type Syncer struct {
	store     *store.SQLiteStore
	generator *embed.Generator
	vectors   *store.VectorIndex
	batchSize int
	pipelines []Pipeline
}

// NewSyncer creates a syncer with the default pipeline per entity kind.
// The vector index may be nil for one-shot CLI runs.
func NewSyncer(st *store.SQLiteStore, generator *embed.Generator, vectors *store.VectorIndex, batchSize int) *Syncer {
	if batchSize <= 0 {
		batchSize = 50
	}
	s := &Syncer{
		store:     st,
		generator: generator,
		vectors:   vectors,
		batchSize: batchSize,
	}
	for _, kind := range store.Kinds() {
		s.pipelines = append(s.pipelines, s.defaultPipeline(kind))
	}
	return s
}

func (s *Syncer) defaultPipeline(kind store.EntityKind) Pipeline {
	return Pipeline{
		Kind: kind,
		Fetch: func(ctx context.Context, fn func([]*store.Document) (bool, error)) error {
			return s.store.AllDocuments(ctx, kind, s.batchSize, fn)
		},
		Extract: embeddableText,
		Write:   s.writeEmbedding,
	}
}

// SyncAll re-embeds every document of every kind. Kinds run
// concurrently; each keeps its own paging cursor.
func (s *Syncer) SyncAll(ctx context.Context) ([]Result, error) {
	if !s.generator.Provider().Available() {
		return nil, dserrors.New(dserrors.ErrCodeProviderUnavailable,
			"cannot sync, embedding provider is unavailable", nil)
	}

	results := make([]Result, len(s.pipelines))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range s.pipelines {
		i, p := i, p
		g.Go(func() error {
			res, err := s.runPipeline(gctx, p)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// runPipeline walks one kind's documents and embeds each in turn.
// Per-document embedding failures count as Failed and do not abort the
// run; only fetch or context errors do.
func (s *Syncer) runPipeline(ctx context.Context, p Pipeline) (Result, error) {
	res := Result{Kind: p.Kind}

	err := p.Fetch(ctx, func(docs []*store.Document) (bool, error) {
		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			res.Processed++

			text := p.Extract(doc)
			if text == "" {
				res.Skipped++
				continue
			}

			embedding, err := s.generator.EmbedDocument(ctx, text)
			if err != nil {
				res.Failed++
				slog.Warn("sync failed to embed document",
					"kind", doc.Kind, "id", doc.ID, "error", err)
				continue
			}
			if err := p.Write(ctx, doc, embedding); err != nil {
				res.Failed++
				slog.Warn("sync failed to persist embedding",
					"kind", doc.Kind, "id", doc.ID, "error", err)
				continue
			}
			res.Succeeded++
		}
		return true, nil
	})
	if err != nil {
		return res, err
	}

	slog.Info("sync pipeline finished",
		"kind", p.Kind, "processed", res.Processed,
		"succeeded", res.Succeeded, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// SyncMissing embeds only the documents of one kind that have no
// entity-level vector yet, and completes any queued job for them.
func (s *Syncer) SyncMissing(ctx context.Context, kind store.EntityKind) (Result, error) {
	res := Result{Kind: kind}

	if !s.generator.Provider().Available() {
		return res, dserrors.New(dserrors.ErrCodeProviderUnavailable,
			"cannot sync, embedding provider is unavailable", nil)
	}

	ids, err := s.store.MissingEntityVectorIDs(ctx, kind)
	if err != nil {
		return res, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++

		doc, err := s.store.GetDocument(ctx, kind, id)
		if err != nil {
			return res, err
		}
		if doc == nil {
			res.Skipped++
			continue
		}

		text := embeddableText(doc)
		if text == "" {
			res.Skipped++
			continue
		}

		embedding, err := s.generator.EmbedDocument(ctx, text)
		if err != nil {
			res.Failed++
			slog.Warn("sync failed to embed document",
				"kind", kind, "id", id, "error", err)
			continue
		}
		if err := s.writeEmbedding(ctx, doc, embedding); err != nil {
			res.Failed++
			continue
		}
		if err := s.store.CompleteActiveJobs(ctx, kind, id); err != nil {
			slog.Warn("sync failed to complete queued jobs",
				"kind", kind, "id", id, "error", err)
		}
		res.Succeeded++
	}
	return res, nil
}

// Stats gathers per-kind embedding coverage plus the provider identity.
func (s *Syncer) Stats(ctx context.Context) (*StatsReport, error) {
	provider := s.generator.Provider()
	report := &StatsReport{
		Provider:  provider.Name(),
		Model:     provider.ModelName(),
		Available: provider.Available(),
	}
	for _, kind := range store.Kinds() {
		stats, err := s.store.Stats(ctx, kind)
		if err != nil {
			return nil, err
		}
		report.Kinds = append(report.Kinds, *stats)
	}
	return report, nil
}

// writeEmbedding persists the chunk rows, prunes stale chunks, and
// upserts the document-level row in one transaction, then refreshes
// the in-memory vector index.
func (s *Syncer) writeEmbedding(ctx context.Context, doc *store.Document, result *embed.DocumentEmbedding) error {
	now := time.Now().UTC()
	model := s.generator.Provider().ModelName()

	err := s.store.RunInTx(ctx, func(tx *sql.Tx) error {
		for _, c := range result.Chunks {
			row := &store.VectorRow{
				EntityType: doc.Kind,
				EntityID:   doc.ID,
				ChunkIndex: c.Index,
				Content:    c.Text,
				TokenCount: c.TokenCount,
				Vector:     c.Vector,
				Model:      model,
				UpdatedAt:  now,
			}
			if err := s.store.UpsertVector(ctx, tx, row); err != nil {
				return err
			}
		}
		if err := s.store.DeleteChunksFrom(ctx, tx, doc.Kind, doc.ID, len(result.Chunks)); err != nil {
			return err
		}
		return s.store.UpsertVector(ctx, tx, &store.VectorRow{
			EntityType: doc.Kind,
			EntityID:   doc.ID,
			ChunkIndex: store.EntityChunkIndex,
			Content:    doc.Title,
			Vector:     result.Vector,
			Model:      model,
			UpdatedAt:  now,
		})
	})
	if err != nil {
		return err
	}

	if s.vectors != nil {
		if err := s.vectors.Add(doc.Kind, doc.ID, result.Vector); err != nil {
			slog.Warn("failed to refresh vector index",
				"kind", doc.Kind, "id", doc.ID, "error", err)
		}
	}
	return nil
}

// embeddableText joins title and body the same way the job processor
// does.
func embeddableText(doc *store.Document) string {
	title := strings.TrimSpace(doc.Title)
	content := strings.TrimSpace(doc.Content)
	switch {
	case title == "":
		return content
	case content == "":
		return title
	default:
		return title + "\n\n" + content
	}
}

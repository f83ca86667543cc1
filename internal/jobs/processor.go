// Package jobs runs the background embedding pipeline: it polls the
// job queue, embeds documents through the configured provider, and
// persists chunk and document vectors transactionally.
package jobs

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrlange/docsearch/internal/embed"
	dserrors "github.com/andrlange/docsearch/internal/errors"
	"github.com/andrlange/docsearch/internal/store"
)

// Config tunes the job processor.
type Config struct {
	// PollInterval is how often the queue is checked for work.
	PollInterval time.Duration

	// FetchLimit caps how many jobs one poll picks up.
	FetchLimit int

	// MaxRetries is the retry budget for newly enqueued jobs.
	MaxRetries int

	// InitialDelay is the first retry backoff; each subsequent retry
	// doubles it.
	InitialDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 5 * time.Second
	}
	return c
}

// Processor owns the embedding job queue. One instance per data
// directory; pair it with a DirLock when multiple processes share the
// directory.
type Processor struct {
	store     *store.SQLiteStore
	generator *embed.Generator
	vectors   *store.VectorIndex
	config    Config

	// processing guards against overlapping poll ticks.
	processing atomic.Bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewProcessor creates a job processor. The vector index may be nil
// when no in-memory search index needs refreshing (one-shot sync runs).
func NewProcessor(st *store.SQLiteStore, generator *embed.Generator, vectors *store.VectorIndex, cfg Config) *Processor {
	return &Processor{
		store:     st,
		generator: generator,
		vectors:   vectors,
		config:    cfg.withDefaults(),
	}
}

// Start resets jobs orphaned by a previous crash and begins polling in
// a background goroutine. Calling Start on a running processor is a
// no-op.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	reset, err := p.store.ResetInProgressJobs(ctx)
	if err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return dserrors.New(dserrors.ErrCodeJobStore, "failed to reset in-progress jobs", err)
	}
	if reset > 0 {
		slog.Info("reset orphaned embedding jobs", "count", reset)
	}

	go p.run(ctx)
	return nil
}

// Stop signals the poll loop to exit and waits for the in-flight tick
// to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// IsRunning reports whether the poll loop is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Drain any backlog before the first tick fires.
	p.ProcessOnce(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce runs a single poll tick: fetch due jobs and process them
// sequentially. Returns the number of jobs that completed successfully.
// Overlapping calls are coalesced; the second caller returns 0
// immediately.
func (p *Processor) ProcessOnce(ctx context.Context) int {
	if !p.processing.CompareAndSwap(false, true) {
		return 0
	}
	defer p.processing.Store(false)

	if !p.generator.Provider().Available() {
		slog.Debug("skipping embedding poll, provider unavailable",
			"provider", p.generator.Provider().Name())
		return 0
	}

	jobs, err := p.fetchDueJobs(ctx)
	if err != nil {
		slog.Error("failed to fetch embedding jobs", "error", err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	slog.Debug("processing embedding jobs", "count", len(jobs))

	completed := 0
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return completed
		case <-p.stopCh:
			return completed
		default:
		}
		if err := p.processJob(ctx, job); err != nil {
			p.recordFailure(ctx, job, err)
			continue
		}
		completed++
	}
	return completed
}

// fetchDueJobs picks up pending jobs first, then retry-pending jobs
// whose backoff has elapsed, up to FetchLimit in total.
func (p *Processor) fetchDueJobs(ctx context.Context) ([]*store.Job, error) {
	jobs, err := p.store.FindPendingJobs(ctx, p.config.FetchLimit)
	if err != nil {
		return nil, err
	}

	remaining := p.config.FetchLimit - len(jobs)
	if remaining <= 0 {
		return jobs, nil
	}

	retries, err := p.store.FindRetryReadyJobs(ctx, time.Now().UTC(), remaining)
	if err != nil {
		return nil, err
	}
	return append(jobs, retries...), nil
}

// processJob embeds one document and persists its vectors. The chunk
// rows, the document-level row, orphan pruning and the job completion
// marker all commit in a single transaction.
func (p *Processor) processJob(ctx context.Context, job *store.Job) error {
	now := time.Now().UTC()
	job.Provider = p.generator.Provider().Name()
	job.Model = p.generator.Provider().ModelName()
	job.MarkInProgress(now)
	if err := p.store.UpdateJob(ctx, nil, job); err != nil {
		return err
	}

	doc, err := p.store.GetDocument(ctx, job.EntityType, job.EntityID)
	if err != nil {
		return err
	}
	if doc == nil {
		// Document deleted after the job was enqueued; nothing to embed.
		slog.Debug("embedding job target gone, completing",
			"kind", job.EntityType, "id", job.EntityID)
		return p.completeJob(ctx, job, nil, nil)
	}

	text := embeddableText(doc)
	if text == "" {
		return p.completeJob(ctx, job, doc, nil)
	}

	result, err := p.generator.EmbedDocument(ctx, text)
	if err != nil {
		return err
	}

	if err := p.completeJob(ctx, job, doc, result); err != nil {
		return err
	}

	if p.vectors != nil && result != nil {
		if err := p.vectors.Add(doc.Kind, doc.ID, result.Vector); err != nil {
			slog.Warn("failed to refresh vector index",
				"kind", doc.Kind, "id", doc.ID, "error", err)
		}
	}

	slog.Debug("embedded document",
		"kind", doc.Kind, "id", doc.ID, "chunks", chunkCount(result))
	return nil
}

// completeJob writes the embedding rows (when present) and marks the
// job completed in one transaction.
func (p *Processor) completeJob(ctx context.Context, job *store.Job, doc *store.Document, result *embed.DocumentEmbedding) error {
	now := time.Now().UTC()
	model := p.generator.Provider().ModelName()

	return p.store.RunInTx(ctx, func(tx *sql.Tx) error {
		if doc != nil && result != nil {
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
				if err := p.store.UpsertVector(ctx, tx, row); err != nil {
					return err
				}
			}
			// A re-embed with fewer chunks leaves stale rows behind.
			if err := p.store.DeleteChunksFrom(ctx, tx, doc.Kind, doc.ID, len(result.Chunks)); err != nil {
				return err
			}
			entity := &store.VectorRow{
				EntityType: doc.Kind,
				EntityID:   doc.ID,
				ChunkIndex: store.EntityChunkIndex,
				Content:    doc.Title,
				TokenCount: 0,
				Vector:     result.Vector,
				Model:      model,
				UpdatedAt:  now,
			}
			if err := p.store.UpsertVector(ctx, tx, entity); err != nil {
				return err
			}
		}

		job.MarkCompleted(now)
		return p.store.UpdateJob(ctx, tx, job)
	})
}

// recordFailure schedules a retry with exponential backoff, or marks
// the job permanently failed once its retry budget is spent. The
// failure marker commits outside the embedding transaction so it
// survives the rollback.
func (p *Processor) recordFailure(ctx context.Context, job *store.Job, cause error) {
	now := time.Now().UTC()

	if job.CanRetry() {
		// MarkRetryPending increments RetryCount, so the delay doubles
		// on each attempt: initial, 2x, 4x, ...
		delay := p.config.InitialDelay * (1 << job.RetryCount)
		job.MarkRetryPending(now, now.Add(delay), cause.Error())
		slog.Warn("embedding job failed, retry scheduled",
			"kind", job.EntityType, "id", job.EntityID,
			"attempt", job.RetryCount, "next_retry_in", delay, "error", cause)
	} else {
		job.MarkFailed(now, cause.Error())
		slog.Error("embedding job failed permanently",
			"kind", job.EntityType, "id", job.EntityID,
			"attempts", job.RetryCount, "error", cause)
	}

	if err := p.store.UpdateJob(ctx, nil, job); err != nil {
		slog.Error("failed to persist job failure",
			"kind", job.EntityType, "id", job.EntityID, "error", err)
	}
}

// embeddableText joins the title and body the same way the search
// index sees them.
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

func chunkCount(result *embed.DocumentEmbedding) int {
	if result == nil {
		return 0
	}
	return len(result.Chunks)
}

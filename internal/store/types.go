// Package store provides persistence for documents, embedding jobs, and
// vectors: a SQLite database as the source of truth, a bleve full-text
// index for keyword search, and an in-memory HNSW graph for vector search.
package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntityKind identifies the type of embeddable content.
type EntityKind string

const (
	// KindGuide is long-form documentation, searched via full text.
	KindGuide EntityKind = "guide"
	// KindCodeExample is a code snippet, searched via substring match.
	KindCodeExample EntityKind = "code_example"
	// KindMigrationNote is a short upgrade note, searched via substring match.
	KindMigrationNote EntityKind = "migration_note"
)

// Kinds lists all entity kinds.
func Kinds() []EntityKind {
	return []EntityKind{KindGuide, KindCodeExample, KindMigrationNote}
}

// ValidKind reports whether k is a known entity kind.
func ValidKind(k EntityKind) bool {
	switch k {
	case KindGuide, KindCodeExample, KindMigrationNote:
		return true
	}
	return false
}

// JobStatus is the embedding job lifecycle state.
type JobStatus string

const (
	// StatusPending means the job is waiting to be picked up.
	StatusPending JobStatus = "PENDING"
	// StatusInProgress means a processor currently owns the job.
	StatusInProgress JobStatus = "IN_PROGRESS"
	// StatusCompleted is terminal success.
	StatusCompleted JobStatus = "COMPLETED"
	// StatusRetryPending means the job failed and waits for its backoff
	// delay to elapse.
	StatusRetryPending JobStatus = "RETRY_PENDING"
	// StatusFailed is terminal failure after exhausting retries.
	StatusFailed JobStatus = "FAILED"
	// StatusCancelled is terminal administrative cancellation. The
	// processor never sets it.
	StatusCancelled JobStatus = "CANCELLED"
)

// JobTypeEmbedding is the only job type currently produced.
const JobTypeEmbedding = "embedding"

// Job is one embedding work item for an entity.
type Job struct {
	ID         int64
	EntityType EntityKind
	EntityID   int64
	JobType    string
	Status     JobStatus
	Priority   int
	RetryCount int
	MaxRetries int
	LastError  string

	// Provider and Model record which backend processed the job.
	Provider string
	Model    string

	// NextRetryAt is set while the job is RETRY_PENDING.
	NextRetryAt *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// MarkInProgress transitions the job to IN_PROGRESS.
func (j *Job) MarkInProgress(now time.Time) {
	j.Status = StatusInProgress
	j.StartedAt = &now
	j.UpdatedAt = now
}

// MarkCompleted transitions the job to COMPLETED and clears retry state.
func (j *Job) MarkCompleted(now time.Time) {
	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.LastError = ""
	j.NextRetryAt = nil
}

// MarkRetryPending records a failed attempt and schedules the next one.
func (j *Job) MarkRetryPending(now, nextRetryAt time.Time, errMsg string) {
	j.Status = StatusRetryPending
	j.RetryCount++
	j.LastError = errMsg
	j.NextRetryAt = &nextRetryAt
	j.UpdatedAt = now
}

// MarkFailed records the final failed attempt and transitions the job
// to terminal FAILED.
func (j *Job) MarkFailed(now time.Time, errMsg string) {
	j.Status = StatusFailed
	j.RetryCount++
	j.LastError = errMsg
	j.NextRetryAt = nil
	j.UpdatedAt = now
}

// MarkCancelled transitions the job to terminal CANCELLED.
// Administrative only; the processor never cancels jobs itself.
func (j *Job) MarkCancelled(now time.Time) {
	j.Status = StatusCancelled
	j.NextRetryAt = nil
	j.UpdatedAt = now
}

// CanRetry reports whether another attempt may be scheduled after a
// failure. The failing attempt consumes budget too: once the
// incremented count reaches MaxRetries the job fails terminally.
func (j *Job) CanRetry() bool {
	return j.RetryCount+1 < j.MaxRetries
}

// Terminal reports whether the job is in a terminal state.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// EntityChunkIndex marks the entity-level aggregate vector row,
// distinguishing it from chunk rows indexed from zero.
const EntityChunkIndex = -1

// VectorRow is one stored embedding: either the entity-level aggregate
// (ChunkIndex == EntityChunkIndex) or one chunk of the entity's text.
type VectorRow struct {
	EntityType EntityKind
	EntityID   int64
	ChunkIndex int
	Content    string
	TokenCount int
	Vector     []float32
	Model      string
	UpdatedAt  time.Time
}

// Document is a stored piece of embeddable content.
type Document struct {
	ID        int64
	Kind      EntityKind
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EmbeddingStats summarizes embedding coverage for one entity kind.
type EmbeddingStats struct {
	Kind         EntityKind
	Total        int
	WithVector   int
	ChunkVectors int
	PendingJobs  int
	FailedJobs   int
}

// KeywordResult is one keyword-search hit.
type KeywordResult struct {
	Kind  EntityKind
	ID    int64
	Score float64
}

// VectorResult is one vector-search hit.
type VectorResult struct {
	Kind  EntityKind
	ID    int64
	Score float64
}

// EntityRef serializes an entity identity as "kind:id" for index keys.
func EntityRef(kind EntityKind, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// ParseEntityRef parses a "kind:id" key produced by EntityRef.
func ParseEntityRef(ref string) (EntityKind, int64, error) {
	sep := strings.LastIndex(ref, ":")
	if sep < 1 {
		return "", 0, fmt.Errorf("malformed entity ref %q", ref)
	}
	kind := EntityKind(ref[:sep])
	if !ValidKind(kind) {
		return "", 0, fmt.Errorf("unknown entity kind in ref %q", ref)
	}
	id, err := strconv.ParseInt(ref[sep+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed entity id in ref %q: %w", ref, err)
	}
	return kind, id, nil
}

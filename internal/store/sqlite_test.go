package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDocumentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, KindGuide, "Upgrading to v2", "Step by step guide.")
	require.NoError(t, err)
	assert.Positive(t, doc.ID)

	fetched, err := s.GetDocument(ctx, KindGuide, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "Upgrading to v2", fetched.Title)

	fetched.Content = "Revised guide."
	require.NoError(t, s.UpdateDocument(ctx, fetched))

	again, err := s.GetDocument(ctx, KindGuide, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Revised guide.", again.Content)

	require.NoError(t, s.DeleteDocument(ctx, KindGuide, doc.ID))
	gone, err := s.GetDocument(ctx, KindGuide, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCreateDocumentRejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateDocument(context.Background(), EntityKind("blog_post"), "t", "c")
	assert.Error(t, err)
}

func TestListDocumentsByKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateDocument(ctx, KindCodeExample, "example", "fmt.Println")
		require.NoError(t, err)
	}
	_, err := s.CreateDocument(ctx, KindGuide, "guide", "text")
	require.NoError(t, err)

	docs, err := s.ListDocuments(ctx, KindCodeExample, 10, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestEnqueueJobDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.EnqueueJob(ctx, KindGuide, 1, 3)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, StatusPending, job.Status)

	// A second enqueue for the same entity is a no-op.
	dup, err := s.EnqueueJob(ctx, KindGuide, 1, 3)
	require.NoError(t, err)
	assert.Nil(t, dup)

	// A different entity gets its own job.
	other, err := s.EnqueueJob(ctx, KindGuide, 2, 3)
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestFindPendingJobsOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnqueueJob(ctx, KindGuide, 1, 3)
	require.NoError(t, err)
	second, err := s.EnqueueJob(ctx, KindGuide, 2, 3)
	require.NoError(t, err)

	jobs, err := s.FindPendingJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
}

func TestFindRetryReadyJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := s.EnqueueJob(ctx, KindGuide, 1, 3)
	require.NoError(t, err)

	// Elapsed backoff: ready.
	job.MarkRetryPending(now, now.Add(-time.Minute), "provider down")
	require.NoError(t, s.UpdateJob(ctx, nil, job))

	future, err := s.EnqueueJob(ctx, KindGuide, 2, 3)
	require.NoError(t, err)
	future.MarkRetryPending(now, now.Add(time.Hour), "provider down")
	require.NoError(t, s.UpdateJob(ctx, nil, future))

	ready, err := s.FindRetryReadyJobs(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, job.ID, ready[0].ID)
	assert.Equal(t, 1, ready[0].RetryCount)
	assert.Equal(t, "provider down", ready[0].LastError)
}

func TestCancelledJobsStayOutOfQueues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := s.EnqueueJob(ctx, KindGuide, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, JobTypeEmbedding, job.JobType)

	job.MarkCancelled(now)
	require.NoError(t, s.UpdateJob(ctx, nil, job))
	assert.True(t, job.Terminal())

	pending, err := s.FindPendingJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	ready, err := s.FindRetryReadyJobs(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ready)

	// A cancelled job no longer blocks a fresh enqueue.
	again, err := s.EnqueueJob(ctx, KindGuide, 1, 3)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestResetInProgressJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := s.EnqueueJob(ctx, KindGuide, 1, 3)
	require.NoError(t, err)
	job.MarkInProgress(now)
	require.NoError(t, s.UpdateJob(ctx, nil, job))

	n, err := s.ResetInProgressJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	jobs, err := s.FindPendingJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusPending, jobs[0].Status)
}

func TestJobLifecycleMarkers(t *testing.T) {
	now := time.Now().UTC()
	job := &Job{Status: StatusPending, MaxRetries: 3}

	job.MarkInProgress(now)
	assert.Equal(t, StatusInProgress, job.Status)
	require.NotNil(t, job.StartedAt)

	job.MarkRetryPending(now, now.Add(5*time.Second), "boom")
	assert.Equal(t, StatusRetryPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.CanRetry())

	// The next failure would be attempt 3 of 3, so no retry remains.
	job.RetryCount = 2
	assert.False(t, job.CanRetry())

	job.MarkFailed(now, "gave up")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	assert.Nil(t, job.NextRetryAt)

	done := &Job{Status: StatusInProgress, LastError: "old"}
	done.MarkCompleted(now)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Empty(t, done.LastError)
	require.NotNil(t, done.CompletedAt)
}

func TestVectorUpsertAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entity := &VectorRow{
		EntityType: KindGuide, EntityID: 7, ChunkIndex: EntityChunkIndex,
		Vector: []float32{0.1, 0.2, 0.3}, Model: "nomic-embed-text",
	}
	require.NoError(t, s.UpsertVector(ctx, nil, entity))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.UpsertVector(ctx, nil, &VectorRow{
			EntityType: KindGuide, EntityID: 7, ChunkIndex: i,
			Content: "chunk", TokenCount: 2, Vector: []float32{float32(i), 0, 0},
		}))
	}

	row, err := s.GetEntityVector(ctx, KindGuide, 7)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.InDelta(t, 0.2, row.Vector[1], 1e-6)

	// Re-embed produced 1 chunk: prune indexes >= 1.
	require.NoError(t, s.DeleteChunksFrom(ctx, nil, KindGuide, 7, 1))

	stats, err := s.Stats(ctx, KindGuide)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChunkVectors)
	assert.Equal(t, 1, stats.WithVector)
}

func TestAllEntityVectorsSkipsChunkRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertVector(ctx, nil, &VectorRow{
		EntityType: KindGuide, EntityID: 1, ChunkIndex: EntityChunkIndex, Vector: []float32{1, 0},
	}))
	require.NoError(t, s.UpsertVector(ctx, nil, &VectorRow{
		EntityType: KindGuide, EntityID: 1, ChunkIndex: 0, Vector: []float32{0, 1},
	}))

	var seen []*VectorRow
	require.NoError(t, s.AllEntityVectors(ctx, func(vr *VectorRow) error {
		seen = append(seen, vr)
		return nil
	}))
	require.Len(t, seen, 1)
	assert.Equal(t, EntityChunkIndex, seen[0].ChunkIndex)
}

func TestMissingEntityVectorIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateDocument(ctx, KindGuide, "a", "text")
	require.NoError(t, err)
	b, err := s.CreateDocument(ctx, KindGuide, "b", "text")
	require.NoError(t, err)

	require.NoError(t, s.UpsertVector(ctx, nil, &VectorRow{
		EntityType: KindGuide, EntityID: a.ID, ChunkIndex: EntityChunkIndex, Vector: []float32{1},
	}))

	missing, err := s.MissingEntityVectorIDs(ctx, KindGuide)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, missing)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(tx *sql.Tx) error {
		require.NoError(t, s.UpsertVector(ctx, tx, &VectorRow{
			EntityType: KindGuide, EntityID: 1, ChunkIndex: EntityChunkIndex, Vector: []float32{1},
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	row, err := s.GetEntityVector(ctx, KindGuide, 1)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestSubstringSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateDocument(ctx, KindCodeExample, "hello sample", "func HelloWorld() {}")
	require.NoError(t, err)
	_, err = s.CreateDocument(ctx, KindMigrationNote, "note", "Rename helloWorld to greet")
	require.NoError(t, err)
	_, err = s.CreateDocument(ctx, KindCodeExample, "other", "unrelated content")
	require.NoError(t, err)

	results, err := s.SubstringSearch(ctx, []EntityKind{KindCodeExample, KindMigrationNote}, "helloworld", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestVectorRoundTrip(t *testing.T) {
	original := []float32{0.5, -1.25, 3.75, 0}
	decoded := decodeVector(encodeVector(original))
	assert.Equal(t, original, decoded)
}

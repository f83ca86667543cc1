package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	dserrors "github.com/andrlange/docsearch/internal/errors"
)

// SQLiteStore is the source of truth: documents, embedding jobs, and
// stored vectors live here. Keyword and vector indexes are derived from it.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the store at path. An empty path opens
// an in-memory database for testing. WAL mode and a single-connection pool
// keep concurrent access safe without lock contention.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer prevents SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Pragmas must be set via statements; modernc.org/sqlite may ignore
	// DSN parameters.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       TEXT NOT NULL,
		title      TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_kind ON documents(kind);

	CREATE TABLE IF NOT EXISTS embedding_jobs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type   TEXT NOT NULL,
		entity_id     INTEGER NOT NULL,
		job_type      TEXT NOT NULL DEFAULT 'embedding',
		status        TEXT NOT NULL,
		priority      INTEGER NOT NULL DEFAULT 0,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		max_retries   INTEGER NOT NULL DEFAULT 3,
		last_error    TEXT NOT NULL DEFAULT '',
		provider      TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		next_retry_at TIMESTAMP,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL,
		started_at    TIMESTAMP,
		completed_at  TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON embedding_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_entity ON embedding_jobs(entity_type, entity_id);

	-- chunk_index -1 holds the entity-level aggregate vector; chunks are 0..n-1.
	CREATE TABLE IF NOT EXISTS embeddings (
		entity_type TEXT NOT NULL,
		entity_id   INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		content     TEXT NOT NULL DEFAULT '',
		token_count INTEGER NOT NULL DEFAULT 0,
		vector      BLOB NOT NULL,
		model       TEXT NOT NULL DEFAULT '',
		updated_at  TIMESTAMP NOT NULL,
		PRIMARY KEY (entity_type, entity_id, chunk_index)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RunInTx executes fn inside a transaction, committing on nil and rolling
// back on error.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to commit transaction", err)
	}
	return nil
}

// --- documents ---

// CreateDocument inserts a document and returns it with its assigned ID.
func (s *SQLiteStore) CreateDocument(ctx context.Context, kind EntityKind, title, content string) (*Document, error) {
	if !ValidKind(kind) {
		return nil, dserrors.InputError(fmt.Sprintf("unknown entity kind %q", kind), nil)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (kind, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(kind), title, content, now, now)
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to insert document", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to read insert id", err)
	}
	return &Document{ID: id, Kind: kind, Title: title, Content: content, CreatedAt: now, UpdatedAt: now}, nil
}

// GetDocument fetches a document by kind and ID. Missing documents return
// (nil, nil).
func (s *SQLiteStore) GetDocument(ctx context.Context, kind EntityKind, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, title, content, created_at, updated_at FROM documents WHERE kind = ? AND id = ?`,
		string(kind), id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to fetch document", err)
	}
	return doc, nil
}

// UpdateDocument replaces a document's title and content.
func (s *SQLiteStore) UpdateDocument(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = ?, content = ?, updated_at = ? WHERE id = ? AND kind = ?`,
		doc.Title, doc.Content, now, doc.ID, string(doc.Kind))
	if err != nil {
		return dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to update document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dserrors.InputError(fmt.Sprintf("document %s not found", EntityRef(doc.Kind, doc.ID)), nil)
	}
	doc.UpdatedAt = now
	return nil
}

// DeleteDocument removes a document along with its vectors and jobs.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, kind EntityKind, id int64) error {
	return s.RunInTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE kind = ? AND id = ?`, string(kind), id); err != nil {
			return dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to delete document", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM embeddings WHERE entity_type = ? AND entity_id = ?`, string(kind), id); err != nil {
			return dserrors.PersistenceError(dserrors.ErrCodeVectorStore, "failed to delete vectors", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM embedding_jobs WHERE entity_type = ? AND entity_id = ?`, string(kind), id); err != nil {
			return dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to delete jobs", err)
		}
		return nil
	})
}

// ListDocuments returns documents of a kind, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, kind EntityKind, limit, offset int) ([]*Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, title, content, created_at, updated_at
		 FROM documents WHERE kind = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		string(kind), limit, offset)
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to list documents", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to scan document", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// AllDocuments streams all documents of a kind in batches through fn.
// Returning false from fn stops iteration.
func (s *SQLiteStore) AllDocuments(ctx context.Context, kind EntityKind, batchSize int, fn func([]*Document) (bool, error)) error {
	if batchSize <= 0 {
		batchSize = 50
	}
	var lastID int64
	for {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, kind, title, content, created_at, updated_at
			 FROM documents WHERE kind = ? AND id > ? ORDER BY id LIMIT ?`,
			string(kind), lastID, batchSize)
		if err != nil {
			return dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to page documents", err)
		}

		var batch []*Document
		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				_ = rows.Close()
				return dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to scan document", err)
			}
			batch = append(batch, doc)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()

		if len(batch) == 0 {
			return nil
		}
		lastID = batch[len(batch)-1].ID

		cont, err := fn(batch)
		if err != nil {
			return err
		}
		if !cont || len(batch) < batchSize {
			return nil
		}
	}
}

// SubstringSearch matches documents whose title or content contains the
// query, case-insensitively. Used for kinds too short or too code-like for
// full-text scoring; hits are ranked by recency.
func (s *SQLiteStore) SubstringSearch(ctx context.Context, kinds []EntityKind, query string, limit int) ([]KeywordResult, error) {
	if len(kinds) == 0 || query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	args := make([]any, 0, len(kinds)+3)
	placeholders := ""
	for i, k := range kinds {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(k))
	}
	pattern := "%" + query + "%"
	args = append(args, pattern, pattern, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind FROM documents
		 WHERE kind IN (`+placeholders+`) AND (title LIKE ? COLLATE NOCASE OR content LIKE ? COLLATE NOCASE)
		 ORDER BY updated_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "substring search failed", err)
	}
	defer func() { _ = rows.Close() }()

	var results []KeywordResult
	rank := 0
	for rows.Next() {
		var id int64
		var kind string
		if err := rows.Scan(&id, &kind); err != nil {
			return nil, err
		}
		// Substring matches carry no relevance score; rank order stands in.
		results = append(results, KeywordResult{
			Kind:  EntityKind(kind),
			ID:    id,
			Score: 1.0 / float64(rank+1),
		})
		rank++
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*Document, error) {
	var doc Document
	var kind string
	if err := r.Scan(&doc.ID, &kind, &doc.Title, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Kind = EntityKind(kind)
	return &doc, nil
}

// --- embedding jobs ---

// EnqueueJob creates a PENDING job for an entity unless one is already
// queued or running for it.
func (s *SQLiteStore) EnqueueJob(ctx context.Context, kind EntityKind, entityID int64, maxRetries int) (*Job, error) {
	exists, err := s.ExistsActiveJob(ctx, kind, entityID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO embedding_jobs (entity_type, entity_id, job_type, status, retry_count, max_retries, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		string(kind), entityID, JobTypeEmbedding, string(StatusPending), maxRetries, now, now)
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to enqueue job", err)
	}
	id, _ := res.LastInsertId()
	return &Job{
		ID:         id,
		EntityType: kind,
		EntityID:   entityID,
		JobType:    JobTypeEmbedding,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ExistsActiveJob reports whether the entity already has a job that is
// pending, in progress, or waiting for retry.
func (s *SQLiteStore) ExistsActiveJob(ctx context.Context, kind EntityKind, entityID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embedding_jobs
		 WHERE entity_type = ? AND entity_id = ? AND status IN (?, ?, ?)`,
		string(kind), entityID,
		string(StatusPending), string(StatusInProgress), string(StatusRetryPending)).Scan(&count)
	if err != nil {
		return false, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to check active jobs", err)
	}
	return count > 0, nil
}

const jobColumns = `id, entity_type, entity_id, job_type, status, priority, retry_count, max_retries,
	last_error, provider, model, next_retry_at, created_at, updated_at, started_at, completed_at`

// FindPendingJobs returns up to limit PENDING jobs, highest priority
// first, then oldest first.
func (s *SQLiteStore) FindPendingJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM embedding_jobs WHERE status = ?
		 ORDER BY priority DESC, created_at, id LIMIT ?`,
		string(StatusPending), limit)
}

// FindRetryReadyJobs returns RETRY_PENDING jobs whose backoff delay has
// elapsed, oldest retry time first.
func (s *SQLiteStore) FindRetryReadyJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM embedding_jobs
		 WHERE status = ? AND next_retry_at <= ? ORDER BY next_retry_at, id LIMIT ?`,
		string(StatusRetryPending), now.UTC(), limit)
}

func (s *SQLiteStore) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to query jobs", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to scan job", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(r rowScanner) (*Job, error) {
	var job Job
	var entityType, status string
	var nextRetryAt, startedAt, completedAt sql.NullTime
	err := r.Scan(&job.ID, &entityType, &job.EntityID, &job.JobType, &status, &job.Priority,
		&job.RetryCount, &job.MaxRetries, &job.LastError, &job.Provider, &job.Model,
		&nextRetryAt, &job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	job.EntityType = EntityKind(entityType)
	job.Status = JobStatus(status)
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		job.NextRetryAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// UpdateJob persists the job's mutable fields. When tx is non-nil the
// update joins that transaction.
func (s *SQLiteStore) UpdateJob(ctx context.Context, tx *sql.Tx, job *Job) error {
	query := `UPDATE embedding_jobs
		SET status = ?, retry_count = ?, last_error = ?, provider = ?, model = ?,
		    next_retry_at = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?`
	args := []any{
		string(job.Status), job.RetryCount, job.LastError, job.Provider, job.Model,
		nullTime(job.NextRetryAt), job.UpdatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt), job.ID,
	}

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = s.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to update job", err)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// ResetInProgressJobs moves IN_PROGRESS jobs back to PENDING. Called at
// startup to recover work orphaned by a crash.
func (s *SQLiteStore) ResetInProgressJobs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE embedding_jobs SET status = ?, updated_at = ? WHERE status = ?`,
		string(StatusPending), time.Now().UTC(), string(StatusInProgress))
	if err != nil {
		return 0, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to reset in-progress jobs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CompleteActiveJobs marks any PENDING, IN_PROGRESS or RETRY_PENDING
// jobs for the entity as COMPLETED. Used when an out-of-band sync has
// already written the vectors the jobs were queued for.
func (s *SQLiteStore) CompleteActiveJobs(ctx context.Context, kind EntityKind, entityID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE embedding_jobs
		 SET status = ?, completed_at = ?, next_retry_at = NULL, updated_at = ?
		 WHERE entity_type = ? AND entity_id = ? AND status IN (?, ?, ?)`,
		string(StatusCompleted), now, now,
		string(kind), entityID,
		string(StatusPending), string(StatusInProgress), string(StatusRetryPending))
	if err != nil {
		return dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to complete active jobs", err)
	}
	return nil
}

// CountJobsByStatus returns job counts grouped by status.
func (s *SQLiteStore) CountJobsByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM embedding_jobs GROUP BY status`)
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to count jobs", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[JobStatus(status)] = count
	}
	return counts, rows.Err()
}

// --- vectors ---

// UpsertVector stores or replaces one vector row.
func (s *SQLiteStore) UpsertVector(ctx context.Context, tx *sql.Tx, row *VectorRow) error {
	query := `INSERT INTO embeddings (entity_type, entity_id, chunk_index, content, token_count, vector, model, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id, chunk_index) DO UPDATE SET
			content = excluded.content,
			token_count = excluded.token_count,
			vector = excluded.vector,
			model = excluded.model,
			updated_at = excluded.updated_at`
	args := []any{
		string(row.EntityType), row.EntityID, row.ChunkIndex,
		row.Content, row.TokenCount, encodeVector(row.Vector), row.Model, time.Now().UTC(),
	}

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = s.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return dserrors.PersistenceError(dserrors.ErrCodeVectorStore, "failed to upsert vector", err)
	}
	return nil
}

// DeleteChunksFrom removes chunk rows with index >= fromIndex, pruning
// leftovers when a re-embedded entity produced fewer chunks than before.
func (s *SQLiteStore) DeleteChunksFrom(ctx context.Context, tx *sql.Tx, kind EntityKind, entityID int64, fromIndex int) error {
	query := `DELETE FROM embeddings WHERE entity_type = ? AND entity_id = ? AND chunk_index >= ?`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, string(kind), entityID, fromIndex)
	} else {
		_, err = s.db.ExecContext(ctx, query, string(kind), entityID, fromIndex)
	}
	if err != nil {
		return dserrors.PersistenceError(dserrors.ErrCodeVectorStore, "failed to prune chunk vectors", err)
	}
	return nil
}

// GetEntityVector fetches the entity-level aggregate vector, or nil when
// the entity has not been embedded.
func (s *SQLiteStore) GetEntityVector(ctx context.Context, kind EntityKind, entityID int64) (*VectorRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entity_type, entity_id, chunk_index, content, token_count, vector, model, updated_at
		 FROM embeddings WHERE entity_type = ? AND entity_id = ? AND chunk_index = ?`,
		string(kind), entityID, EntityChunkIndex)
	vr, err := scanVectorRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeVectorStore, "failed to fetch vector", err)
	}
	return vr, nil
}

// AllEntityVectors streams every entity-level vector through fn, used to
// rebuild the in-memory vector index at startup.
func (s *SQLiteStore) AllEntityVectors(ctx context.Context, fn func(*VectorRow) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_type, entity_id, chunk_index, content, token_count, vector, model, updated_at
		 FROM embeddings WHERE chunk_index = ?`, EntityChunkIndex)
	if err != nil {
		return dserrors.PersistenceError(dserrors.ErrCodeVectorStore, "failed to scan vectors", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		vr, err := scanVectorRow(rows)
		if err != nil {
			return dserrors.PersistenceError(dserrors.ErrCodeVectorStore, "failed to scan vector row", err)
		}
		if err := fn(vr); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanVectorRow(r rowScanner) (*VectorRow, error) {
	var vr VectorRow
	var entityType string
	var blob []byte
	if err := r.Scan(&entityType, &vr.EntityID, &vr.ChunkIndex, &vr.Content,
		&vr.TokenCount, &blob, &vr.Model, &vr.UpdatedAt); err != nil {
		return nil, err
	}
	vr.EntityType = EntityKind(entityType)
	vr.Vector = decodeVector(blob)
	return &vr, nil
}

// MissingEntityVectorIDs returns IDs of documents of a kind that have no
// entity-level vector yet.
func (s *SQLiteStore) MissingEntityVectorIDs(ctx context.Context, kind EntityKind) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id FROM documents d
		 LEFT JOIN embeddings e
		   ON e.entity_type = d.kind AND e.entity_id = d.id AND e.chunk_index = ?
		 WHERE d.kind = ? AND e.entity_id IS NULL
		 ORDER BY d.id`, EntityChunkIndex, string(kind))
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeVectorStore, "failed to find missing vectors", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns embedding coverage for one entity kind.
func (s *SQLiteStore) Stats(ctx context.Context, kind EntityKind) (*EmbeddingStats, error) {
	stats := &EmbeddingStats{Kind: kind}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE kind = ?`, string(kind)).Scan(&stats.Total)
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to count documents", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE entity_type = ? AND chunk_index = ?`,
		string(kind), EntityChunkIndex).Scan(&stats.WithVector)
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeVectorStore, "failed to count vectors", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE entity_type = ? AND chunk_index >= 0`,
		string(kind)).Scan(&stats.ChunkVectors)
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeVectorStore, "failed to count chunk vectors", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN status IN (?, ?, ?) THEN 1 END),
			COUNT(CASE WHEN status = ? THEN 1 END)
		 FROM embedding_jobs WHERE entity_type = ?`,
		string(StatusPending), string(StatusInProgress), string(StatusRetryPending),
		string(StatusFailed), string(kind)).Scan(&stats.PendingJobs, &stats.FailedJobs)
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeJobStore, "failed to count jobs", err)
	}

	return stats, nil
}

// --- vector encoding ---

// encodeVector serializes a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, val := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 blob.
func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	dserrors "github.com/andrlange/docsearch/internal/errors"
)

// KeywordIndex wraps a bleve full-text index over guide documents. Short
// code-like kinds bypass this index and use substring search instead.
type KeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// keywordDoc is the indexed document shape. Title matches boost the score
// relative to body-only matches.
type keywordDoc struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// NewKeywordIndex opens (or creates) the keyword index at path. An empty
// path creates an in-memory index for testing.
func NewKeywordIndex(path string) (*KeywordIndex, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeKeywordIndex, "failed to open keyword index", err)
	}

	return &KeywordIndex{index: idx, path: path}, nil
}

// Index adds or replaces a document in the index.
func (k *KeywordIndex) Index(doc *Document) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return dserrors.PersistenceError(dserrors.ErrCodeKeywordIndex, "keyword index is closed", nil)
	}

	err := k.index.Index(EntityRef(doc.Kind, doc.ID), keywordDoc{
		Title:   doc.Title,
		Content: doc.Content,
	})
	if err != nil {
		return dserrors.PersistenceError(dserrors.ErrCodeKeywordIndex,
			fmt.Sprintf("failed to index %s", EntityRef(doc.Kind, doc.ID)), err)
	}
	return nil
}

// IndexBatch adds or replaces documents in one batch.
func (k *KeywordIndex) IndexBatch(docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return dserrors.PersistenceError(dserrors.ErrCodeKeywordIndex, "keyword index is closed", nil)
	}

	batch := k.index.NewBatch()
	for _, doc := range docs {
		err := batch.Index(EntityRef(doc.Kind, doc.ID), keywordDoc{
			Title:   doc.Title,
			Content: doc.Content,
		})
		if err != nil {
			return dserrors.PersistenceError(dserrors.ErrCodeKeywordIndex, "failed to batch-index document", err)
		}
	}
	if err := k.index.Batch(batch); err != nil {
		return dserrors.PersistenceError(dserrors.ErrCodeKeywordIndex, "failed to execute index batch", err)
	}
	return nil
}

// Delete removes a document from the index.
func (k *KeywordIndex) Delete(kind EntityKind, id int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return dserrors.PersistenceError(dserrors.ErrCodeKeywordIndex, "keyword index is closed", nil)
	}
	if err := k.index.Delete(EntityRef(kind, id)); err != nil {
		return dserrors.PersistenceError(dserrors.ErrCodeKeywordIndex, "failed to delete from keyword index", err)
	}
	return nil
}

// Search returns documents matching the query, best score first. Empty
// queries return no hits.
func (k *KeywordIndex) Search(ctx context.Context, queryStr string, limit int) ([]KeywordResult, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeKeywordIndex, "keyword index is closed", nil)
	}
	if strings.TrimSpace(queryStr) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeKeywordIndex, "keyword search failed", err)
	}

	results := make([]KeywordResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		kind, id, err := ParseEntityRef(hit.ID)
		if err != nil {
			continue
		}
		results = append(results, KeywordResult{Kind: kind, ID: id, Score: hit.Score})
	}
	return results, nil
}

// Count returns the number of indexed documents.
func (k *KeywordIndex) Count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return 0
	}
	n, _ := k.index.DocCount()
	return int(n)
}

// Close releases the index.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}

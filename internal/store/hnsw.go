package store

import (
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"

	dserrors "github.com/andrlange/docsearch/internal/errors"
)

// VectorIndex is an in-memory approximate-nearest-neighbor index over
// entity-level vectors, rebuilt from the SQLite store at startup.
type VectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// NewVectorIndex creates an empty vector index for the given
// dimensionality.
func NewVectorIndex(dims int) (*VectorIndex, error) {
	if dims <= 0 {
		return nil, dserrors.InputError(fmt.Sprintf("invalid vector dimensions %d", dims), nil)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &VectorIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Add inserts or replaces an entity's vector. Replacement uses lazy
// deletion: the old node stays in the graph but is orphaned from the ID
// maps, which sidesteps graph-repair issues when deleting nodes.
func (v *VectorIndex) Add(kind EntityKind, id int64, vector []float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return dserrors.PersistenceError(dserrors.ErrCodeVectorStore, "vector index is closed", nil)
	}
	if len(vector) != v.dims {
		return dserrors.New(dserrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", v.dims, len(vector)), nil)
	}

	ref := EntityRef(kind, id)
	if existingKey, exists := v.idMap[ref]; exists {
		delete(v.keyMap, existingKey)
		delete(v.idMap, ref)
	}

	key := v.nextKey
	v.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)

	v.graph.Add(hnsw.MakeNode(key, vec))
	v.idMap[ref] = key
	v.keyMap[key] = ref
	return nil
}

// Delete removes an entity's vector via lazy deletion.
func (v *VectorIndex) Delete(kind EntityKind, id int64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	ref := EntityRef(kind, id)
	if key, exists := v.idMap[ref]; exists {
		delete(v.keyMap, key)
		delete(v.idMap, ref)
	}
}

// Search returns up to k entities nearest to the query vector, filtered to
// cosine similarity >= minSimilarity and ordered best first.
func (v *VectorIndex) Search(query []float32, k int, minSimilarity float64) ([]VectorResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, dserrors.PersistenceError(dserrors.ErrCodeVectorStore, "vector index is closed", nil)
	}
	if len(query) != v.dims {
		return nil, dserrors.New(dserrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", v.dims, len(query)), nil)
	}
	if v.graph.Len() == 0 {
		return []VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for lazily deleted orphans in the graph.
	orphans := v.graph.Len() - len(v.idMap)
	nodes := v.graph.Search(normalized, k+orphans)

	results := make([]VectorResult, 0, k)
	for _, node := range nodes {
		ref, exists := v.keyMap[node.Key]
		if !exists {
			continue
		}

		// Cosine distance is 1 - similarity for unit vectors.
		distance := v.graph.Distance(normalized, node.Value)
		similarity := 1.0 - float64(distance)
		if similarity < minSimilarity {
			continue
		}

		kind, id, err := ParseEntityRef(ref)
		if err != nil {
			continue
		}
		results = append(results, VectorResult{Kind: kind, ID: id, Score: similarity})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Count returns the number of live vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return 0
	}
	return len(v.idMap)
}

// Contains reports whether an entity has a vector in the index.
func (v *VectorIndex) Contains(kind EntityKind, id int64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return false
	}
	_, exists := v.idMap[EntityRef(kind, id)]
	return exists
}

// Close releases the index.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	v.graph = nil
	return nil
}

// normalizeInPlace normalizes a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

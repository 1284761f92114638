// Package vectorindex implements the dense retrieval store: cosine
// similarity over unit vectors. The scan is exact, which keeps results
// deterministic for a given insertion order; at the corpus sizes this
// service indexes (query phrases, not documents) an approximate structure
// buys nothing.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrEmptyID     = errors.New("vectorindex: id is empty")
	ErrDimMismatch = errors.New("vectorindex: vector dimension mismatch")
)

// Hit is a search result: similarity is the cosine in [-1, 1].
type Hit struct {
	ID         string
	Similarity float64
}

// Index stores unit vectors by id.
type Index struct {
	mu   sync.RWMutex
	dim  int
	vecs map[string][]float32
	ids  []string // insertion order; keeps scans deterministic
}

// NewIndex creates an index for vectors of the given dimension.
func NewIndex(dim int) *Index {
	return &Index{
		dim:  dim,
		vecs: make(map[string][]float32),
	}
}

// Dimension returns the configured vector dimension.
func (ix *Index) Dimension() int { return ix.dim }

// Upsert stores a copy of vec under id.
func (ix *Index) Upsert(id string, vec []float32) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(vec) != ix.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimMismatch, len(vec), ix.dim)
	}

	cp := make([]float32, len(vec))
	copy(cp, vec)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.vecs[id]; !ok {
		ix.ids = append(ix.ids, id)
	}
	ix.vecs[id] = cp
	return nil
}

// Has reports whether id is indexed.
func (ix *Index) Has(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.vecs[id]
	return ok
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vecs)
}

// Search returns the k nearest vectors by cosine similarity, ordered by
// similarity descending with id ascending as tiebreak.
func (ix *Index) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vec) != ix.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimMismatch, len(vec), ix.dim)
	}
	if k <= 0 {
		k = 10
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]Hit, 0, len(ix.ids))
	for _, id := range ix.ids {
		hits = append(hits, Hit{ID: id, Similarity: dot(vec, ix.vecs[id])})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// dot is the inner product; for unit vectors this equals the cosine.
func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

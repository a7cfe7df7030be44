package rag

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/54b3r/assessrec-go/internal/catalog"
)

// FlatIndex is an exact in-memory index: every search scores every vector.
// The catalog is a few hundred items, so brute force is both exact and fast.
// Vectors are added during load, then Seal makes the index searchable and
// read-only.
type FlatIndex struct {
	// dim is the required vector length.
	dim int
	// ids and vecs are parallel, in insertion order.
	ids  []string
	vecs [][]float32
	// sealed flips once loading is complete.
	sealed atomic.Bool
}

// NewFlatIndex returns an empty index for vectors of length dim.
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// BuildFlatIndex indexes the embeddings of items in order and seals the index.
func BuildFlatIndex(items []catalog.Item) (*FlatIndex, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("rag: cannot build index from an empty catalog")
	}
	idx := NewFlatIndex(len(items[0].Embedding))
	for _, it := range items {
		if err := idx.Add(it.ID, it.Embedding); err != nil {
			return nil, err
		}
	}
	idx.Seal()
	return idx, nil
}

// Add appends a vector. The vector is unit-normalized on the way in.
func (f *FlatIndex) Add(id string, vec []float32) error {
	if f.sealed.Load() {
		return fmt.Errorf("rag: index is sealed")
	}
	if f.dim == 0 || len(vec) != f.dim {
		return fmt.Errorf("rag: vector for %q has %d dimensions, index expects %d", id, len(vec), f.dim)
	}
	f.ids = append(f.ids, id)
	f.vecs = append(f.vecs, Normalize(vec))
	return nil
}

// Seal marks loading as complete. Searches before Seal fail with
// ErrIndexUnavailable.
func (f *FlatIndex) Seal() {
	f.sealed.Store(true)
}

// Dimensions returns the vector length the index was built for.
func (f *FlatIndex) Dimensions() int {
	return f.dim
}

// Search implements VectorIndex.
func (f *FlatIndex) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if f == nil || !f.sealed.Load() {
		return nil, ErrIndexUnavailable
	}
	if len(vec) != f.dim {
		return nil, fmt.Errorf("rag: query vector has %d dimensions, index expects %d", len(vec), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := Normalize(vec)
	hits := make([]Hit, len(f.ids))
	for i, v := range f.vecs {
		hits[i] = Hit{ItemID: f.ids[i], Score: clampCosine(dot(q, v))}
	}
	// Stable sort keeps insertion order among equal scores.
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count implements VectorIndex.
func (f *FlatIndex) Count(_ context.Context) (int, error) {
	if f == nil || !f.sealed.Load() {
		return 0, ErrIndexUnavailable
	}
	return len(f.ids), nil
}

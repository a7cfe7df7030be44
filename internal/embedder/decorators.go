package embedder

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/54b3r/assessrec-go/internal/rag"
)

// normalized wraps an embedder so every returned vector has unit length.
type normalized struct {
	inner rag.Embedder
}

// Normalized returns an embedder whose vectors are divided by their own norm.
func Normalized(inner rag.Embedder) rag.Embedder {
	return &normalized{inner: inner}
}

// Embed implements rag.Embedder.
func (n *normalized) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := n.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		out[i] = rag.Normalize(v)
	}
	return out, nil
}

// Cached memoizes single-text embeddings in an LRU keyed by the exact text.
// Batch calls (ingestion) bypass the cache.
type Cached struct {
	// inner computes misses.
	inner rag.Embedder
	// cache holds recent query vectors.
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with an LRU of size entries.
func NewCached(inner rag.Embedder, size int) (*Cached, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedder: create cache: %w", err)
	}
	return &Cached{inner: inner, cache: c}, nil
}

// Embed implements rag.Embedder.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return c.inner.Embed(ctx, texts)
	}
	if v, ok := c.cache.Get(texts[0]); ok {
		return [][]float32{v}, nil
	}
	vecs, err := c.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 1 && len(vecs[0]) > 0 {
		c.cache.Add(texts[0], vecs[0])
	}
	return vecs, nil
}

// Len returns the number of cached vectors.
func (c *Cached) Len() int {
	return c.cache.Len()
}

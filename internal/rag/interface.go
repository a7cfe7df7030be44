// Package rag implements candidate generation for the recommender: embedding
// the query, nearest-neighbour search over the item vectors, and hydration of
// hits into catalog items. Concrete index backends (in-memory, Qdrant,
// pgvector) satisfy VectorIndex so the pipeline never depends on one of them.
package rag

import (
	"context"
	"errors"
	"time"

	"github.com/54b3r/assessrec-go/internal/catalog"
)

// ErrIndexUnavailable is returned when the vector index has not been loaded
// or its backend cannot be reached. No query can be served without an index.
var ErrIndexUnavailable = errors.New("rag: vector index unavailable")

// ErrEmbedding marks a failure to embed the query text.
var ErrEmbedding = errors.New("rag: embedding failed")

// Hit is one raw search result.
type Hit struct {
	// ItemID is the catalog key of the matched item.
	ItemID string
	// Score is the raw cosine similarity in [-1, 1].
	Score float32
}

// Candidate is an Item scored against one query.
type Candidate struct {
	catalog.Item
	// Score is the raw cosine similarity in [-1, 1].
	Score float32
	// Rank is the zero-based position in retrieval order.
	Rank int
}

// Embedder converts text into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TimedEmbedder is implemented by embedders that may hold a call before
// sending it. The timeout covers the embedding call only, not the wait.
type TimedEmbedder interface {
	EmbedWithin(ctx context.Context, texts []string, timeout time.Duration) ([][]float32, error)
}

// EmbedWithin calls e with a timeout that starts when the call is sent.
// A non-positive timeout leaves ctx unchanged.
func EmbedWithin(ctx context.Context, e Embedder, texts []string, timeout time.Duration) ([][]float32, error) {
	if te, ok := e.(TimedEmbedder); ok {
		return te.EmbedWithin(ctx, texts, timeout)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return e.Embed(ctx, texts)
}

// VectorIndex is nearest-neighbour search over item vectors.
// Implementations must be safe for concurrent searches and must not mutate
// state while searching.
type VectorIndex interface {
	// Search returns at most k hits ordered by descending score. Equal
	// scores keep the order in which the items were inserted.
	Search(ctx context.Context, vec []float32, k int) ([]Hit, error)

	// Count returns the number of indexed vectors.
	Count(ctx context.Context) (int, error)
}

// ItemSource resolves hit ids to catalog items. *catalog.Store satisfies it.
type ItemSource interface {
	Get(id string) (catalog.Item, error)
}

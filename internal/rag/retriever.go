package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/54b3r/assessrec-go/internal/failure"
)

// OverFetch is the multiple of topK requested from the index, leaving
// headroom for hits dropped during hydration.
const OverFetch = 3

// RetrieverConfig tunes a Retriever.
type RetrieverConfig struct {
	// EmbedTimeout bounds the query embedding call. Zero means no bound.
	EmbedTimeout time.Duration

	// Recorder observes skipped hits. Defaults to failure.NopRecorder.
	Recorder failure.Recorder
}

// Retriever turns query text into an ordered candidate list by combining an
// Embedder, a VectorIndex and the catalog.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder
	// index performs the similarity search.
	index VectorIndex
	// items hydrates hits into catalog items.
	items ItemSource
	// cfg holds timeouts and the failure recorder.
	cfg RetrieverConfig
}

// NewRetriever constructs a Retriever. All dependencies are required.
func NewRetriever(embedder Embedder, index VectorIndex, items ItemSource, cfg RetrieverConfig) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if items == nil {
		return nil, fmt.Errorf("rag: item source must not be nil")
	}
	if cfg.Recorder == nil {
		cfg.Recorder = failure.NopRecorder{}
	}
	return &Retriever{embedder: embedder, index: index, items: items, cfg: cfg}, nil
}

// Retrieve returns at most topK candidates ordered by descending raw score,
// ties kept in index order. Embedding failures are returned as
// failure.EmbeddingFailure and index failures as failure.IndexUnavailable.
// Hits without a catalog item are logged and skipped.
func (r *Retriever) Retrieve(ctx context.Context, text string, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}

	vec, err := r.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	hits, err := r.index.Search(ctx, vec, topK*OverFetch)
	if err != nil {
		kind := failure.IndexUnavailable
		failure.Report(ctx, r.cfg.Recorder, kind, err)
		return nil, failure.New(kind, fmt.Errorf("rag: vector search failed: %w", err))
	}

	cands := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		it, err := r.items.Get(h.ItemID)
		if err != nil {
			failure.Report(ctx, r.cfg.Recorder, failure.CatalogInconsistency, err,
				slog.String("item_id", h.ItemID))
			continue
		}
		cands = append(cands, Candidate{Item: it, Score: h.Score})
	}

	SortCandidates(cands)
	if len(cands) > topK {
		cands = cands[:topK]
	}
	for i := range cands {
		cands[i].Rank = i
	}
	return cands, nil
}

// embed produces the unit-normalized query vector. The embed timeout
// excludes time spent queued behind a shared throttle.
func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := EmbedWithin(ctx, r.embedder, []string{text}, r.cfg.EmbedTimeout)
	if err == nil && (len(vecs) == 0 || len(vecs[0]) == 0) {
		err = errors.New("embedder returned no vector")
	}
	if err != nil {
		failure.Report(ctx, r.cfg.Recorder, failure.EmbeddingFailure, err)
		return nil, failure.New(failure.EmbeddingFailure, fmt.Errorf("%w: %w", ErrEmbedding, err))
	}
	return Normalize(vecs[0]), nil
}

// SortCandidates orders by descending raw score; equal scores keep their
// current relative order.
func SortCandidates(cands []Candidate) {
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
}

// Package recommend wires retrieval, hint inference, domain classification
// and reranking into one call: query text in, ordered recommendations out.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/assessrec-go/internal/catalog"
	"github.com/54b3r/assessrec-go/internal/hints"
	"github.com/54b3r/assessrec-go/internal/logging"
	"github.com/54b3r/assessrec-go/internal/rag"
	"github.com/54b3r/assessrec-go/internal/rerank"
)

const (
	// DefaultMaxRecs is used when a caller passes maxRecs < 1.
	DefaultMaxRecs = 10
	// DefaultMinRecs is the floor on list length, capped by the candidate
	// count and maxRecs.
	DefaultMinRecs = 5
	// CandidateMultiplier sizes the candidate pool as maxRecs times this.
	CandidateMultiplier = 3
)

// ErrEmptyQuery is returned for blank query text.
var ErrEmptyQuery = errors.New("recommend: query text is empty")

// Retriever produces candidates in retrieval order. *rag.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, text string, topK int) ([]rag.Candidate, error)
}

// Classifier detects relevant domains and never fails. *classify.Classifier satisfies it.
type Classifier interface {
	Classify(ctx context.Context, text string) []catalog.Code
}

// HintExtractor infers soft hints and never fails. *hints.Extractor satisfies it.
type HintExtractor interface {
	Extract(ctx context.Context, text string) hints.Hints
}

// Reranker orders candidates and never fails. *rerank.Reranker satisfies it.
type Reranker interface {
	Rerank(ctx context.Context, q hints.Query, cands []rag.Candidate, minRecs, maxRecs int) []rerank.Entry
}

// Config holds the Pipeline dependencies.
type Config struct {
	// Retriever is required.
	Retriever Retriever
	// Reranker is required.
	Reranker Reranker
	// Classifier is optional; without it no coverage patch applies.
	Classifier Classifier
	// Hints is optional; without it the reranker sees no job level or duration.
	Hints HintExtractor
	// DefaultMaxRecs defaults to DefaultMaxRecs if zero.
	DefaultMaxRecs int
	// MinRecs defaults to DefaultMinRecs if zero.
	MinRecs int
	// Metrics is optional. The same value should be passed as the Recorder
	// of every stage.
	Metrics *Metrics
}

// Pipeline is the top-level recommender. It holds no per-query state and is
// safe for concurrent use.
type Pipeline struct {
	retriever      Retriever
	reranker       Reranker
	classifier     Classifier
	hints          HintExtractor
	defaultMaxRecs int
	minRecs        int
	metrics        *Metrics
}

// New constructs a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("recommend: Retriever must not be nil")
	}
	if cfg.Reranker == nil {
		return nil, fmt.Errorf("recommend: Reranker must not be nil")
	}
	p := &Pipeline{
		retriever:      cfg.Retriever,
		reranker:       cfg.Reranker,
		classifier:     cfg.Classifier,
		hints:          cfg.Hints,
		defaultMaxRecs: cfg.DefaultMaxRecs,
		minRecs:        cfg.MinRecs,
		metrics:        cfg.Metrics,
	}
	if p.defaultMaxRecs <= 0 {
		p.defaultMaxRecs = DefaultMaxRecs
	}
	if p.minRecs <= 0 {
		p.minRecs = DefaultMinRecs
	}
	return p, nil
}

// Recommend returns at most maxRecs entries sorted by descending relevance.
// Hints, classification and retrieval run concurrently; only retrieval can
// fail the call, with a *failure.Error of kind EmbeddingFailure or
// IndexUnavailable. No candidates yields an empty list and a nil error.
func (p *Pipeline) Recommend(ctx context.Context, text string, maxRecs int) ([]rerank.Entry, error) {
	start := time.Now()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	if maxRecs < 1 {
		maxRecs = p.defaultMaxRecs
	}
	log := logging.FromContext(ctx)

	var (
		h       hints.Hints
		domains []catalog.Code
		cands   []rag.Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	if p.hints != nil {
		g.Go(func() error {
			h = p.hints.Extract(gctx, text)
			return nil
		})
	}
	if p.classifier != nil {
		g.Go(func() error {
			domains = p.classifier.Classify(gctx, text)
			return nil
		})
	}
	g.Go(func() error {
		c, err := p.retriever.Retrieve(gctx, text, maxRecs*CandidateMultiplier)
		if err != nil {
			return err
		}
		cands = c
		return nil
	})
	if err := g.Wait(); err != nil {
		p.metrics.observe(outcomeError, start, 0)
		return nil, fmt.Errorf("recommend: retrieval failed: %w", err)
	}

	if len(cands) == 0 {
		log.Info("recommend: no candidates", slog.Int("max_recs", maxRecs))
		p.metrics.observe(outcomeEmpty, start, 0)
		return []rerank.Entry{}, nil
	}

	q := hints.Query{
		Text:            text,
		JobLevel:        h.JobLevel,
		MaxDuration:     h.MaxDuration,
		DetectedDomains: domains,
	}
	minRecs := min(p.minRecs, len(cands), maxRecs)
	entries := finalize(p.reranker.Rerank(ctx, q, cands, minRecs, maxRecs), maxRecs)

	log.Info("recommend: completed",
		slog.Int("candidates", len(cands)),
		slog.Int("returned", len(entries)),
		slog.Any("domains", domains),
		slog.Duration("elapsed", time.Since(start)),
	)
	p.metrics.observe(outcomeOK, start, len(entries))
	return entries, nil
}

// finalize re-asserts the output invariants: scores in [0, 1], descending
// order with stable ties, at most maxRecs entries.
func finalize(entries []rerank.Entry, maxRecs int) []rerank.Entry {
	out := make([]rerank.Entry, len(entries))
	copy(out, entries)
	for i := range out {
		out[i].RelevanceScore = rerank.Clamp01(out[i].RelevanceScore)
	}
	rerank.SortEntries(out)
	if len(out) > maxRecs {
		out = out[:maxRecs]
	}
	return out
}

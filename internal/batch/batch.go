// Package batch runs many recommendation queries on a bounded worker pool
// and scores the results against labelled relevant URLs with Recall@K.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/assessrec-go/internal/logging"
	"github.com/54b3r/assessrec-go/internal/rerank"
)

// DefaultWorkers is the pool size used when Config.Workers is zero.
const DefaultWorkers = 4

// Recommender answers one query. *recommend.Pipeline satisfies it.
type Recommender interface {
	Recommend(ctx context.Context, text string, maxRecs int) ([]rerank.Entry, error)
}

// Case is one labelled query.
type Case struct {
	Query        string   `json:"query" validate:"required"`
	RelevantURLs []string `json:"relevant_urls"`
}

// Prediction is the outcome of one query. Err is set when the query failed;
// a failed query still counts as zero recall.
type Prediction struct {
	Query           string         `json:"query"`
	Recommendations []rerank.Entry `json:"recommendations"`
	Err             string         `json:"error,omitempty"`
	ElapsedMS       int64          `json:"elapsed_ms"`
}

// URLs returns the recommended URLs in rank order.
func (p Prediction) URLs() []string {
	out := make([]string, 0, len(p.Recommendations))
	for _, e := range p.Recommendations {
		if e.URL != "" {
			out = append(out, e.URL)
		}
	}
	return out
}

// Config tunes a Runner.
type Config struct {
	// Workers bounds concurrent queries. Defaults to DefaultWorkers.
	Workers int
	// MaxRecs is passed to every query. Zero lets the recommender decide.
	MaxRecs int
}

// Runner executes cases independently. Queries share nothing but the
// read-only recommender, so order of completion does not affect results.
type Runner struct {
	rec     Recommender
	workers int
	maxRecs int
}

// NewRunner constructs a Runner.
func NewRunner(rec Recommender, cfg Config) (*Runner, error) {
	if rec == nil {
		return nil, fmt.Errorf("batch: recommender must not be nil")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runner{rec: rec, workers: workers, maxRecs: cfg.MaxRecs}, nil
}

// Run answers every case and returns predictions in input order. A failing
// query is recorded on its Prediction and does not stop the others; Run only
// returns an error when ctx ends first.
func (r *Runner) Run(ctx context.Context, cases []Case) ([]Prediction, error) {
	preds := make([]Prediction, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	log := logging.FromContext(ctx)
	for i, c := range cases {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			start := time.Now()
			entries, err := r.rec.Recommend(gctx, c.Query, r.maxRecs)
			p := Prediction{Query: c.Query, Recommendations: entries, ElapsedMS: time.Since(start).Milliseconds()}
			if err != nil {
				p.Err = err.Error()
				log.Warn("batch: query failed", slog.Int("index", i), slog.Any("error", err))
			}
			if p.Recommendations == nil {
				p.Recommendations = []rerank.Entry{}
			}
			preds[i] = p
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return preds, fmt.Errorf("batch: run interrupted: %w", err)
	}
	return preds, nil
}

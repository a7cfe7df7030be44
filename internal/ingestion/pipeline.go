// Package ingestion builds the catalog and its vector index from a scraped
// catalog export. Records are converted to items, embedded in batches,
// written to the SQLite catalog and mirrored into any configured external
// vector stores. Every store is counted afterwards so a partial build is
// reported rather than served.
// This pipeline is invoked by the `assessrec ingest` CLI command.
package ingestion

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/assessrec-go/internal/catalog"
	"github.com/54b3r/assessrec-go/internal/rag"
)

// DefaultBatchSize is the number of documents sent per embedding call.
const DefaultBatchSize = 64

// ErrCountMismatch is returned when a store holds a different number of
// entries than were ingested.
var ErrCountMismatch = errors.New("ingestion: store count mismatch")

// CatalogWriter persists the full item set. *store.SQLiteStore satisfies it.
type CatalogWriter interface {
	ReplaceAll(ctx context.Context, items []catalog.Item) error
	Count(ctx context.Context) (int, error)
}

// Sink is an external vector store that mirrors the catalog vectors.
// *rag.QdrantIndex and *rag.PgvectorIndex satisfy it.
type Sink interface {
	Upsert(ctx context.Context, items []catalog.Item) error
	Count(ctx context.Context) (int, error)
}

// NamedSink labels a Sink for progress and error messages.
type NamedSink struct {
	Name string
	Sink Sink
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// BatchSize is the number of documents per embedding call.
	// Defaults to DefaultBatchSize if zero.
	BatchSize int

	// Sinks are optional external vector stores written after the catalog.
	Sinks []NamedSink
}

// Summary describes one ingestion run.
type Summary struct {
	// Records is the number of input records.
	Records int
	// Skipped counts records with no descriptive text.
	Skipped int
	// Duplicates counts records whose id was already seen.
	Duplicates int
	// Items is the number of items written.
	Items int
	// Dimensions is the embedding size.
	Dimensions int
}

// Pipeline orchestrates the convert → embed → store → verify flow.
type Pipeline struct {
	// embedder converts document texts into vectors.
	embedder rag.Embedder

	// catalog receives the complete item set.
	catalog CatalogWriter

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, cw CatalogWriter, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if cw == nil {
		return nil, fmt.Errorf("ingestion: catalog writer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	for _, s := range cfg.Sinks {
		if s.Sink == nil {
			return nil, fmt.Errorf("ingestion: sink %q must not be nil", s.Name)
		}
	}
	return &Pipeline{embedder: embedder, catalog: cw, cfg: cfg}, nil
}

// Ingest converts, embeds, stores and verifies records. It stops at the
// first error. Progress is reported via the optional progress callback,
// which may be called from several goroutines while sinks are written.
func (p *Pipeline) Ingest(ctx context.Context, records []Record, progress func(msg string)) (Summary, error) {
	if progress == nil {
		progress = func(string) {}
	}

	items, sum := p.convert(records)
	if len(items) == 0 {
		return sum, fmt.Errorf("ingestion: no records with descriptive text")
	}
	progress(fmt.Sprintf("converted %d records into %d items (%d skipped, %d duplicates)",
		sum.Records, len(items), sum.Skipped, sum.Duplicates))

	dims, err := p.embed(ctx, items, progress)
	if err != nil {
		return sum, err
	}
	sum.Dimensions = dims

	if err := p.catalog.ReplaceAll(ctx, items); err != nil {
		return sum, fmt.Errorf("ingestion: write catalog: %w", err)
	}
	progress(fmt.Sprintf("wrote %d items to the catalog", len(items)))

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range p.cfg.Sinks {
		g.Go(func() error {
			if err := s.Sink.Upsert(gctx, items); err != nil {
				return fmt.Errorf("ingestion: upsert %s: %w", s.Name, err)
			}
			progress(fmt.Sprintf("upserted %d vectors into %s", len(items), s.Name))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	if err := p.verify(ctx, len(items)); err != nil {
		return sum, err
	}
	sum.Items = len(items)
	progress(fmt.Sprintf("verified %d items across %d stores", len(items), 1+len(p.cfg.Sinks)))
	return sum, nil
}

// convert maps records to items, dropping empty and duplicate ones while
// keeping input order.
func (p *Pipeline) convert(records []Record) ([]catalog.Item, Summary) {
	sum := Summary{Records: len(records)}
	seen := make(map[string]struct{}, len(records))
	items := make([]catalog.Item, 0, len(records))
	for _, rec := range records {
		it, ok := rec.ToItem()
		if !ok {
			sum.Skipped++
			continue
		}
		if _, dup := seen[it.ID]; dup {
			sum.Duplicates++
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)
	}
	return items, sum
}

// embed fills in item embeddings batch by batch and returns the vector size.
func (p *Pipeline) embed(ctx context.Context, items []catalog.Item, progress func(string)) (int, error) {
	dims := 0
	size := p.cfg.BatchSize
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		texts := make([]string, 0, end-start)
		for _, it := range items[start:end] {
			texts = append(texts, DocText(it))
		}

		vecs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("ingestion: embedding failed for items %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != len(texts) {
			return 0, fmt.Errorf("ingestion: embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i, v := range vecs {
			if dims == 0 {
				dims = len(v)
			}
			if len(v) == 0 || len(v) != dims {
				return 0, fmt.Errorf("ingestion: item %q has %d dimensions, want %d", items[start+i].ID, len(v), dims)
			}
			items[start+i].Embedding = rag.Normalize(v)
		}
		progress(fmt.Sprintf("embedded %d/%d items", end, len(items)))
	}
	return dims, nil
}

// verify checks that the catalog and every sink hold exactly want entries.
func (p *Pipeline) verify(ctx context.Context, want int) error {
	n, err := p.catalog.Count(ctx)
	if err != nil {
		return fmt.Errorf("ingestion: count catalog: %w", err)
	}
	if n != want {
		return fmt.Errorf("%w: catalog has %d, want %d", ErrCountMismatch, n, want)
	}
	for _, s := range p.cfg.Sinks {
		n, err := s.Sink.Count(ctx)
		if err != nil {
			return fmt.Errorf("ingestion: count %s: %w", s.Name, err)
		}
		if n != want {
			return fmt.Errorf("%w: %s has %d, want %d", ErrCountMismatch, s.Name, n, want)
		}
	}
	return nil
}

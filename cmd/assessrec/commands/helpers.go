package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/assessrec-go/internal/catalog"
	"github.com/54b3r/assessrec-go/internal/classify"
	"github.com/54b3r/assessrec-go/internal/config"
	"github.com/54b3r/assessrec-go/internal/embedder"
	"github.com/54b3r/assessrec-go/internal/hints"
	"github.com/54b3r/assessrec-go/internal/llm"
	"github.com/54b3r/assessrec-go/internal/provider"
	"github.com/54b3r/assessrec-go/internal/rag"
	"github.com/54b3r/assessrec-go/internal/recommend"
	"github.com/54b3r/assessrec-go/internal/rerank"
	"github.com/54b3r/assessrec-go/internal/store"
	"github.com/54b3r/assessrec-go/internal/throttle"
	"github.com/54b3r/assessrec-go/internal/tracing"
)

// errEmptyCatalog is returned when no ingestion has been run yet.
var errEmptyCatalog = errors.New("catalog is empty; run `assessrec ingest` first")

// stack is the long-lived object graph shared by serve, recommend and
// evaluate.
type stack struct {
	settings *config.Pipeline
	provider *provider.Config
	items    *catalog.Store
	index    rag.VectorIndex
	pipeline *recommend.Pipeline

	// qdrant and pgvector are set when that backend serves the index.
	qdrant   *rag.QdrantIndex
	pgvector *rag.PgvectorIndex

	closers []func()
}

// Close releases backend connections and flushes tracing, in reverse order
// of acquisition.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildStack loads the catalog, opens the vector index and wires every
// pipeline stage. Pipeline metrics are registered on reg. The caller must
// Close the returned stack.
func buildStack(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*stack, error) {
	settings, err := config.PipelineFromEnv()
	if err != nil {
		return nil, err
	}
	s := &stack{settings: settings}

	items, err := loadCatalog(ctx, settings)
	if err != nil {
		return nil, err
	}
	s.items, err = catalog.NewStore(items)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	log.Info("catalog loaded", slog.Int("items", s.items.Len()))

	if err := s.openIndex(ctx, items, log); err != nil {
		s.Close()
		return nil, err
	}

	if err := embedder.Validate(log); err != nil {
		s.Close()
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	s.closers = append(s.closers, tracing.Setup(tracing.ConfigFromEnv(), log))

	chatModel, provCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	s.provider = provCfg
	log.Info("provider initialised",
		slog.String("provider", string(provCfg.Backend)),
		slog.String("model", provCfg.ModelName()),
	)

	s.pipeline, err = wirePipeline(settings, emb, chatModel, s.index, s.items, recommend.NewMetrics(reg))
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// loadCatalog reads every item from the SQLite catalog.
func loadCatalog(ctx context.Context, settings *config.Pipeline) ([]catalog.Item, error) {
	path, err := catalogPath(settings)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()

	items, err := st.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errEmptyCatalog)
	}
	return items, nil
}

// catalogPath resolves the SQLite path, defaulting to ~/.assessrec/catalog.db.
func catalogPath(settings *config.Pipeline) (string, error) {
	if settings.DBPath != "" {
		return settings.DBPath, nil
	}
	return store.DefaultDBPath()
}

// openIndex builds or connects to the configured vector index.
func (s *stack) openIndex(ctx context.Context, items []catalog.Item, log *slog.Logger) error {
	dims := len(items[0].Embedding)

	switch s.settings.IndexBackend {
	case config.IndexQdrant:
		q, err := rag.NewQdrantIndex(ctx, qdrantConfig(s.settings, dims))
		if err != nil {
			return err
		}
		s.qdrant, s.index = q, q
		s.closers = append(s.closers, func() { _ = q.Close() })
	case config.IndexPgvector:
		p, err := rag.NewPgvectorIndex(ctx, pgvectorConfig(s.settings, dims))
		if err != nil {
			return err
		}
		s.pgvector, s.index = p, p
		s.closers = append(s.closers, p.Close)
	default:
		flat, err := rag.BuildFlatIndex(items)
		if err != nil {
			return err
		}
		s.index = flat
	}

	n, err := s.index.Count(ctx)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if n != len(items) {
		log.Warn("index and catalog sizes differ; re-run `assessrec ingest`",
			slog.String("backend", s.settings.IndexBackend),
			slog.Int("index", n),
			slog.Int("catalog", len(items)),
		)
	}
	log.Info("vector index ready",
		slog.String("backend", s.settings.IndexBackend),
		slog.Int("vectors", n),
		slog.Int("dimensions", dims),
	)
	return nil
}

// qdrantConfig maps the runtime settings onto a rag.QdrantConfig.
func qdrantConfig(settings *config.Pipeline, dims int) *rag.QdrantConfig {
	return &rag.QdrantConfig{
		Host:       settings.QdrantHost,
		Port:       settings.QdrantPort,
		Collection: settings.QdrantCollection,
		VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
		APIKey:     settings.QdrantAPIKey,
		UseTLS:     settings.QdrantTLS,
	}
}

// pgvectorConfig maps the runtime settings onto a rag.PgvectorConfig.
func pgvectorConfig(settings *config.Pipeline, dims int) rag.PgvectorConfig {
	return rag.PgvectorConfig{
		DSN:        settings.PgvectorDSN,
		Table:      settings.PgvectorTable,
		Dimensions: dims,
	}
}

// wirePipeline assembles the recommendation pipeline. Every model and
// embedding call draws on one shared throttle so batch evaluation and
// concurrent HTTP requests respect the same provider quota.
func wirePipeline(
	settings *config.Pipeline,
	emb rag.Embedder,
	chatModel model.BaseChatModel,
	index rag.VectorIndex,
	items rag.ItemSource,
	metrics *recommend.Metrics,
) (*recommend.Pipeline, error) {
	limiter := throttle.New(throttle.Config{
		MaxInFlight:   settings.MaxInFlight,
		RatePerSecond: settings.RatePerSecond,
		Burst:         settings.Burst,
	})

	retriever, err := rag.NewRetriever(throttle.Embedder(emb, limiter), index, items, rag.RetrieverConfig{
		EmbedTimeout: settings.EmbedTimeout,
		Recorder:     metrics,
	})
	if err != nil {
		return nil, err
	}

	chat, err := llm.NewChatCompleter(chatModel, "")
	if err != nil {
		return nil, err
	}
	completer := throttle.Completer(chat, limiter)

	classifier, err := classify.New(classify.Config{
		Completer: completer,
		Timeout:   settings.ClassifyTimeout,
		Recorder:  metrics,
	})
	if err != nil {
		return nil, err
	}
	extractor, err := hints.New(hints.Config{
		Completer: completer,
		Timeout:   settings.HintsTimeout,
		Recorder:  metrics,
	})
	if err != nil {
		return nil, err
	}
	reranker, err := rerank.New(rerank.Config{
		Completer:       completer,
		Timeout:         settings.RerankTimeout,
		MaxPromptTokens: settings.MaxPromptTokens,
		Recorder:        metrics,
	})
	if err != nil {
		return nil, err
	}

	return recommend.New(recommend.Config{
		Retriever:      retriever,
		Reranker:       reranker,
		Classifier:     classifier,
		Hints:          extractor,
		DefaultMaxRecs: settings.MaxRecs,
		MinRecs:        settings.MinRecs,
		Metrics:        metrics,
	})
}

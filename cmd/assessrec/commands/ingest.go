package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/assessrec-go/internal/config"
	"github.com/54b3r/assessrec-go/internal/embedder"
	"github.com/54b3r/assessrec-go/internal/ingestion"
	"github.com/54b3r/assessrec-go/internal/logging"
	"github.com/54b3r/assessrec-go/internal/rag"
	"github.com/54b3r/assessrec-go/internal/store"
	"github.com/54b3r/assessrec-go/internal/throttle"
)

// NewIngestCmd constructs the `assessrec ingest` command, which embeds a
// catalog export and writes the SQLite catalog plus any external vector index.
func NewIngestCmd() *cobra.Command {
	var file string
	var batchSize int
	var syncQdrant bool
	var syncPgvector bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build the assessment catalog and vector index from a JSON lines export",
		Long: `Read a JSON lines catalog export, embed every assessment and replace the
SQLite catalog (ASSESSREC_DB, default ~/.assessrec/catalog.db).

Each line is one assessment:
  {"assessment_name": "...", "url": "...", "description": "...",
   "job_levels": "...", "assessment_length": "Approximate Completion Time in minutes = 30",
   "remote_testing": "Yes", "adaptive": "No", "test_type": "Knowledge & Skills"}

When INDEX_BACKEND is qdrant or pgvector the vectors are also written there;
--sync-qdrant and --sync-pgvector force a write regardless of the backend.
After writing, every store's count is checked against the catalog.

Examples:
  assessrec ingest --file catalog.jsonl
  INDEX_BACKEND=qdrant assessrec ingest --file catalog.jsonl
  assessrec ingest --file catalog.jsonl --sync-pgvector`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if file == "" {
				return fmt.Errorf("ingest: --file is required")
			}
			settings, err := config.PipelineFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			records, err := ingestion.ReadRecords(f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			log.Info("records read", slog.String("file", file), slog.Int("records", len(records)))

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			backend := embedder.Backend()
			log.Info("embedder initialised", slog.String("provider", backend))

			limiter := throttle.New(throttle.Config{
				MaxInFlight:   settings.MaxInFlight,
				RatePerSecond: settings.RatePerSecond,
				Burst:         settings.Burst,
			})

			path, err := catalogPath(settings)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			db, err := store.Open(path)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = db.Close() }()

			dims := embedder.DefaultDimensions(backend)
			var sinks []ingestion.NamedSink

			if syncQdrant || settings.IndexBackend == config.IndexQdrant {
				q, err := rag.NewQdrantIndex(ctx, qdrantConfig(settings, dims))
				if err != nil {
					return fmt.Errorf("ingest: failed to connect to Qdrant: %w", err)
				}
				defer func() { _ = q.Close() }()
				sinks = append(sinks, ingestion.NamedSink{Name: "qdrant", Sink: q})
			}
			if syncPgvector || settings.IndexBackend == config.IndexPgvector {
				if settings.PgvectorDSN == "" {
					return fmt.Errorf("ingest: --sync-pgvector requires %s", config.EnvPgvectorDSN)
				}
				p, err := rag.NewPgvectorIndex(ctx, pgvectorConfig(settings, dims))
				if err != nil {
					return fmt.Errorf("ingest: failed to connect to pgvector: %w", err)
				}
				defer p.Close()
				sinks = append(sinks, ingestion.NamedSink{Name: "pgvector", Sink: p})
			}

			pipeline, err := ingestion.NewPipeline(throttle.Embedder(emb, limiter), db, &ingestion.Config{
				BatchSize: batchSize,
				Sinks:     sinks,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			sum, err := pipeline.Ingest(ctx, records, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete",
				slog.String("catalog", path),
				slog.Int("records", sum.Records),
				slog.Int("skipped", sum.Skipped),
				slog.Int("duplicates", sum.Duplicates),
				slog.Int("items", sum.Items),
				slog.Int("dimensions", sum.Dimensions),
				slog.Int("sinks", len(sinks)),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON lines catalog export to ingest")
	cmd.Flags().IntVar(&batchSize, "batch-size", ingestion.DefaultBatchSize, "Documents per embedding call")
	cmd.Flags().BoolVar(&syncQdrant, "sync-qdrant", false, "Also write vectors to Qdrant")
	cmd.Flags().BoolVar(&syncPgvector, "sync-pgvector", false, "Also write vectors to pgvector")

	return cmd
}

package commands

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/assessrec-go/internal/batch"
	"github.com/54b3r/assessrec-go/internal/logging"
)

// NewEvaluateCmd constructs the `assessrec evaluate` command, which runs a
// labelled query set through the pipeline and reports mean Recall@K.
func NewEvaluateCmd() *cobra.Command {
	var casesFile string
	var outFile string
	var workers int
	var maxRecs int
	var ks []int

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Measure Recall@K over a labelled query set",
		Long: `Run every labelled query through the recommendation pipeline and report
mean Recall@K.

The input is JSON lines of {"query": "...", "relevant_urls": ["..."]}.
Queries run on a bounded worker pool (EVAL_WORKERS) and share the model
throttle (LLM_MAX_IN_FLIGHT, LLM_RATE_PER_SECOND). A failed query scores
zero and does not stop the run. Predictions are written as JSON lines in
input order when --out is set.

Examples:
  assessrec evaluate --cases labelled.jsonl
  assessrec evaluate --cases labelled.jsonl --out predictions.jsonl --k 3,10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if casesFile == "" {
				return fmt.Errorf("evaluate: --cases is required")
			}
			f, err := os.Open(casesFile)
			if err != nil {
				return fmt.Errorf("evaluate: %w", err)
			}
			cases, err := batch.ReadCases(f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("evaluate: %w", err)
			}

			st, err := buildStack(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("evaluate: %w", err)
			}
			defer st.Close()

			if !cmd.Flags().Changed("workers") && st.settings.EvalWorkers > 0 {
				workers = st.settings.EvalWorkers
			}
			runner, err := batch.NewRunner(st.pipeline, batch.Config{Workers: workers, MaxRecs: maxRecs})
			if err != nil {
				return fmt.Errorf("evaluate: %w", err)
			}

			log.Info("evaluation starting", slog.Int("cases", len(cases)), slog.Int("workers", workers))
			preds, err := runner.Run(ctx, cases)
			if err != nil {
				return fmt.Errorf("evaluate: %w", err)
			}

			if outFile != "" {
				out, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("evaluate: %w", err)
				}
				if err := batch.WritePredictions(out, preds); err != nil {
					_ = out.Close()
					return fmt.Errorf("evaluate: %w", err)
				}
				if err := out.Close(); err != nil {
					return fmt.Errorf("evaluate: %w", err)
				}
			}

			rep := batch.Evaluate(cases, preds, ks)
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "queries: %d  failed: %d\n", rep.Queries, rep.Failed)
			for _, k := range slices.Sorted(maps.Keys(rep.MeanRecall)) {
				fmt.Fprintf(w, "mean recall@%-2d %.4f\n", k, rep.MeanRecall[k])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&casesFile, "cases", "c", "", "Labelled query set (JSON lines)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write predictions as JSON lines to this file")
	cmd.Flags().IntVarP(&workers, "workers", "w", batch.DefaultWorkers, "Concurrent queries")
	cmd.Flags().IntVar(&maxRecs, "max", 0, "Recommendations per query (default: ASSESSREC_MAX_RECS or 10)")
	cmd.Flags().IntSliceVar(&ks, "k", batch.DefaultKs, "Cut-offs for Recall@K")

	return cmd
}

package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/assessrec-go/internal/fetch"
	"github.com/54b3r/assessrec-go/internal/logging"
	"github.com/54b3r/assessrec-go/internal/rerank"
)

// recommendOutput mirrors the HTTP response body.
type recommendOutput struct {
	RecommendedAssessments []rerank.Entry `json:"recommended_assessments"`
}

// NewRecommendCmd constructs the `assessrec recommend` command, which answers
// a single query and prints the ranked list as JSON.
func NewRecommendCmd() *cobra.Command {
	var pageURL string
	var maxRecs int

	cmd := &cobra.Command{
		Use:   "recommend [query]",
		Short: "Recommend assessments for a hiring query or job posting URL",
		Long: `Recommend assessments for a natural language hiring query, or for the
text of a job posting fetched from --url. Prints
{"recommended_assessments": [...]} to stdout.

Examples:
  assessrec recommend "Java developer who collaborates with business teams, 40 minutes"
  assessrec recommend --max 5 "entry level sales role"
  assessrec recommend --url https://jobs.example.com/postings/123`,
		Args: func(cmd *cobra.Command, args []string) error {
			if pageURL == "" && len(args) == 0 {
				return errors.New("recommend: provide a query or --url")
			}
			if pageURL != "" && len(args) > 0 {
				return errors.New("recommend: provide either a query or --url, not both")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if maxRecs < 0 || maxRecs > 10 {
				return fmt.Errorf("recommend: --max must be between 1 and 10")
			}

			text := strings.Join(args, " ")
			if pageURL != "" {
				fetched, err := fetch.New(fetch.Config{AllowPrivate: true}).Text(ctx, pageURL)
				if err != nil {
					return fmt.Errorf("recommend: %w", err)
				}
				text = fetched
			}

			// Metrics are not exported from a one-shot command.
			st, err := buildStack(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("recommend: %w", err)
			}
			defer st.Close()

			entries, err := st.pipeline.Recommend(ctx, text, maxRecs)
			if err != nil {
				return fmt.Errorf("recommend: %w", err)
			}
			if entries == nil {
				entries = []rerank.Entry{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(recommendOutput{RecommendedAssessments: entries})
		},
	}

	cmd.Flags().StringVarP(&pageURL, "url", "u", "", "Job posting URL to fetch instead of a query")
	cmd.Flags().IntVarP(&maxRecs, "max", "n", 0, "Maximum recommendations, 1-10 (default: ASSESSREC_MAX_RECS or 10)")

	return cmd
}

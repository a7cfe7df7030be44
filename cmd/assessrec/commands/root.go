// Package commands defines all Cobra CLI commands for the assessrec binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/assessrec-go/internal/audit"
	"github.com/54b3r/assessrec-go/internal/config"
	"github.com/54b3r/assessrec-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "assessrec",
		Short: "assessrec recommends assessments for a job description or hiring query",
		Long: `assessrec retrieves catalog assessments similar to a natural language
hiring query, reranks them with an LLM and returns a short, balanced list.

Typical workflow:
  assessrec ingest --file catalog.jsonl      build the catalog and vector index
  assessrec recommend "Java developer, 40 minutes"
  assessrec serve                             expose POST /api/recommend

Model and embedding providers are selected via MODEL_PROVIDER and
EMBEDDING_PROVIDER or a YAML config file (~/.assessrec/config.yaml).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			audit.LogCommandStart(ctx, log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.assessrec/config.yaml)")

	root.AddCommand(
		NewRecommendCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewEvaluateCmd(),
		NewVersionCmd(),
	)

	return root
}

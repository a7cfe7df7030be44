package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/assessrec-go/internal/fetch"
	"github.com/54b3r/assessrec-go/internal/logging"
	"github.com/54b3r/assessrec-go/internal/provider"
	"github.com/54b3r/assessrec-go/internal/server"
)

// NewServeCmd constructs the `assessrec serve` command, which exposes the
// recommendation pipeline over HTTP.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var noURL bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assessrec HTTP server",
		Long: `Start the assessrec HTTP server.

Routes:
  GET  /api/health      liveness
  GET  /api/ready       index, vector store and LLM readiness
  POST /api/recommend   {"query": "..."} or {"url": "..."}, optional "max_recs"
  GET  /metrics         Prometheus metrics

Set ASSESSREC_API_KEY to require "Authorization: Bearer <key>" on
POST /api/recommend.

Examples:
  assessrec serve
  assessrec serve --port 9090
  INDEX_BACKEND=qdrant assessrec serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			st, err := buildStack(ctx, log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.Close()

			var fetcher *fetch.Fetcher
			if !noURL {
				fetcher = fetch.New(fetch.Config{})
			}

			srv, err := server.New(st.pipeline, fetcher, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   st.pingers(),
				APIKey:    st.settings.APIKey,
				RateLimit: st.settings.ServerRateLimit,
				RateBurst: st.settings.ServerRateBurst,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("index", st.settings.IndexBackend),
				slog.Bool("url_queries", fetcher != nil),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	cmd.Flags().BoolVar(&noURL, "no-url", false, "Reject url queries instead of fetching pages")

	return cmd
}

// pingers returns the readiness probes for the wired backends.
func (s *stack) pingers() []server.Pinger {
	ps := []server.Pinger{server.NewIndexPinger(s.index)}
	if s.qdrant != nil {
		ps = append(ps, server.NewQdrantPinger(s.qdrant.Client()))
	}
	if s.pgvector != nil {
		ps = append(ps, server.PingFunc{Label: "pgvector", Fn: s.pgvector.Ping})
	}
	ps = append(ps, server.NewLLMPinger(provider.NewHealthChecker(s.provider), string(s.provider.Backend)))
	return ps
}

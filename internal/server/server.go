// Package server implements the HTTP server that exposes the assessment
// recommender as a small JSON API with health, readiness and metrics routes.
// The server is started by the `assessrec serve` CLI command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/assessrec-go/internal/fetch"
	"github.com/54b3r/assessrec-go/internal/logging"
	"github.com/54b3r/assessrec-go/internal/recommend"
)

// New constructs a Server from the provided pipeline, optional page fetcher
// and config. A nil fetcher disables URL queries.
func New(p *recommend.Pipeline, f *fetch.Fetcher, cfg *Config) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.RecommendTimeout == 0 {
		cfg.RecommendTimeout = 90 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.RecommendTimeout + 10*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		recommender: p,
		validate:    validator.New(),
		cfg:         cfg,
		log:         cfg.Logger,
		pingers:     cfg.Pingers,
		metrics:     newServerMetrics(cfg.MetricsRegistry),
	}
	if f != nil {
		s.fetcher = f
	}

	if cfg.APIKey == "" {
		s.log.Warn("API key not set; POST /api/recommend is unauthenticated")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the mux. Health, readiness and metrics are open; recommend
// is rate limited and, when an API key is set, authenticated.
func (s *Server) routes() http.Handler {
	limits := newClientLimits(s.cfg.RateLimit, s.cfg.RateBurst)
	limits.onReject = s.metrics.rateLimitedTotal.Inc

	m := s.metrics
	mux := http.NewServeMux()
	mux.Handle("GET /api/health", m.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", m.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("POST /api/recommend", m.instrument("recommend",
		limits.wrap(requireAPIKey(s.cfg.APIKey, http.HandlerFunc(s.handleRecommend)))))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, mux)
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Handler exposes the full middleware-wrapped mux, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/assessrec-go/internal/rerank"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must exceed RecommendTimeout.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// RecommendTimeout bounds one /api/recommend request end to end,
	// including any page fetch (default: 90s).
	RecommendTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 2 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 10 if zero.
	RateBurst int
	// APIKey is the Bearer token required on POST /api/recommend.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// recommender is the interface handleRecommend calls.
// *recommend.Pipeline satisfies it; tests inject a fake.
type recommender interface {
	Recommend(ctx context.Context, text string, maxRecs int) ([]rerank.Entry, error)
}

// textFetcher turns a job-posting URL into query text.
// *fetch.Fetcher satisfies it.
type textFetcher interface {
	Text(ctx context.Context, rawURL string) (string, error)
}

// Server is the HTTP server that exposes the recommendation pipeline.
type Server struct {
	// recommender serves POST /api/recommend.
	recommender recommender
	// fetcher resolves URL queries; nil disables them.
	fetcher textFetcher
	// validate checks request DTOs.
	validate *validator.Validate
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors for this server.
	metrics *serverMetrics
}

// recommendRequest is the JSON body for POST /api/recommend. Exactly one of
// Query and URL must be set.
type recommendRequest struct {
	// Query is a natural-language query or pasted job description.
	Query string `json:"query" validate:"required_without=URL,excluded_with=URL,max=20000"`
	// URL is a job-posting page whose text is used as the query.
	URL string `json:"url" validate:"omitempty,url"`
	// MaxRecs caps the result list (default: the pipeline default).
	MaxRecs int `json:"max_recs" validate:"omitempty,min=1,max=10"`
}

// recommendResponse is the JSON body returned by POST /api/recommend.
type recommendResponse struct {
	// RecommendedAssessments is the ordered result list; never null.
	RecommendedAssessments []rerank.Entry `json:"recommended_assessments"`
}

// errorResponse is the JSON body for non-2xx /api/recommend responses.
type errorResponse struct {
	Error string `json:"error"`
}

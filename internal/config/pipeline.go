package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment keys read by PipelineFromEnv.
const (
	EnvIndexBackend     = "INDEX_BACKEND"
	EnvDBPath           = "ASSESSREC_DB"
	EnvQdrantHost       = "QDRANT_HOST"
	EnvQdrantPort       = "QDRANT_PORT"
	EnvQdrantCollection = "QDRANT_COLLECTION"
	EnvQdrantAPIKey     = "QDRANT_API_KEY"
	EnvQdrantTLS        = "QDRANT_TLS"
	EnvPgvectorDSN      = "PGVECTOR_DSN"
	EnvPgvectorTable    = "PGVECTOR_TABLE"
	EnvMaxRecs          = "ASSESSREC_MAX_RECS"
	EnvMinRecs          = "ASSESSREC_MIN_RECS"
	EnvMaxPromptTokens  = "RERANK_MAX_PROMPT_TOKENS"
	EnvEmbedTimeout     = "EMBED_TIMEOUT"
	EnvClassifyTimeout  = "CLASSIFY_TIMEOUT"
	EnvHintsTimeout     = "HINTS_TIMEOUT"
	EnvRerankTimeout    = "RERANK_TIMEOUT"
	EnvEvalWorkers      = "EVAL_WORKERS"
	EnvMaxInFlight      = "LLM_MAX_IN_FLIGHT"
	EnvRatePerSecond    = "LLM_RATE_PER_SECOND"
	EnvBurst            = "LLM_BURST"
	EnvAPIKey           = "ASSESSREC_API_KEY"
	EnvServerRateLimit  = "SERVER_RATE_LIMIT"
	EnvServerRateBurst  = "SERVER_RATE_BURST"
)

// Index backends.
const (
	IndexFlat     = "flat"
	IndexQdrant   = "qdrant"
	IndexPgvector = "pgvector"
)

// Pipeline holds the typed runtime settings shared by the CLI commands.
// Zero values mean "use the consuming package's default".
type Pipeline struct {
	// IndexBackend is one of IndexFlat, IndexQdrant, IndexPgvector.
	IndexBackend string
	// DBPath is the SQLite catalog path; empty means store.DefaultDBPath.
	DBPath string

	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	QdrantAPIKey     string
	QdrantTLS        bool

	PgvectorDSN   string
	PgvectorTable string

	MaxRecs         int
	MinRecs         int
	MaxPromptTokens int

	EmbedTimeout    time.Duration
	ClassifyTimeout time.Duration
	HintsTimeout    time.Duration
	RerankTimeout   time.Duration

	EvalWorkers int

	// MaxInFlight, RatePerSecond and Burst configure internal/throttle.
	MaxInFlight   int64
	RatePerSecond float64
	Burst         int

	APIKey          string
	ServerRateLimit float64
	ServerRateBurst int
}

// PipelineFromEnv reads Pipeline from the environment. Malformed numbers
// and durations are reported by key so a typo is not silently defaulted.
func PipelineFromEnv() (*Pipeline, error) {
	r := envReader{}
	p := &Pipeline{
		IndexBackend:     strings.ToLower(r.str(EnvIndexBackend, IndexFlat)),
		DBPath:           expandHome(r.str(EnvDBPath, "")),
		QdrantHost:       r.str(EnvQdrantHost, ""),
		QdrantPort:       r.int(EnvQdrantPort),
		QdrantCollection: r.str(EnvQdrantCollection, ""),
		QdrantAPIKey:     r.str(EnvQdrantAPIKey, ""),
		QdrantTLS:        r.bool(EnvQdrantTLS),
		PgvectorDSN:      r.str(EnvPgvectorDSN, ""),
		PgvectorTable:    r.str(EnvPgvectorTable, ""),
		MaxRecs:          r.int(EnvMaxRecs),
		MinRecs:          r.int(EnvMinRecs),
		MaxPromptTokens:  r.int(EnvMaxPromptTokens),
		EmbedTimeout:     r.duration(EnvEmbedTimeout),
		ClassifyTimeout:  r.duration(EnvClassifyTimeout),
		HintsTimeout:     r.duration(EnvHintsTimeout),
		RerankTimeout:    r.duration(EnvRerankTimeout),
		EvalWorkers:      r.int(EnvEvalWorkers),
		MaxInFlight:      int64(r.int(EnvMaxInFlight)),
		RatePerSecond:    r.float(EnvRatePerSecond),
		Burst:            r.int(EnvBurst),
		APIKey:           r.str(EnvAPIKey, ""),
		ServerRateLimit:  r.float(EnvServerRateLimit),
		ServerRateBurst:  r.int(EnvServerRateBurst),
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks cross-field constraints.
func (p *Pipeline) Validate() error {
	switch p.IndexBackend {
	case IndexFlat, IndexQdrant:
	case IndexPgvector:
		if p.PgvectorDSN == "" {
			return fmt.Errorf("config: %s is required when %s=pgvector", EnvPgvectorDSN, EnvIndexBackend)
		}
	default:
		return fmt.Errorf("config: unsupported %s %q (want flat, qdrant or pgvector)", EnvIndexBackend, p.IndexBackend)
	}
	if p.MaxRecs < 0 || p.MinRecs < 0 {
		return fmt.Errorf("config: %s and %s must not be negative", EnvMaxRecs, EnvMinRecs)
	}
	if p.MaxRecs > 0 && p.MinRecs > p.MaxRecs {
		return fmt.Errorf("config: %s (%d) exceeds %s (%d)", EnvMinRecs, p.MinRecs, EnvMaxRecs, p.MaxRecs)
	}
	return nil
}

// envReader parses env vars and keeps the first error.
type envReader struct {
	err error
}

func (r *envReader) str(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (r *envReader) int(key string) int {
	v := r.str(key, "")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return 0
	}
	return n
}

func (r *envReader) float(key string) float64 {
	v := r.str(key, "")
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, err)
		return 0
	}
	return f
}

func (r *envReader) bool(key string) bool {
	v := r.str(key, "")
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return false
	}
	return b
}

func (r *envReader) duration(key string) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return 0
	}
	return d
}

func (r *envReader) fail(key, val string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("config: invalid %s=%q: %w", key, val, err)
	}
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

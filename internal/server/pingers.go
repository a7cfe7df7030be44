package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/assessrec-go/internal/provider"
	"github.com/54b3r/assessrec-go/internal/rag"
)

// LLMPinger probes an LLM backend through its token-free health endpoint.
// It satisfies the Pinger interface and is used by GET /api/ready.
type LLMPinger struct {
	// healthCheck is the backend probe; nil means the backend has none.
	healthCheck provider.HealthChecker
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given health checker and
// backend name.
func NewLLMPinger(hc provider.HealthChecker, name string) *LLMPinger {
	return &LLMPinger{healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping runs the backend health check. Backends without a cheap endpoint
// report healthy; the reranker and classifier fall back on their own when
// the model is down, so the service stays ready.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck == nil {
		return nil
	}
	if err := p.healthCheck.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// errIndexEmpty is reported when the index holds no vectors.
var errIndexEmpty = errors.New("index is empty; run `assessrec ingest`")

// IndexPinger reports ready only when the vector index holds vectors.
type IndexPinger struct {
	index rag.VectorIndex
}

// NewIndexPinger constructs an IndexPinger for idx.
func NewIndexPinger(idx rag.VectorIndex) *IndexPinger {
	return &IndexPinger{index: idx}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return "index" }

// Ping counts the indexed vectors.
func (p *IndexPinger) Ping(ctx context.Context) error {
	n, err := p.index.Count(ctx)
	if err != nil {
		return fmt.Errorf("count failed: %w", err)
	}
	if n == 0 {
		return errIndexEmpty
	}
	return nil
}

// PingFunc adapts a plain probe function, such as (*rag.PgvectorIndex).Ping,
// into a Pinger.
type PingFunc struct {
	// Label is returned by Name.
	Label string
	// Fn is the probe.
	Fn func(ctx context.Context) error
}

// Name returns Label.
func (p PingFunc) Name() string { return p.Label }

// Ping calls Fn.
func (p PingFunc) Ping(ctx context.Context) error { return p.Fn(ctx) }

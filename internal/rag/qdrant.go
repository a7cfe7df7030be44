package rag

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/assessrec-go/internal/catalog"
)

// Payload keys stored alongside every point.
const (
	payloadItemID  = "item_id"
	payloadOrdinal = "ordinal"
)

// QdrantConfig holds connection parameters for a Qdrant collection.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name (default: assessments).
	Collection string

	// VectorSize is the embedding dimensionality of the collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex is a VectorIndex backed by a Qdrant collection. Each point
// carries the catalog id and its insertion ordinal so equal scores can be
// ordered the same way the in-memory index orders them.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "assessments"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the collection with cosine distance if missing.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}
	if q.cfg.VectorSize == 0 {
		return fmt.Errorf("qdrant: collection %q does not exist: %w", q.cfg.Collection, ErrIndexUnavailable)
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}
	return nil
}

// PointID derives a stable point UUID from a catalog id so re-ingesting the
// same catalog overwrites points instead of duplicating them.
func PointID(itemID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("assessrec:"+itemID)).String()
}

// Upsert replaces the collection with the embeddings of items, recording
// their position in the slice as the insertion ordinal. The collection is
// recreated so points for items no longer in the catalog do not linger.
func (q *QdrantIndex) Upsert(ctx context.Context, items []catalog.Item) error {
	if len(items) > 0 {
		q.cfg.VectorSize = uint64(len(items[0].Embedding))
	}
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", q.cfg.Collection, err)
		}
	}
	if err := q.ensureCollection(ctx); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(items))
	for i, it := range items {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(it.ID)),
			Vectors: qdrant.NewVectors(Normalize(it.Embedding)...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadItemID:  it.ID,
				payloadOrdinal: int64(i),
				"name":         it.Name,
				"url":          it.URL,
			}),
		})
	}

	wait := true
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// qdrantHit is a hit plus its ordinal for tie-breaking.
type qdrantHit struct {
	Hit
	ordinal int64
}

// tieSlack is how many extra points Search requests beyond k. Qdrant does
// not order equal scores by ordinal, so an earlier item tied at the cutoff
// would otherwise be lost.
const tieSlack = 8

// Search implements VectorIndex.
func (q *QdrantIndex) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	limit := uint64(k + tieSlack) //nolint:gosec // k is positive
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(Normalize(vec)...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w: %w", ErrIndexUnavailable, err)
	}

	hits := make([]qdrantHit, 0, len(results))
	for _, r := range results {
		h := qdrantHit{Hit: Hit{Score: clampCosine(r.Score)}}
		if p := r.Payload; p != nil {
			if v, ok := p[payloadItemID]; ok {
				h.ItemID = v.GetStringValue()
			}
			if v, ok := p[payloadOrdinal]; ok {
				h.ordinal = v.GetIntegerValue()
			}
		}
		if h.ItemID == "" {
			continue
		}
		hits = append(hits, h)
	}

	return rankHits(hits, k), nil
}

// rankHits orders hits by descending score then ascending ordinal and keeps
// the first k.
func rankHits(hits []qdrantHit, k int) []Hit {
	slices.SortStableFunc(hits, func(a, b qdrantHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ordinal, b.ordinal)
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = h.Hit
	}
	return out
}

// Count implements VectorIndex.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w: %w", ErrIndexUnavailable, err)
	}
	return int(n), nil
}

// Client exposes the gRPC client for readiness probes.
func (q *QdrantIndex) Client() *qdrant.Client {
	return q.client
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

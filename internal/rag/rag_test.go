package rag

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/54b3r/assessrec-go/internal/catalog"
	"github.com/54b3r/assessrec-go/internal/failure"
)

// fakeEmbedder returns a fixed vector or error.
type fakeEmbedder struct {
	// vec is returned for every input text.
	vec []float32
	// err, when non-nil, is returned instead.
	err error
	// calls counts Embed invocations.
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

// fakeIndex returns canned hits.
type fakeIndex struct {
	// hits is returned truncated to k.
	hits []Hit
	// err, when non-nil, is returned instead.
	err error
	// lastK records the k passed to Search.
	lastK int
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, k int) ([]Hit, error) {
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) Count(context.Context) (int, error) { return len(f.hits), nil }

func mustStore(t *testing.T, items ...catalog.Item) *catalog.Store {
	t.Helper()
	s, err := catalog.NewStore(items)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	got := Normalize([]float32{3, 4})
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("Normalize([3,4]) = %v", got)
	}
	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector should stay zero, got %v", zero)
	}
}

func TestFlatIndex_SearchOrderAndTies(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex(2)
	for _, add := range []struct {
		id  string
		vec []float32
	}{
		{"a", []float32{0, 1}},
		{"b", []float32{1, 0}},
		{"c", []float32{2, 0}}, // same direction as b after normalization
		{"d", []float32{-1, 0}},
	} {
		if err := idx.Add(add.id, add.vec); err != nil {
			t.Fatalf("Add(%s): %v", add.id, err)
		}
	}
	idx.Seal()

	hits, err := idx.Search(context.Background(), []float32{5, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	wantIDs := []string{"b", "c", "a"}
	if len(hits) != len(wantIDs) {
		t.Fatalf("want %d hits, got %d", len(wantIDs), len(hits))
	}
	for i, id := range wantIDs {
		if hits[i].ItemID != id {
			t.Errorf("hit[%d] = %s, want %s", i, hits[i].ItemID, id)
		}
	}
	if hits[0].Score != 1 || hits[1].Score != 1 {
		t.Errorf("tied scores should both be 1, got %v %v", hits[0].Score, hits[1].Score)
	}

	// Searching again yields the same answer; search does not mutate.
	again, _ := idx.Search(context.Background(), []float32{5, 0}, 3)
	for i := range hits {
		if again[i] != hits[i] {
			t.Errorf("second search differs at %d: %+v vs %+v", i, again[i], hits[i])
		}
	}
}

func TestFlatIndex_Unavailable(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex(2)
	_ = idx.Add("a", []float32{1, 0})
	if _, err := idx.Search(context.Background(), []float32{1, 0}, 1); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("unsealed search: want ErrIndexUnavailable, got %v", err)
	}
	var nilIdx *FlatIndex
	if _, err := nilIdx.Search(context.Background(), []float32{1, 0}, 1); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("nil index: want ErrIndexUnavailable, got %v", err)
	}
	if _, err := nilIdx.Count(context.Background()); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("nil count: want ErrIndexUnavailable, got %v", err)
	}
}

func TestFlatIndex_AddValidation(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex(2)
	if err := idx.Add("a", []float32{1, 2, 3}); err == nil {
		t.Error("expected dimension mismatch error")
	}
	idx.Seal()
	if err := idx.Add("b", []float32{1, 2}); err == nil {
		t.Error("expected error adding to sealed index")
	}
}

func TestBuildFlatIndex(t *testing.T) {
	t.Parallel()

	if _, err := BuildFlatIndex(nil); err == nil {
		t.Error("expected error for empty catalog")
	}
	idx, err := BuildFlatIndex([]catalog.Item{
		{ID: "x", Embedding: []float32{1, 0}},
		{ID: "y", Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("BuildFlatIndex: %v", err)
	}
	n, err := idx.Count(context.Background())
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestRetriever_OverFetchHydrateTruncate(t *testing.T) {
	t.Parallel()

	store := mustStore(t,
		catalog.Item{ID: "a", Name: "A"},
		catalog.Item{ID: "b", Name: "B"},
		catalog.Item{ID: "c", Name: "C"},
	)
	idx := &fakeIndex{hits: []Hit{
		{ItemID: "a", Score: 0.9},
		{ItemID: "ghost", Score: 0.8},
		{ItemID: "b", Score: 0.7},
		{ItemID: "c", Score: 0.7},
	}}
	r, err := NewRetriever(&fakeEmbedder{vec: []float32{1, 0}}, idx, store, RetrieverConfig{})
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	cands, err := r.Retrieve(context.Background(), "java developer", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if idx.lastK != 2*OverFetch {
		t.Errorf("search k = %d, want %d", idx.lastK, 2*OverFetch)
	}
	if len(cands) != 2 {
		t.Fatalf("want 2 candidates, got %d", len(cands))
	}
	if cands[0].ID != "a" || cands[1].ID != "b" {
		t.Errorf("order = %s, %s; want a, b", cands[0].ID, cands[1].ID)
	}
	if cands[0].Rank != 0 || cands[1].Rank != 1 {
		t.Errorf("ranks = %d, %d", cands[0].Rank, cands[1].Rank)
	}
}

func TestRetriever_EmbeddingFailure(t *testing.T) {
	t.Parallel()

	r, _ := NewRetriever(&fakeEmbedder{err: errors.New("503")}, &fakeIndex{}, mustStore(t), RetrieverConfig{})
	_, err := r.Retrieve(context.Background(), "q", 5)
	if !errors.Is(err, ErrEmbedding) {
		t.Fatalf("want ErrEmbedding, got %v", err)
	}
	if kind, _ := failure.KindOf(err); kind != failure.EmbeddingFailure {
		t.Errorf("kind = %q", kind)
	}

	empty, _ := NewRetriever(&fakeEmbedder{vec: nil}, &fakeIndex{}, mustStore(t), RetrieverConfig{})
	if _, err := empty.Retrieve(context.Background(), "q", 5); !errors.Is(err, ErrEmbedding) {
		t.Errorf("empty vector: want ErrEmbedding, got %v", err)
	}
}

func TestRetriever_IndexUnavailable(t *testing.T) {
	t.Parallel()

	r, _ := NewRetriever(&fakeEmbedder{vec: []float32{1}}, &fakeIndex{err: ErrIndexUnavailable}, mustStore(t), RetrieverConfig{})
	_, err := r.Retrieve(context.Background(), "q", 5)
	if !errors.Is(err, ErrIndexUnavailable) {
		t.Fatalf("want ErrIndexUnavailable, got %v", err)
	}
	if kind, _ := failure.KindOf(err); kind != failure.IndexUnavailable {
		t.Errorf("kind = %q", kind)
	}
}

func TestRetriever_ZeroTopK(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{vec: []float32{1}}
	r, _ := NewRetriever(emb, &fakeIndex{}, mustStore(t), RetrieverConfig{})
	cands, err := r.Retrieve(context.Background(), "q", 0)
	if err != nil || cands != nil {
		t.Errorf("want nil, nil; got %v, %v", cands, err)
	}
	if emb.calls != 0 {
		t.Error("embedder should not be called for topK=0")
	}
}

func TestNewRetriever_RequiresDeps(t *testing.T) {
	t.Parallel()

	if _, err := NewRetriever(nil, &fakeIndex{}, mustStore(t), RetrieverConfig{}); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewRetriever(&fakeEmbedder{}, nil, mustStore(t), RetrieverConfig{}); err == nil {
		t.Error("expected error for nil index")
	}
	if _, err := NewRetriever(&fakeEmbedder{}, &fakeIndex{}, nil, RetrieverConfig{}); err == nil {
		t.Error("expected error for nil item source")
	}
}

func TestPointID_Stable(t *testing.T) {
	t.Parallel()
	if PointID("java-8") != PointID("java-8") {
		t.Error("PointID must be deterministic")
	}
	if PointID("java-8") == PointID("java-11") {
		t.Error("PointID must differ per item")
	}
}

func TestRankHits_TieAtCutoffKeepsEarlierItem(t *testing.T) {
	t.Parallel()

	// Qdrant returned the later-inserted "late" ahead of "early" at equal score.
	hits := []qdrantHit{
		{Hit: Hit{ItemID: "top", Score: 0.9}, ordinal: 5},
		{Hit: Hit{ItemID: "late", Score: 0.7}, ordinal: 9},
		{Hit: Hit{ItemID: "early", Score: 0.7}, ordinal: 2},
		{Hit: Hit{ItemID: "low", Score: 0.1}, ordinal: 0},
	}
	got := rankHits(hits, 2)

	want := []string{"top", "early"}
	if len(got) != len(want) {
		t.Fatalf("got %d hits, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ItemID != id {
			t.Errorf("hit %d = %q, want %q", i, got[i].ItemID, id)
		}
	}
}

func TestRankHits_FewerThanK(t *testing.T) {
	t.Parallel()

	got := rankHits([]qdrantHit{{Hit: Hit{ItemID: "only", Score: 0.5}}}, 10)
	if len(got) != 1 || got[0].ItemID != "only" {
		t.Errorf("rankHits = %+v", got)
	}
}

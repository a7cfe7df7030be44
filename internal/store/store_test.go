package store

import (
	"context"
	"slices"
	"testing"

	"github.com/54b3r/assessrec-go/internal/catalog"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intPtr(v int) *int { return &v }

func Test_Store_ReplaceAndLoad(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	items := []catalog.Item{
		{
			ID: "java-8", Name: "Java 8 (New)", URL: "https://example.com/java-8",
			Codes: []catalog.Code{catalog.CodeKnowledge}, DurationMinutes: intPtr(18),
			JobLevels: "Mid-Professional", RemoteSupport: true, Description: "Java",
			Embedding: []float32{0.6, 0.8},
		},
		{
			ID: "opq", Name: "OPQ32r", URL: "https://example.com/opq",
			Codes: []catalog.Code{catalog.CodePersonality}, AdaptiveSupport: true,
			Embedding: []float32{1, 0},
		},
	}
	if err := s.ReplaceAll(ctx, items); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 items, got %d", len(got))
	}
	if got[0].ID != "java-8" || got[1].ID != "opq" {
		t.Errorf("order not preserved: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].DurationMinutes == nil || *got[0].DurationMinutes != 18 {
		t.Errorf("duration: got %v", got[0].DurationMinutes)
	}
	if got[1].DurationMinutes != nil {
		t.Errorf("duration should be nil, got %d", *got[1].DurationMinutes)
	}
	if !slices.Equal(got[0].Embedding, []float32{0.6, 0.8}) {
		t.Errorf("embedding round trip: %v", got[0].Embedding)
	}
	if !got[0].RemoteSupport || !got[1].AdaptiveSupport {
		t.Error("support flags lost")
	}
	if !slices.Equal(got[1].Codes, []catalog.Code{catalog.CodePersonality}) {
		t.Errorf("codes: %v", got[1].Codes)
	}
}

func Test_Store_ReplaceAllDropsPrevious(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	first := []catalog.Item{{ID: "a", Name: "A", Embedding: []float32{1}}, {ID: "b", Name: "B", Embedding: []float32{1}}}
	if err := s.ReplaceAll(ctx, first); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.ReplaceAll(ctx, first[:1]); err != nil {
		t.Fatalf("replace: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("want 1 item after replace, got %d", n)
	}
}

func Test_Store_DuplicateIDRollsBack(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceAll(ctx, []catalog.Item{{ID: "keep", Name: "K", Embedding: []float32{1}}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	dup := []catalog.Item{{ID: "x", Name: "X"}, {ID: "x", Name: "X"}}
	if err := s.ReplaceAll(ctx, dup); err == nil {
		t.Fatal("expected unique constraint error")
	}
	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("previous catalog should survive a failed replace, got %+v", got)
	}
}

func TestDecodeVector_BadLength(t *testing.T) {
	t.Parallel()
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

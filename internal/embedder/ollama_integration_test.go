//go:build integration

package embedder

import (
	"context"
	"math"
	"os"
	"testing"
	"time"
)

// TestOllamaEmbedder_Integration embeds a query and two catalog documents
// against a live Ollama and checks the vectors are unit length and that the
// query lands nearer the matching document.
//
//	ollama pull nomic-embed-text
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// OLLAMA_HOST and EMBEDDING_MODEL override the defaults.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = defaultOllamaModel
	}

	emb := Normalized(NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	texts := []string{
		"Hiring a Java developer who writes Spring services",
		"Description: Multiple-choice test of core Java programming, collections and streams.\nSuitable Job Levels: Mid-Professional",
		"Description: Questionnaire describing preferred behaviours and working styles.\nSuitable Job Levels: Manager",
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed: %v (is ollama running with %q pulled?)", err, model)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}

	for i, v := range vecs {
		if n := norm(v); math.Abs(n-1) > 1e-4 {
			t.Errorf("vector %d has norm %.6f, want 1", i, n)
		}
	}

	java, personality := dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2])
	t.Logf("model=%s dim=%d cos(java)=%.3f cos(personality)=%.3f", model, len(vecs[0]), java, personality)
	if java <= personality {
		t.Errorf("query should be closer to the Java test: %.3f <= %.3f", java, personality)
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 { return math.Sqrt(dot(v, v)) }

package ingestion

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/assessrec-go/internal/catalog"
)

// fakeEmbedder returns a vector derived from the text length.
type fakeEmbedder struct {
	mu      sync.Mutex
	batches []int
	dims    int
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, len(texts))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dims)
		v[0] = float32(len(t))
		v[1] = 1
		out[i] = v
	}
	return out, nil
}

// memWriter is an in-memory CatalogWriter.
type memWriter struct {
	items    []catalog.Item
	countAdj int
	err      error
}

func (m *memWriter) ReplaceAll(_ context.Context, items []catalog.Item) error {
	if m.err != nil {
		return m.err
	}
	m.items = slices.Clone(items)
	return nil
}

func (m *memWriter) Count(_ context.Context) (int, error) {
	return len(m.items) + m.countAdj, nil
}

// memSink is an in-memory Sink.
type memSink struct {
	mu    sync.Mutex
	items []catalog.Item
	err   error
}

func (m *memSink) Upsert(_ context.Context, items []catalog.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items = slices.Clone(items)
	return nil
}

func (m *memSink) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

func testRecords() []Record {
	return []Record{
		{Name: "Java 8", URL: "https://x.test/catalog/view/java-8/", Description: "Java knowledge test", TestType: "K", Length: "30 minutes", RemoteTesting: true},
		{Name: "OPQ", URL: "https://x.test/catalog/view/opq/", FactSheetText: "Personality questionnaire", TestType: "P, K"},
		{Name: "Empty", URL: "https://x.test/catalog/view/empty/"},
		{Name: "Java 8 again", URL: "https://x.test/catalog/view/java-8", Description: "dup"},
	}
}

func TestPipeline_Ingest(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4}
	w := &memWriter{}
	sink := &memSink{}
	p, err := NewPipeline(emb, w, &Config{BatchSize: 1, Sinks: []NamedSink{{Name: "mem", Sink: sink}}})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	var mu sync.Mutex
	var msgs []string
	sum, err := p.Ingest(context.Background(), testRecords(), func(m string) {
		mu.Lock()
		msgs = append(msgs, m)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	want := Summary{Records: 4, Skipped: 1, Duplicates: 1, Items: 2, Dimensions: 4}
	if sum != want {
		t.Errorf("summary = %+v, want %+v", sum, want)
	}
	if !slices.Equal(emb.batches, []int{1, 1}) {
		t.Errorf("batches = %v, want [1 1]", emb.batches)
	}

	if len(w.items) != 2 || w.items[0].ID != "java-8" || w.items[1].ID != "opq" {
		t.Fatalf("catalog items = %+v", w.items)
	}
	opq := w.items[1]
	if opq.Description != "Personality questionnaire" {
		t.Errorf("fact sheet fallback not used: %q", opq.Description)
	}
	if !slices.Equal(opq.Codes, []catalog.Code{catalog.CodeKnowledge, catalog.CodePersonality}) {
		t.Errorf("codes = %v", opq.Codes)
	}
	java := w.items[0]
	if java.DurationMinutes == nil || *java.DurationMinutes != 30 || !java.RemoteSupport {
		t.Errorf("java item = %+v", java)
	}

	var norm float64
	for _, f := range java.Embedding {
		norm += float64(f) * float64(f)
	}
	if norm < 0.999 || norm > 1.001 {
		t.Errorf("embedding not unit length: %v", norm)
	}
	if len(sink.items) != 2 {
		t.Errorf("sink got %d items, want 2", len(sink.items))
	}
	if len(msgs) == 0 || !strings.HasPrefix(msgs[len(msgs)-1], "verified 2 items") {
		t.Errorf("progress = %v", msgs)
	}
}

func TestPipeline_Ingest_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name    string
		emb     *fakeEmbedder
		writer  *memWriter
		sink    *memSink
		records []Record
		wantErr error
		wantMsg string
	}{
		{
			name:    "no usable records",
			emb:     &fakeEmbedder{dims: 2},
			writer:  &memWriter{},
			records: []Record{{Name: "x", URL: "https://x.test/a"}},
			wantMsg: "no records",
		},
		{
			name:    "embedder failure",
			emb:     &fakeEmbedder{dims: 2, err: boom},
			writer:  &memWriter{},
			records: testRecords(),
			wantErr: boom,
		},
		{
			name:    "catalog write failure",
			emb:     &fakeEmbedder{dims: 2},
			writer:  &memWriter{err: boom},
			records: testRecords(),
			wantErr: boom,
		},
		{
			name:    "sink failure",
			emb:     &fakeEmbedder{dims: 2},
			writer:  &memWriter{},
			sink:    &memSink{err: boom},
			records: testRecords(),
			wantErr: boom,
		},
		{
			name:    "count mismatch",
			emb:     &fakeEmbedder{dims: 2},
			writer:  &memWriter{countAdj: -1},
			records: testRecords(),
			wantErr: ErrCountMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			if tt.sink != nil {
				cfg.Sinks = []NamedSink{{Name: "mem", Sink: tt.sink}}
			}
			p, err := NewPipeline(tt.emb, tt.writer, cfg)
			if err != nil {
				t.Fatalf("NewPipeline: %v", err)
			}
			_, err = p.Ingest(context.Background(), tt.records, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewPipeline(nil, &memWriter{}, nil); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewPipeline(&fakeEmbedder{dims: 2}, nil, nil); err == nil {
		t.Error("expected error for nil writer")
	}
	if _, err := NewPipeline(&fakeEmbedder{dims: 2}, &memWriter{}, &Config{Sinks: []NamedSink{{Name: "nil"}}}); err == nil {
		t.Error("expected error for nil sink")
	}
	p, err := NewPipeline(&fakeEmbedder{dims: 2}, &memWriter{}, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if p.cfg.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", p.cfg.BatchSize, DefaultBatchSize)
	}
}

func TestReadRecords(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		`{"assessment_name":"Java 8","url":"https://x.test/view/java-8/","remote_testing":"Yes","adaptive":"No","test_type":"K"}`,
		``,
		`{"assessment_name":"OPQ","url":"https://x.test/view/opq/","remote_testing":true,"adaptive":null}`,
	}, "\n")
	recs, err := ReadRecords(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if !recs[0].RemoteTesting || recs[0].Adaptive {
		t.Errorf("yes/no not decoded: %+v", recs[0])
	}
	if !recs[1].RemoteTesting || recs[1].Adaptive {
		t.Errorf("bool/null not decoded: %+v", recs[1])
	}
}

func TestReadRecords_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"missing name", `{"url":"https://x.test/a"}`},
		{"bad url", `{"assessment_name":"x","url":"not a url"}`},
		{"bad bool", `{"assessment_name":"x","url":"https://x.test/a","adaptive":"maybe"}`},
		{"malformed", `{"assessment_name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ReadRecords(strings.NewReader(tt.in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDocText(t *testing.T) {
	t.Parallel()

	got := DocText(catalog.Item{Description: "Java test", JobLevels: "Mid-Professional"})
	want := "Description: Java test\nSuitable Job Levels: Mid-Professional\n" +
		"This assessment measures key skills, behaviors, and knowledge areas relevant to its category."
	if got != want {
		t.Errorf("DocText = %q, want %q", got, want)
	}
}

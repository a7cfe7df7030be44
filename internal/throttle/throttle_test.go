package throttle

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/54b3r/assessrec-go/internal/catalog"
	"github.com/54b3r/assessrec-go/internal/classify"
	"github.com/54b3r/assessrec-go/internal/llm"
	"github.com/54b3r/assessrec-go/internal/rag"
)

func TestLimiter_CapsInFlight(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxInFlight: 2})
	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), func(context.Context) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak.Load() > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak.Load())
	}
}

func TestLimiter_DelaysNotDrops(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxInFlight: 1, RatePerSecond: 200})
	var ran atomic.Int32
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func(context.Context) error {
				ran.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()
	if ran.Load() != 5 {
		t.Errorf("ran %d calls, want 5", ran.Load())
	}
}

func TestLimiter_ContextCancelled(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxInFlight: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, func(context.Context) error { return nil })
	close(release)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestCompleter_PassesThrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c := Completer(llm.CompleterFunc(func(_ context.Context, p string) (string, error) {
		if p == "fail" {
			return "", boom
		}
		return "echo:" + p, nil
	}), New(Config{}))

	out, err := c.Complete(context.Background(), "hi")
	if err != nil || out != "echo:hi" {
		t.Errorf("Complete = %q, %v", out, err)
	}
	if _, err := c.Complete(context.Background(), "fail"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

// staticEmbedder returns one fixed vector per text.
type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestEmbedder_PassesThrough(t *testing.T) {
	t.Parallel()

	vecs, err := Embedder(staticEmbedder{}, New(Config{MaxInFlight: 1})).Embed(context.Background(), []string{"a", "b"})
	if err != nil || len(vecs) != 2 {
		t.Errorf("Embed = %v, %v", vecs, err)
	}
}

func TestLimiter_DoWithinExcludesQueueTime(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxInFlight: 1})
	const calls = 3
	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = l.DoWithin(context.Background(), 60*time.Millisecond, func(ctx context.Context) error {
				select {
				case <-time.After(30 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: %v", i, err)
		}
	}
}

func TestLimiter_DoWithinStillBoundsCall(t *testing.T) {
	t.Parallel()

	err := New(Config{}).DoWithin(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

// slowCall blocks for d or until ctx ends.
func slowCall(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// slowEmbedder answers after a fixed delay.
type slowEmbedder struct{ delay time.Duration }

func (e slowEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := slowCall(ctx, e.delay); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

// Stages queued behind a single slot must each get their full timeout once
// admitted; waiting for the slot only delays them.
func TestStages_QueuedCallsAreNotDropped(t *testing.T) {
	t.Parallel()

	const (
		callTime  = 80 * time.Millisecond
		stageTime = 120 * time.Millisecond
		queries   = 3
	)
	l := New(Config{MaxInFlight: 1})

	model := Completer(llm.CompleterFunc(func(ctx context.Context, _ string) (string, error) {
		if err := slowCall(ctx, callTime); err != nil {
			return "", err
		}
		return `{"relevant_test_types": ["P"]}`, nil
	}), l)
	classifier, err := classify.New(classify.Config{Completer: model, Timeout: stageTime})
	if err != nil {
		t.Fatalf("classify.New: %v", err)
	}

	items := []catalog.Item{{ID: "a", Name: "A", Embedding: []float32{1, 0}}}
	idx, err := rag.BuildFlatIndex(items)
	if err != nil {
		t.Fatalf("BuildFlatIndex: %v", err)
	}
	store, err := catalog.NewStore(items)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	retriever, err := rag.NewRetriever(Embedder(slowEmbedder{delay: callTime}, l), idx, store,
		rag.RetrieverConfig{EmbedTimeout: stageTime})
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	codes := make([][]catalog.Code, queries)
	retrieveErrs := make([]error, queries)
	var wg sync.WaitGroup
	for i := range queries {
		wg.Add(2)
		go func() {
			defer wg.Done()
			codes[i] = classifier.Classify(context.Background(), "team personality fit")
		}()
		go func() {
			defer wg.Done()
			_, retrieveErrs[i] = retriever.Retrieve(context.Background(), "java developer", 1)
		}()
	}
	wg.Wait()

	for i := range queries {
		if !slices.Equal(codes[i], []catalog.Code{catalog.CodePersonality}) {
			t.Errorf("query %d: Classify = %v, want [P]", i, codes[i])
		}
		if retrieveErrs[i] != nil {
			t.Errorf("query %d: Retrieve: %v", i, retrieveErrs[i])
		}
	}
}

package classify

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/assessrec-go/internal/catalog"
	"github.com/54b3r/assessrec-go/internal/failure"
	"github.com/54b3r/assessrec-go/internal/llm"
)

// fakeRecorder counts recorded failure kinds.
type fakeRecorder struct {
	mu    sync.Mutex
	kinds []failure.Kind
}

func (r *fakeRecorder) Record(k failure.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, k)
}

func reply(s string, err error) llm.Completer {
	return llm.CompleterFunc(func(context.Context, string) (string, error) { return s, err })
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		reply      string
		err        error
		want       []catalog.Code
		wantFailed bool
	}{
		{"object", `{"relevant_test_types": ["P", "K"]}`, nil, []catalog.Code{catalog.CodeKnowledge, catalog.CodePersonality}, false},
		{"bare list", `["A"]`, nil, []catalog.Code{catalog.CodeAbility}, false},
		{"labels normalized", `{"relevant_test_types": ["Personality & Behavior", "simulation"]}`, nil, []catalog.Code{catalog.CodePersonality, catalog.CodeSimulation}, false},
		{"prose wrapped", "The answer is {\"relevant_test_types\": [\"C\"]}.", nil, []catalog.Code{catalog.CodeCompetency}, false},
		{"duplicates collapse", `["K","k","Knowledge"]`, nil, []catalog.Code{catalog.CodeKnowledge}, false},
		{"unknown only", `["quantum widget"]`, nil, Default(), true},
		{"empty list", `{"relevant_test_types": []}`, nil, Default(), true},
		{"garbage", "no idea", nil, Default(), true},
		{"wrong shape", `{"relevant_test_types": "K"}`, nil, Default(), true},
		{"model error", "", errors.New("503"), Default(), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := &fakeRecorder{}
			c, err := New(Config{Completer: reply(tc.reply, tc.err), Recorder: rec})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			got := c.Classify(context.Background(), "Java developer who collaborates with business teams")
			if !slices.Equal(got, tc.want) {
				t.Errorf("Classify = %v, want %v", got, tc.want)
			}
			failed := len(rec.kinds) == 1 && rec.kinds[0] == failure.ClassificationFailure
			if failed != tc.wantFailed {
				t.Errorf("recorded %v, wantFailed %v", rec.kinds, tc.wantFailed)
			}
		})
	}
}

func TestClassify_Timeout(t *testing.T) {
	t.Parallel()

	slow := llm.CompleterFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	c, err := New(Config{Completer: slow, Timeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Classify(context.Background(), "x"); !slices.Equal(got, Default()) {
		t.Errorf("Classify = %v, want default", got)
	}
}

func TestClassify_PromptCarriesQuery(t *testing.T) {
	t.Parallel()

	var prompt string
	c, _ := New(Config{Completer: llm.CompleterFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return `["K"]`, nil
	})})
	c.Classify(context.Background(), "senior data analyst")
	if !strings.Contains(prompt, `"""senior data analyst"""`) {
		t.Errorf("prompt does not embed query: %q", prompt)
	}
}

func TestNew_RequiresCompleter(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for nil Completer")
	}
}

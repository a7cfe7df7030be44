// Package classify infers which assessment categories a hiring query calls
// for. The result only steers the reranker's coverage patch; it never filters
// candidates, so every failure degrades to a fixed default instead of an error.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/assessrec-go/internal/catalog"
	"github.com/54b3r/assessrec-go/internal/failure"
	"github.com/54b3r/assessrec-go/internal/llm"
	"github.com/54b3r/assessrec-go/internal/logging"
)

// DefaultTimeout bounds a single classification call.
const DefaultTimeout = 15 * time.Second

// errNoCodes is reported when the model answered but named no known category.
var errNoCodes = errors.New("classify: no recognised category codes")

// Default is the domain set used whenever classification fails.
func Default() []catalog.Code {
	return []catalog.Code{catalog.CodeKnowledge}
}

const promptTemplate = `You are an expert in HR assessment taxonomy.

Given the following hiring query, identify which assessment categories are relevant.

Category codes:
- A = Ability/Aptitude
- B = Biodata/Situational
- C = Competency
- D = Development/360
- E = Assessment/Exercise
- K = Knowledge/Skills
- P = Personality/Behavior
- S = Simulation

Query:
"""%s"""

Return ONLY valid JSON like:
{"relevant_test_types": ["K", "P"]}`

// Config holds the Classifier dependencies.
type Config struct {
	// Completer is the model endpoint. Required.
	Completer llm.Completer
	// Timeout bounds each call. Defaults to DefaultTimeout if zero.
	Timeout time.Duration
	// Recorder counts failures. Optional.
	Recorder failure.Recorder
}

// Classifier maps query text to a set of category codes.
type Classifier struct {
	completer llm.Completer
	timeout   time.Duration
	recorder  failure.Recorder
}

// New constructs a Classifier.
func New(cfg Config) (*Classifier, error) {
	if cfg.Completer == nil {
		return nil, fmt.Errorf("classify: Completer must not be nil")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = failure.NopRecorder{}
	}
	return &Classifier{completer: cfg.Completer, timeout: timeout, recorder: rec}, nil
}

// Classify returns the sorted, deduplicated category codes relevant to text.
// It never fails: any model error, timeout, unparseable answer or empty
// result yields Default().
func (c *Classifier) Classify(ctx context.Context, text string) []catalog.Code {
	raw, err := llm.CompleteWithin(ctx, c.completer, fmt.Sprintf(promptTemplate, text), c.timeout)
	if err != nil {
		return c.fallback(ctx, fmt.Errorf("classify: model call failed: %w", err))
	}

	labels, err := parseLabels(raw)
	if err != nil {
		return c.fallback(ctx, err)
	}

	codes := make([]catalog.Code, 0, len(labels))
	for _, l := range labels {
		if code := catalog.Normalize(l); code != catalog.CodeUnknown {
			codes = append(codes, code)
		}
	}
	codes = catalog.SortCodes(codes)
	if len(codes) == 0 {
		return c.fallback(ctx, errNoCodes)
	}

	logging.FromContext(ctx).Debug("classify: detected domains", slog.Any("codes", codes))
	return codes
}

func (c *Classifier) fallback(ctx context.Context, err error) []catalog.Code {
	failure.Report(ctx, c.recorder, failure.ClassificationFailure, err)
	return Default()
}

// parseLabels accepts {"relevant_test_types": [...]} or a bare JSON array.
func parseLabels(raw string) ([]string, error) {
	res := llm.Decode[json.RawMessage](raw)
	if !res.Ok() {
		return nil, fmt.Errorf("classify: %w", res.Err)
	}
	body := strings.TrimSpace(string(res.Value))

	var list []string
	if err := json.Unmarshal([]byte(body), &list); err == nil {
		return list, nil
	}
	var obj struct {
		Types []string `json:"relevant_test_types"`
	}
	if err := json.Unmarshal([]byte(body), &obj); err == nil {
		return obj.Types, nil
	}
	return nil, fmt.Errorf("classify: %w: unexpected shape", llm.ErrParse)
}

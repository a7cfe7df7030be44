// Package hints infers soft hiring hints (job level, maximum assessment
// duration) from a query. Hints are prompt context for the reranker only;
// they never filter candidates.
package hints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/assessrec-go/internal/catalog"
	"github.com/54b3r/assessrec-go/internal/failure"
	"github.com/54b3r/assessrec-go/internal/llm"
	"github.com/54b3r/assessrec-go/internal/logging"
)

// DefaultTimeout bounds a single hint inference call.
const DefaultTimeout = 15 * time.Second

// maxMinutes is the longest duration hint accepted; larger answers are noise.
const maxMinutes = 24 * 60

var errNoHints = errors.New("hints: response named neither job level nor duration")

// Query is one recommendation request with its inferred context.
type Query struct {
	// Text is the job description or free-text query.
	Text string
	// JobLevel is the inferred seniority, e.g. "graduate". Nil when unknown.
	JobLevel *string
	// MaxDuration is the inferred assessment time budget in minutes. Nil when unknown.
	MaxDuration *int
	// DetectedDomains are the category codes the classifier found relevant.
	DetectedDomains []catalog.Code
}

// Hints is the inference result. Either field may be nil.
type Hints struct {
	JobLevel    *string
	MaxDuration *int
}

const promptTemplate = `You are an expert at analyzing job descriptions and hiring requirements.

For the following job description or query, detect:
1. Job level (e.g., graduate, junior, mid-level, senior)
2. Recommended maximum assessment duration in minutes

Return JSON ONLY, like:
{"job_level": "graduate", "max_duration": 45}

Job description / query:
"""%s"""`

// Config holds the Extractor dependencies.
type Config struct {
	// Completer is the model endpoint. Required.
	Completer llm.Completer
	// Timeout bounds each call. Defaults to DefaultTimeout if zero.
	Timeout time.Duration
	// Recorder counts failures. Optional.
	Recorder failure.Recorder
}

// Extractor infers Hints with a language model.
type Extractor struct {
	completer llm.Completer
	timeout   time.Duration
	recorder  failure.Recorder
}

// New constructs an Extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.Completer == nil {
		return nil, fmt.Errorf("hints: Completer must not be nil")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = failure.NopRecorder{}
	}
	return &Extractor{completer: cfg.Completer, timeout: timeout, recorder: rec}, nil
}

// Extract infers hints for text. Any failure yields empty Hints; it never
// returns an error.
func (e *Extractor) Extract(ctx context.Context, text string) Hints {
	raw, err := llm.CompleteWithin(ctx, e.completer, fmt.Sprintf(promptTemplate, text), e.timeout)
	if err != nil {
		failure.Report(ctx, e.recorder, failure.HintFailure, fmt.Errorf("hints: model call failed: %w", err))
		return Hints{}
	}

	h, err := parse(raw)
	if err != nil {
		failure.Report(ctx, e.recorder, failure.HintFailure, err)
		return Hints{}
	}
	logging.FromContext(ctx).Debug("hints: inferred",
		slog.Any("job_level", deref(h.JobLevel)),
		slog.Any("max_duration", deref(h.MaxDuration)),
	)
	return h
}

// wireHints tolerates max_duration as a number or a digit string.
type wireHints struct {
	JobLevel    *string         `json:"job_level"`
	MaxDuration json.RawMessage `json:"max_duration"`
}

func parse(raw string) (Hints, error) {
	res := llm.Decode[wireHints](raw)
	if !res.Ok() {
		return Hints{}, fmt.Errorf("hints: %w", res.Err)
	}
	var h Hints
	if lvl := res.Value.JobLevel; lvl != nil && strings.TrimSpace(*lvl) != "" {
		s := strings.TrimSpace(*lvl)
		h.JobLevel = &s
	}
	h.MaxDuration = parseMinutes(res.Value.MaxDuration)
	if h.JobLevel == nil && h.MaxDuration == nil {
		return Hints{}, errNoHints
	}
	return h, nil
}

// parseMinutes accepts 45, 45.0 or "45". Anything else, including values
// outside 1..maxMinutes, is treated as unknown.
func parseMinutes(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n < 1 || n > maxMinutes {
			return nil
		}
		v := int(n)
		return &v
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && v > 0 && v <= maxMinutes {
			return &v
		}
	}
	return nil
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

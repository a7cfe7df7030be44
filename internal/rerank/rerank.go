// Package rerank turns retrieved candidates into the final recommendation
// list. A language model picks and scores candidates; deterministic patches
// then guarantee domain coverage and a minimum length, and overflow is
// trimmed. When the model path is unusable the similarity ranking is used
// instead.
package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/assessrec-go/internal/budget"
	"github.com/54b3r/assessrec-go/internal/catalog"
	"github.com/54b3r/assessrec-go/internal/failure"
	"github.com/54b3r/assessrec-go/internal/hints"
	"github.com/54b3r/assessrec-go/internal/llm"
	"github.com/54b3r/assessrec-go/internal/logging"
	"github.com/54b3r/assessrec-go/internal/rag"
)

// DefaultTimeout bounds a single rerank call.
const DefaultTimeout = 30 * time.Second

var (
	errEmptyRanking = errors.New("rerank: model returned no recommendations")
	errNoMatches    = errors.New("rerank: no recommendation matched a candidate")
)

// Config holds the Reranker dependencies.
type Config struct {
	// Completer is the model endpoint. Required.
	Completer llm.Completer
	// Timeout bounds each call. Defaults to DefaultTimeout if zero.
	Timeout time.Duration
	// MaxPromptTokens is the estimated prompt budget. Defaults to
	// budget.DefaultMaxPromptTokens if zero.
	MaxPromptTokens int
	// Recorder counts failures. Optional.
	Recorder failure.Recorder
}

// Reranker orders candidates with a language model and a deterministic
// fallback.
type Reranker struct {
	completer       llm.Completer
	timeout         time.Duration
	maxPromptTokens int
	recorder        failure.Recorder
}

// New constructs a Reranker.
func New(cfg Config) (*Reranker, error) {
	if cfg.Completer == nil {
		return nil, fmt.Errorf("rerank: Completer must not be nil")
	}
	r := &Reranker{
		completer:       cfg.Completer,
		timeout:         cfg.Timeout,
		maxPromptTokens: cfg.MaxPromptTokens,
		recorder:        cfg.Recorder,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.maxPromptTokens <= 0 {
		r.maxPromptTokens = budget.DefaultMaxPromptTokens
	}
	if r.recorder == nil {
		r.recorder = failure.NopRecorder{}
	}
	return r, nil
}

// Rerank returns between min(minRecs, len(cands)) and maxRecs entries sorted
// by descending relevance. cands must be in retrieval order. It never fails:
// a model error, timeout, unparseable or empty answer, or an answer matching
// no candidate switches to the similarity fallback.
func (r *Reranker) Rerank(ctx context.Context, q hints.Query, cands []rag.Candidate, minRecs, maxRecs int) []Entry {
	if len(cands) == 0 || maxRecs < 1 {
		return nil
	}
	minRecs = max(0, min(minRecs, len(cands), maxRecs))
	log := logging.FromContext(ctx)

	prompt, shown := buildPrompt(q, cands, maxRecs, r.maxPromptTokens)
	if shown < len(cands) {
		log.Warn("budget: dropped candidates to fit rerank prompt",
			slog.Int("dropped", len(cands)-shown),
			slog.Int("retained", shown),
			slog.Int("max_tokens", r.maxPromptTokens),
		)
	}

	raw, err := llm.CompleteWithin(ctx, r.completer, prompt, r.timeout)
	if err != nil {
		return r.fallback(ctx, cands, maxRecs, fmt.Errorf("rerank: model call failed: %w", err))
	}

	picks, err := parsePicks(raw)
	if err != nil {
		return r.fallback(ctx, cands, maxRecs, err)
	}

	entries := matchPicks(picks, cands[:shown])
	if len(entries) == 0 {
		return r.fallback(ctx, cands, maxRecs, errNoMatches)
	}
	matched := len(entries)

	entries = patch(entries, cands, q.DetectedDomains, minRecs, maxRecs)
	log.Debug("rerank: assembled",
		slog.Int("picks", len(picks)),
		slog.Int("matched", matched),
		slog.Int("returned", len(entries)),
	)
	return entries
}

func (r *Reranker) fallback(ctx context.Context, cands []rag.Candidate, maxRecs int, err error) []Entry {
	failure.Report(ctx, r.recorder, failure.RerankParseFailure, err,
		slog.Int("candidates", len(cands)))
	return Fallback(cands, maxRecs)
}

// Fallback ranks candidates by raw similarity alone: the top maxRecs distinct
// names, each scored with SimilarityScore. No patches are applied.
func Fallback(cands []rag.Candidate, maxRecs int) []Entry {
	byScore := slices.Clone(cands)
	rag.SortCandidates(byScore)

	seen := make(map[string]bool, len(byScore))
	out := make([]Entry, 0, min(maxRecs, len(byScore)))
	for _, c := range byScore {
		if len(out) >= maxRecs {
			break
		}
		key := catalog.NameKey(c.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, newEntry(c, SimilarityScore(c.Score), FallbackReason, TierFallback))
	}
	SortEntries(out)
	return out
}

// modelPick is one element of the model's ranked answer.
type modelPick struct {
	Name        string          `json:"assessment_name"`
	URL         string          `json:"url"`
	ShortReason string          `json:"short_reason"`
	Reason      string          `json:"reason"`
	Score       json.RawMessage `json:"relevance_score"`
}

// pickList decodes either a bare array or {"recommendations": [...]}.
type pickList []modelPick

func (p *pickList) UnmarshalJSON(b []byte) error {
	var list []modelPick
	if err := json.Unmarshal(b, &list); err == nil {
		*p = list
		return nil
	}
	var wrapped struct {
		Recommendations *[]modelPick `json:"recommendations"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	if wrapped.Recommendations == nil {
		return errors.New("rerank: object has no recommendations")
	}
	*p = *wrapped.Recommendations
	return nil
}

func parsePicks(raw string) ([]modelPick, error) {
	res := llm.Decode[pickList](raw)
	if !res.Ok() {
		return nil, fmt.Errorf("rerank: %w", res.Err)
	}
	if len(res.Value) == 0 {
		return nil, errEmptyRanking
	}
	return res.Value, nil
}

// parseScore accepts a JSON number or numeric string.
func parseScore(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// matchPicks resolves picks to candidates by case-insensitive trimmed name.
// Unknown names are discarded and each name is kept once, in pick order.
// A pick without a usable score takes the candidate's similarity score.
func matchPicks(picks []modelPick, cands []rag.Candidate) []Entry {
	byName := make(map[string]rag.Candidate, len(cands))
	for _, c := range cands {
		key := catalog.NameKey(c.Name)
		if _, dup := byName[key]; !dup {
			byName[key] = c
		}
	}

	seen := make(map[string]bool, len(picks))
	out := make([]Entry, 0, len(picks))
	for _, p := range picks {
		key := catalog.NameKey(p.Name)
		if key == "" || seen[key] {
			continue
		}
		c, ok := byName[key]
		if !ok {
			continue
		}
		seen[key] = true

		score, ok := parseScore(p.Score)
		if !ok {
			score = SimilarityScore(c.Score)
		}
		reason := strings.TrimSpace(p.ShortReason)
		if reason == "" {
			reason = strings.TrimSpace(p.Reason)
		}
		out = append(out, newEntry(c, score, reason, TierModel))
	}
	return out
}

// patch applies the coverage patch, the minimum-count patch and overflow
// trimming to matched entries, then sorts the result.
//
// Coverage: each detected domain absent from the list gets the first
// candidate in retrieval order carrying it. Completeness: the list is
// topped up to minRecs from the highest raw scores. Overflow: the
// lowest-scored non-coverage entry is removed, latest first on ties, until
// the list fits maxRecs. Coverage entries are never removed and are capped at
// maxRecs.
func patch(entries []Entry, cands []rag.Candidate, domains []catalog.Code, minRecs, maxRecs int) []Entry {
	included := make(map[string]bool, len(cands))
	covered := make(map[catalog.Code]bool)
	include := func(e Entry) {
		included[catalog.NameKey(e.Name)] = true
		for _, c := range e.Codes {
			covered[c] = true
		}
	}
	for _, e := range entries {
		include(e)
	}

	coverage := 0
	for _, d := range domains {
		if covered[d] || coverage >= maxRecs {
			continue
		}
		for _, c := range cands {
			if !c.HasCode(d) || included[catalog.NameKey(c.Name)] {
				continue
			}
			e := newEntry(c, CoverageScore, CoverageReason, TierCoverage)
			entries = append(entries, e)
			include(e)
			coverage++
			break
		}
	}

	if len(entries) < minRecs {
		byScore := slices.Clone(cands)
		rag.SortCandidates(byScore)
		for _, c := range byScore {
			if len(entries) >= minRecs {
				break
			}
			if included[catalog.NameKey(c.Name)] {
				continue
			}
			e := newEntry(c, CompletenessScore, CompletenessReason, TierCompleteness)
			entries = append(entries, e)
			include(e)
		}
	}

	for len(entries) > maxRecs {
		drop := -1
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Tier == TierCoverage {
				continue
			}
			if drop < 0 || entries[i].RelevanceScore < entries[drop].RelevanceScore {
				drop = i
			}
		}
		if drop < 0 {
			break
		}
		entries = slices.Delete(entries, drop, drop+1)
	}

	SortEntries(entries)
	return entries
}

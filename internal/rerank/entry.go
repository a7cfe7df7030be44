package rerank

import (
	"math"
	"slices"

	"github.com/54b3r/assessrec-go/internal/catalog"
	"github.com/54b3r/assessrec-go/internal/rag"
)

// Tier records which stage produced an entry. Synthetic tiers rank below the
// model's own picks: coverage > completeness > fallback.
type Tier string

const (
	// TierModel entries were selected and scored by the rerank model.
	TierModel Tier = "model"
	// TierCoverage entries were added so a detected domain is represented.
	TierCoverage Tier = "coverage"
	// TierCompleteness entries were added to reach the minimum list length.
	TierCompleteness Tier = "completeness"
	// TierFallback entries come from similarity ranking alone.
	TierFallback Tier = "fallback"
)

// Fixed scores and reasons for synthetic entries.
const (
	CoverageScore      = 0.5
	CompletenessScore  = 0.4
	CoverageReason     = "Added for domain coverage."
	CompletenessReason = "Added for list completeness."
	FallbackReason     = "Based on embedding similarity (fallback)."
)

// Entry is one recommendation returned to the caller.
type Entry struct {
	ItemID          string         `json:"-"`
	Name            string         `json:"name"`
	URL             string         `json:"url"`
	Description     string         `json:"description"`
	DurationMinutes *int           `json:"duration"`
	JobLevels       string         `json:"job_levels"`
	RemoteSupport   bool           `json:"remote_support"`
	AdaptiveSupport bool           `json:"adaptive_support"`
	Codes           []catalog.Code `json:"test_type"`
	RelevanceScore  float64        `json:"relevance_score"`
	Reason          string         `json:"reason"`
	Tier            Tier           `json:"tier"`
}

func newEntry(c rag.Candidate, score float64, reason string, tier Tier) Entry {
	return Entry{
		ItemID:          c.ID,
		Name:            c.Name,
		URL:             c.URL,
		Description:     c.Description,
		DurationMinutes: c.DurationMinutes,
		JobLevels:       c.JobLevels,
		RemoteSupport:   c.RemoteSupport,
		AdaptiveSupport: c.AdaptiveSupport,
		Codes:           c.Codes,
		RelevanceScore:  Clamp01(score),
		Reason:          reason,
		Tier:            tier,
	}
}

// Clamp01 limits v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// SimilarityScore remaps a raw cosine in [-1, 1] onto [0, 1], rounded to
// three decimals so equal inputs always render identically.
func SimilarityScore(raw float32) float64 {
	v := Clamp01((float64(raw) + 1) / 2)
	return math.Round(v*1000) / 1000
}

// SortEntries orders by descending relevance; ties keep assembly order.
func SortEntries(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		switch {
		case a.RelevanceScore > b.RelevanceScore:
			return -1
		case a.RelevanceScore < b.RelevanceScore:
			return 1
		default:
			return 0
		}
	})
}

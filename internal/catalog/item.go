// Package catalog holds the assessment catalog: the Item model, the category
// code taxonomy and the read-only in-memory Store the recommender looks items
// up in. A Store is built once at startup and never mutated afterwards, so it
// can be shared across concurrent queries without locking.
package catalog

import (
	"slices"
	"strings"
)

// Code is a canonical assessment category code.
type Code string

const (
	// CodeAbility covers ability and aptitude tests.
	CodeAbility Code = "A"
	// CodeBiodata covers biodata and situational judgement tests.
	CodeBiodata Code = "B"
	// CodeCompetency covers role-specific behavioural competencies.
	CodeCompetency Code = "C"
	// CodeDevelopment covers development and 360 feedback instruments.
	CodeDevelopment Code = "D"
	// CodeExercise covers assessment exercises such as role plays.
	CodeExercise Code = "E"
	// CodeKnowledge covers knowledge and skills tests.
	CodeKnowledge Code = "K"
	// CodePersonality covers personality and behaviour questionnaires.
	CodePersonality Code = "P"
	// CodeSimulation covers job simulations.
	CodeSimulation Code = "S"
	// CodeUnknown is assigned when a label matches no known category.
	CodeUnknown Code = "UNK"
)

// CanonicalCodes lists the eight known codes in taxonomy order.
var CanonicalCodes = []Code{
	CodeAbility, CodeBiodata, CodeCompetency, CodeDevelopment,
	CodeExercise, CodeKnowledge, CodePersonality, CodeSimulation,
}

// Valid reports whether c is one of the nine codes (including UNK).
func (c Code) Valid() bool {
	return c == CodeUnknown || slices.Contains(CanonicalCodes, c)
}

// Item is one catalog entry. Items are immutable once the catalog is built.
type Item struct {
	// ID is the opaque catalog key.
	ID string `json:"id"`
	// Name is the assessment display name.
	Name string `json:"name"`
	// URL is the canonical product page.
	URL string `json:"url"`
	// Codes are the category codes, sorted and deduplicated.
	Codes []Code `json:"category_codes"`
	// DurationMinutes is the approximate completion time, nil when unknown.
	DurationMinutes *int `json:"duration_minutes,omitempty"`
	// JobLevels is the free-text list of suitable job levels.
	JobLevels string `json:"job_levels"`
	// RemoteSupport reports whether the test can be taken remotely.
	RemoteSupport bool `json:"remote_support"`
	// AdaptiveSupport reports whether the test is adaptive (IRT).
	AdaptiveSupport bool `json:"adaptive_support"`
	// Description is the free-text description used for embedding and prompts.
	Description string `json:"description"`
	// Embedding is the precomputed unit-normalized document vector.
	Embedding []float32 `json:"-"`
}

// HasCode reports whether the item is tagged with c.
func (it Item) HasCode(c Code) bool {
	return slices.Contains(it.Codes, c)
}

// CodeString renders the item's codes the way the catalog export does ("K, P").
func (it Item) CodeString() string {
	parts := make([]string, len(it.Codes))
	for i, c := range it.Codes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

// NameKey is the normalized name used to match and deduplicate items.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SortCodes returns codes deduplicated and ordered by taxonomy, with UNK last.
func SortCodes(codes []Code) []Code {
	out := make([]Code, 0, len(codes))
	for _, c := range CanonicalCodes {
		if slices.Contains(codes, c) {
			out = append(out, c)
		}
	}
	if slices.Contains(codes, CodeUnknown) {
		out = append(out, CodeUnknown)
	}
	return out
}

// Package budget estimates prompt token counts and trims ranked prompt
// sections to fit. Because the model backends use different tokenizers, it
// uses a conservative character heuristic: 1 token ≈ 4 characters.
package budget

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxPromptTokens is the default input budget for a rerank prompt.
	// It fits 8k-context models while leaving room for the ranked answer.
	DefaultMaxPromptTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateAll returns the summed estimate of parts.
func EstimateAll(parts []string) int {
	total := 0
	for _, p := range parts {
		total += Estimate(p)
	}
	return total
}

// FitRanked returns how many leading parts fit in maxTokens alongside fixed.
// parts are ordered best first, so trimming drops from the tail. At least
// minKeep parts are kept (capped at len(parts)) even when they overflow; the
// caller decides whether to warn.
func FitRanked(fixed string, parts []string, maxTokens, minKeep int) int {
	minKeep = max(0, min(minKeep, len(parts)))
	used := Estimate(fixed)
	n := 0
	for _, p := range parts {
		cost := Estimate(p)
		if used+cost > maxTokens && n >= minKeep {
			break
		}
		used += cost
		n++
	}
	return n
}

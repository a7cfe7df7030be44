package catalog

import (
	"regexp"
	"strconv"
	"strings"
)

// keyword maps a lowercase label fragment to its category code.
type keyword struct {
	word string
	code Code
}

// keywords is the label taxonomy. Order matters only to break ties between
// matches of equal length.
var keywords = []keyword{
	{"ability", CodeAbility},
	{"aptitude", CodeAbility},
	{"biodata", CodeBiodata},
	{"situational", CodeBiodata},
	{"competency", CodeCompetency},
	{"competencies", CodeCompetency},
	{"development", CodeDevelopment},
	{"360", CodeDevelopment},
	{"assessment", CodeExercise},
	{"exercise", CodeExercise},
	{"knowledge", CodeKnowledge},
	{"skills", CodeKnowledge},
	{"personality", CodePersonality},
	{"behavior", CodePersonality},
	{"behaviour", CodePersonality},
	{"simulation", CodeSimulation},
}

// Normalize maps a free-text category label to exactly one code. Matching is
// case-insensitive; a bare canonical code maps to itself, otherwise the
// longest keyword contained in the label wins and UNK is returned when none
// match. Normalize never fails.
func Normalize(label string) Code {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return CodeUnknown
	}
	if c := Code(strings.ToUpper(l)); c.Valid() {
		return c
	}

	best := CodeUnknown
	bestLen := 0
	for _, k := range keywords {
		if len(k.word) > bestLen && strings.Contains(l, k.word) {
			best = k.code
			bestLen = len(k.word)
		}
	}
	return best
}

// codeSeparators splits a multi-code label such as "K, P" or "['A','E']".
var codeSeparators = strings.NewReplacer(
	";", ",", "|", ",", "/", ",",
	"[", "", "]", "", "'", "", `"`, "",
)

// ParseCodes splits a catalog test_type field into its category codes. The
// result is sorted in taxonomy order; UNK is kept only when nothing else
// matched. An empty field yields no codes.
func ParseCodes(raw string) []Code {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var codes []Code
	for _, part := range strings.Split(codeSeparators.Replace(raw), ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		codes = append(codes, Normalize(part))
	}
	sorted := SortCodes(codes)
	if len(sorted) > 1 && sorted[len(sorted)-1] == CodeUnknown {
		sorted = sorted[:len(sorted)-1]
	}
	return sorted
}

var firstNumber = regexp.MustCompile(`\d+`)

// ParseDuration extracts the minute count from a free-text length field such
// as "Approximate Completion Time in minutes = 30". It returns nil when the
// text carries no number.
func ParseDuration(text string) *int {
	m := firstNumber.FindString(text)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

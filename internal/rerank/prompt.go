package rerank

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/54b3r/assessrec-go/internal/budget"
	"github.com/54b3r/assessrec-go/internal/catalog"
	"github.com/54b3r/assessrec-go/internal/hints"
	"github.com/54b3r/assessrec-go/internal/rag"
)

// descriptionLimit caps each candidate description in the prompt, in runes.
const descriptionLimit = 300

const promptHeader = `You are an assessment recommender.
Given a job description and candidate assessments, select and rank the top %d relevant ones.
Only choose from the candidates listed below and copy assessment_name exactly.

Return ONLY a valid JSON array like:
[
  {
    "assessment_name": "string",
    "url": "string",
    "short_reason": "short justification",
    "relevance_score": 0.0
  }
]
relevance_score must be between 0.0 and 1.0.

JOB DESCRIPTION:
%s
%s
ASSESSMENT CANDIDATES:
`

// projection is the compact candidate view sent to the model.
type projection struct {
	Name        string `json:"assessment_name"`
	URL         string `json:"url"`
	TestType    string `json:"test_type"`
	Description string `json:"description"`
	Duration    *int   `json:"duration_minutes,omitempty"`
	JobLevels   string `json:"job_levels"`
	Remote      bool   `json:"remote_support"`
	Adaptive    bool   `json:"adaptive_support"`
}

func project(c rag.Candidate) projection {
	return projection{
		Name:        c.Name,
		URL:         c.URL,
		TestType:    c.CodeString(),
		Description: truncateRunes(c.Description, descriptionLimit),
		Duration:    c.DurationMinutes,
		JobLevels:   c.JobLevels,
		Remote:      c.RemoteSupport,
		Adaptive:    c.AdaptiveSupport,
	}
}

// buildPrompt renders the rerank prompt and reports how many candidates fit
// the token budget. Candidates are in retrieval order, so the lowest ranked
// are dropped first.
func buildPrompt(q hints.Query, cands []rag.Candidate, maxRecs, maxTokens int) (string, int) {
	header := fmt.Sprintf(promptHeader, maxRecs, q.Text, contextLines(q))

	lines := make([]string, len(cands))
	for i, c := range cands {
		// projection holds only strings, ints and bools; Marshal cannot fail.
		b, _ := json.Marshal(project(c))
		lines[i] = "  " + string(b)
	}

	n := budget.FitRanked(header, lines, maxTokens, min(len(lines), maxRecs))
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("[\n")
	sb.WriteString(strings.Join(lines[:n], ",\n"))
	sb.WriteString("\n]\n")
	return sb.String(), n
}

// contextLines renders the soft hints. Empty when nothing was inferred.
func contextLines(q hints.Query) string {
	var sb strings.Builder
	if q.JobLevel != nil {
		fmt.Fprintf(&sb, "\nPreferred job level: %s", *q.JobLevel)
	}
	if q.MaxDuration != nil {
		fmt.Fprintf(&sb, "\nPreferred maximum duration: %d minutes", *q.MaxDuration)
	}
	if len(q.DetectedDomains) > 0 {
		fmt.Fprintf(&sb, "\nRelevant test types: %s", joinCodes(q.DetectedDomains))
	}
	if sb.Len() == 0 {
		return ""
	}
	sb.WriteString("\nTreat these as preferences, not hard filters.\n")
	return sb.String()
}

func joinCodes(codes []catalog.Code) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package batch

import (
	"strings"
)

// DefaultKs are the cut-offs reported by Evaluate.
var DefaultKs = []int{1, 3, 5, 10}

// NormalizeURL makes labelled and predicted URLs comparable: trimmed,
// lower-cased, without a trailing slash.
func NormalizeURL(u string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(u)), "/")
}

// RecallAtK is |top k of recommended ∩ relevant| / |relevant|, counting each
// URL once. It is 0 when relevant is empty.
func RecallAtK(recommended, relevant []string, k int) float64 {
	want := make(map[string]bool, len(relevant))
	for _, u := range relevant {
		if n := NormalizeURL(u); n != "" {
			want[n] = true
		}
	}
	if len(want) == 0 || k <= 0 {
		return 0
	}
	if len(recommended) > k {
		recommended = recommended[:k]
	}
	hits := make(map[string]bool, len(recommended))
	for _, u := range recommended {
		if n := NormalizeURL(u); want[n] {
			hits[n] = true
		}
	}
	return float64(len(hits)) / float64(len(want))
}

// Report is the aggregate evaluation over a labelled set.
type Report struct {
	// Queries is the number of labelled cases.
	Queries int `json:"queries"`
	// Failed is the number of predictions that carried an error.
	Failed int `json:"failed"`
	// MeanRecall maps K to mean Recall@K across all cases.
	MeanRecall map[int]float64 `json:"mean_recall"`
	// PerQuery holds Recall@K per case, in input order, for each K.
	PerQuery map[int][]float64 `json:"per_query"`
}

// Evaluate scores preds against cases, matched by query text. A case with no
// prediction scores 0.
func Evaluate(cases []Case, preds []Prediction, ks []int) Report {
	if len(ks) == 0 {
		ks = DefaultKs
	}
	byQuery := make(map[string]Prediction, len(preds))
	for _, p := range preds {
		if _, dup := byQuery[p.Query]; !dup {
			byQuery[p.Query] = p
		}
	}

	rep := Report{
		Queries:    len(cases),
		MeanRecall: make(map[int]float64, len(ks)),
		PerQuery:   make(map[int][]float64, len(ks)),
	}
	for _, p := range preds {
		if p.Err != "" {
			rep.Failed++
		}
	}
	for _, k := range ks {
		scores := make([]float64, len(cases))
		sum := 0.0
		for i, c := range cases {
			if p, ok := byQuery[c.Query]; ok {
				scores[i] = RecallAtK(p.URLs(), c.RelevantURLs, k)
			}
			sum += scores[i]
		}
		rep.PerQuery[k] = scores
		if len(cases) > 0 {
			rep.MeanRecall[k] = sum / float64(len(cases))
		}
	}
	return rep
}

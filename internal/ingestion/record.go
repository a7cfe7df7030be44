package ingestion

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/54b3r/assessrec-go/internal/catalog"
)

// maxRecordBytes caps one JSON line; fact sheets can be long.
const maxRecordBytes = 4 << 20

// Record is one row of the scraped catalog export.
type Record struct {
	ID            string   `json:"id,omitempty"`
	Name          string   `json:"assessment_name" validate:"required"`
	URL           string   `json:"url" validate:"required,url"`
	Description   string   `json:"description"`
	FactSheetText string   `json:"fact_sheet_text"`
	JobLevels     string   `json:"job_levels"`
	Languages     string   `json:"languages"`
	Length        string   `json:"assessment_length"`
	RemoteTesting flexBool `json:"remote_testing"`
	Adaptive      flexBool `json:"adaptive"`
	TestType      string   `json:"test_type"`
}

// flexBool accepts true/false as well as the "Yes"/"No" strings the scrape
// produces.
type flexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("ingestion: expected bool or yes/no, got %s", data)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		*b = true
	case "no", "n", "false", "0", "":
		*b = false
	default:
		return fmt.Errorf("ingestion: expected bool or yes/no, got %q", s)
	}
	return nil
}

// text is the description used for embedding and prompts.
func (r Record) text() string {
	if d := strings.TrimSpace(r.Description); d != "" {
		return d
	}
	return strings.TrimSpace(r.FactSheetText)
}

// ToItem converts r into a catalog item without an embedding. ok is false
// when the record has no descriptive text to embed.
func (r Record) ToItem() (catalog.Item, bool) {
	desc := r.text()
	if desc == "" {
		return catalog.Item{}, false
	}
	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = InferID(r.URL)
	}
	return catalog.Item{
		ID:              id,
		Name:            strings.TrimSpace(r.Name),
		URL:             strings.TrimSpace(r.URL),
		Codes:           catalog.ParseCodes(r.TestType),
		DurationMinutes: catalog.ParseDuration(r.Length),
		JobLevels:       strings.TrimSpace(r.JobLevels),
		RemoteSupport:   bool(r.RemoteTesting),
		AdaptiveSupport: bool(r.Adaptive),
		Description:     desc,
	}, true
}

// DocText is the text embedded for an item.
func DocText(it catalog.Item) string {
	var b strings.Builder
	b.WriteString("Description: ")
	b.WriteString(it.Description)
	b.WriteString("\nSuitable Job Levels: ")
	b.WriteString(it.JobLevels)
	b.WriteString("\nThis assessment measures key skills, behaviors, and knowledge areas relevant to its category.")
	return b.String()
}

// ReadRecords decodes JSON-lines records from r. Blank lines are skipped; a
// malformed or invalid line aborts with its line number.
func ReadRecords(r io.Reader) ([]Record, error) {
	v := validator.New()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)

	var out []Record
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("ingestion: line %d: %w", line, err)
		}
		if err := v.Struct(rec); err != nil {
			return nil, fmt.Errorf("ingestion: line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ingestion: read records: %w", err)
	}
	return out, nil
}

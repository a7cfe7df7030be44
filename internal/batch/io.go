package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxLineBytes bounds a single JSON line; job descriptions can be long.
const maxLineBytes = 1 << 20

var validate = validator.New()

// ReadCases parses JSON lines of Case. Blank lines are skipped.
func ReadCases(r io.Reader) ([]Case, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var cases []Case
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var c Case
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("batch: line %d: %w", line, err)
		}
		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("batch: line %d: %w", line, err)
		}
		cases = append(cases, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("batch: read cases: %w", err)
	}
	return cases, nil
}

// WritePredictions writes one JSON object per prediction.
func WritePredictions(w io.Writer, preds []Prediction) error {
	enc := json.NewEncoder(w)
	for i, p := range preds {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("batch: write prediction %d: %w", i, err)
		}
	}
	return nil
}

package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParse marks model output that holds no decodable JSON of the wanted shape.
var ErrParse = errors.New("llm: unparseable response")

// Result is the outcome of decoding a model response: either Value is set and
// Err is nil, or Err wraps ErrParse.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok reports whether decoding succeeded.
func (r Result[T]) Ok() bool { return r.Err == nil }

// Decode extracts a T from raw model text. It strips markdown fences, tries a
// direct decode, then tries each balanced [...] or {...} substring in order of
// appearance. The first one that decodes wins.
func Decode[T any](raw string) Result[T] {
	text := CleanJSONBlock(raw)
	if text == "" {
		return Result[T]{Err: fmt.Errorf("%w: empty", ErrParse)}
	}

	var v T
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return Result[T]{Value: v}
	}

	for start := 0; start < len(text); start++ {
		if text[start] != '[' && text[start] != '{' {
			continue
		}
		end := balancedEnd(text, start)
		if end < 0 {
			continue
		}
		var candidate T
		if err := json.Unmarshal([]byte(text[start:end+1]), &candidate); err == nil {
			return Result[T]{Value: candidate}
		}
	}
	return Result[T]{Err: fmt.Errorf("%w: no JSON value found", ErrParse)}
}

// balancedEnd returns the index of the bracket closing the one at start, or -1.
// Brackets inside JSON strings are ignored.
func balancedEnd(s string, start int) int {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			stack = append(stack, ']')
		case '{':
			stack = append(stack, '}')
		case ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// CleanJSONBlock removes markdown code fences models wrap JSON in even when
// told not to.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// Drop a language tag such as "json" on the fence line.
	if idx := strings.Index(text, "\n"); idx >= 0 {
		tag := text[:idx]
		if len(tag) < 20 && !strings.ContainsAny(tag, " {[") {
			text = text[idx+1:]
		}
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

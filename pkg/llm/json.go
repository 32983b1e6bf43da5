package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a reply holds no valid JSON value.
var ErrNoJSON = errors.New("no valid JSON found in response")

// leadingThink matches a reasoning block some models emit before answering.
var leadingThink = regexp.MustCompile(`(?s)^\s*<think>.*?</think>`)

// fencedJSON matches a markdown code fence, optionally tagged json.
var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n(.*?)```")

// ExtractJSON returns the JSON object or array an LLM reply carries.
// A leading <think> block is dropped and a fenced code block wins over bare
// text. Otherwise each '{' or '[' is tried in turn until one opens a balanced,
// valid value, so stray brackets in surrounding prose are skipped.
func ExtractJSON(response string) (string, error) {
	cleaned := leadingThink.ReplaceAllString(response, "")

	for _, m := range fencedJSON.FindAllStringSubmatch(cleaned, -1) {
		if body := strings.TrimSpace(m[1]); json.Valid([]byte(body)) {
			return body, nil
		}
	}

	for start := strings.IndexAny(cleaned, "{["); start >= 0; {
		if candidate, ok := balanced(cleaned[start:]); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
		next := strings.IndexAny(cleaned[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}

	return "", ErrNoJSON
}

// balanced returns the prefix of s up to the bracket closing s[0]. Brackets
// inside strings are ignored; mismatched bracket kinds end the scan.
func balanced(s string) (string, bool) {
	var stack []byte
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
